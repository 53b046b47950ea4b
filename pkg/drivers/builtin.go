package drivers

import (
	"github.com/openfroyo/agent/pkg/engine"
)

// DefaultOrder is the load order of the built-in drivers. Action comes first
// so that its entries are claimed before any other driver sees them.
var DefaultOrder = []string{ActionName, POSIXName, PackagesName, SystemdName}

// RegisterBuiltins adds the built-in drivers to the registry.
func RegisterBuiltins(r *engine.Registry) error {
	builtins := []struct {
		name    string
		factory engine.Factory
	}{
		{ActionName, NewAction},
		{POSIXName, NewPOSIX},
		{PackagesName, NewPackages},
		{SystemdName, NewSystemd},
	}
	for _, b := range builtins {
		if err := r.Register(b.name, b.factory); err != nil {
			return err
		}
	}
	return nil
}
