package engine

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Registry maps driver names to factories. It is assembled once at process
// start; drivers are never loaded from code at runtime.
type Registry struct {
	// mu protects the registry state.
	mu sync.RWMutex

	// factories maps driver name to constructor.
	factories map[string]Factory
}

// NewRegistry creates an empty driver registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a driver factory under the given name.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("driver name is required")
	}
	if factory == nil {
		return fmt.Errorf("driver %s: factory is required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("driver %s already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Names returns the registered driver names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load constructs the named drivers in order and resolves conflicts.
//
// A factory returning ErrDriverUnavailable is skipped silently; other
// failures, factory panics and unknown names are logged and skipped. Afterwards each loaded
// driver, in load order, drops the drivers named in its Conflicts list.
// Conflicts declared by a driver that was itself dropped are ignored.
func (r *Registry) Load(names []string, env DriverEnv, logger zerolog.Logger) []Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var loaded []Driver
	for _, name := range names {
		factory, ok := r.factories[name]
		if !ok {
			logger.Error().Err(ErrUnknownDriver).Str("driver", name).Msg("Failed to load driver")
			continue
		}

		denv := env
		denv.Logger = env.Logger.With().Str("driver", name).Logger()
		d, err := construct(factory, denv)
		switch {
		case errors.Is(err, ErrDriverUnavailable):
			logger.Debug().Str("driver", name).Msg("Driver not applicable on this host")
			continue
		case err != nil:
			logger.Error().Err(err).Str("driver", name).Msg("Failed to instantiate driver")
			continue
		case d == nil:
			logger.Error().Str("driver", name).Msg("Driver factory returned nothing")
			continue
		}
		loaded = append(loaded, d)
	}

	loaded = resolveConflicts(loaded, logger)

	loadedNames := driverNames(loaded)
	logger.Info().Strs("drivers", loadedNames).Msg("Loaded tool drivers")

	var deprecated, experimental []string
	for _, d := range loaded {
		if d.Deprecated() {
			deprecated = append(deprecated, d.Name())
		}
		if d.Experimental() {
			experimental = append(experimental, d.Name())
		}
	}
	if len(deprecated) > 0 {
		logger.Warn().Strs("drivers", deprecated).Msg("Loaded deprecated tool drivers")
	}
	if len(experimental) > 0 {
		logger.Warn().Strs("drivers", experimental).Msg("Loaded experimental tool drivers")
	}

	return loaded
}

func resolveConflicts(drivers []Driver, logger zerolog.Logger) []Driver {
	dropped := make(map[string]bool)
	for _, d := range drivers {
		if dropped[d.Name()] {
			continue
		}
		for _, conflict := range d.Conflicts() {
			if conflict == d.Name() || dropped[conflict] {
				continue
			}
			if slices.ContainsFunc(drivers, func(x Driver) bool { return x.Name() == conflict }) {
				dropped[conflict] = true
				logger.Info().
					Str("driver", conflict).
					Str("superseded_by", d.Name()).
					Msg("Dropping conflicting driver")
			}
		}
	}

	kept := make([]Driver, 0, len(drivers))
	for _, d := range drivers {
		if !dropped[d.Name()] {
			kept = append(kept, d)
		}
	}
	return kept
}

func driverNames(drivers []Driver) []string {
	names := make([]string, len(drivers))
	for i, d := range drivers {
		names[i] = d.Name()
	}
	return names
}

// construct runs a factory, turning a panic into an error.
func construct(factory Factory, env DriverEnv) (d Driver, err error) {
	defer func() {
		if r := recover(); r != nil {
			d, err = nil, panicError(r)
		}
	}()
	return factory(env)
}
