package engine

import (
	"fmt"
)

// DecisionMode selects how the operator decision list filters candidates.
type DecisionMode string

const (
	// DecisionNone applies no decision-list filtering.
	DecisionNone DecisionMode = "none"

	// DecisionWhitelist keeps only candidates matching the decision list.
	DecisionWhitelist DecisionMode = "whitelist"

	// DecisionBlacklist drops candidates matching the decision list.
	DecisionBlacklist DecisionMode = "blacklist"
)

// Validate checks if the decision mode is valid. The empty mode means none.
func (m DecisionMode) Validate() error {
	switch m {
	case "", DecisionNone, DecisionWhitelist, DecisionBlacklist:
		return nil
	default:
		return fmt.Errorf("invalid decision mode: %s", m)
	}
}

// RemoveMode selects which extra entries are scheduled for removal.
type RemoveMode string

const (
	// RemoveNone removes nothing.
	RemoveNone RemoveMode = "none"

	// RemoveAll removes every extra entry.
	RemoveAll RemoveMode = "all"

	// RemoveServices removes extra Service entries.
	RemoveServices RemoveMode = "services"

	// RemovePackages removes extra Package entries.
	RemovePackages RemoveMode = "packages"

	// RemoveUsers removes extra POSIXUser and POSIXGroup entries.
	RemoveUsers RemoveMode = "users"
)

// Validate checks if the remove mode is valid. The empty mode means none.
func (m RemoveMode) Validate() error {
	switch m {
	case "", RemoveNone, RemoveAll, RemoveServices, RemovePackages, RemoveUsers:
		return nil
	default:
		return fmt.Errorf("invalid remove mode: %s", m)
	}
}

// Selects reports whether an extra entry falls under this remove mode.
func (m RemoveMode) Selects(e *Entry) bool {
	switch m {
	case RemoveAll:
		return true
	case RemoveServices:
		return e.Kind == KindService
	case RemovePackages:
		return e.Kind == KindPackage
	case RemoveUsers:
		return e.Kind == KindPOSIXUser || e.Kind == KindPOSIXGroup
	default:
		return false
	}
}

// ServiceMode controls how service drivers and actions treat services.
type ServiceMode string

const (
	// ServiceModeDefault manages services normally.
	ServiceModeDefault ServiceMode = "default"

	// ServiceModeDisabled never starts, stops or restarts services.
	ServiceModeDisabled ServiceMode = "disabled"

	// ServiceModeBuild is used while building images: services are stopped
	// instead of restarted and actions marked build=false are deferred.
	ServiceModeBuild ServiceMode = "build"
)

// Validate checks if the service mode is valid. The empty mode means default.
func (m ServiceMode) Validate() error {
	switch m {
	case "", ServiceModeDefault, ServiceModeDisabled, ServiceModeBuild:
		return nil
	default:
		return fmt.Errorf("invalid service mode: %s", m)
	}
}

// Phase names a stage of the pipeline. It is used in logs, errors and
// telemetry.
type Phase string

const (
	PhaseLoad             Phase = "load"
	PhaseInventory        Phase = "inventory"
	PhaseImportant        Phase = "important"
	PhaseDecide           Phase = "decide"
	PhaseInstall          Phase = "install"
	PhaseBundleUpdated    Phase = "bundle_updated"
	PhaseBundleNotUpdated Phase = "bundle_not_updated"
	PhaseRemove           Phase = "remove"
	PhaseReInventory      Phase = "reinventory"
)

// RunState summarizes the final state of the host.
type RunState string

const (
	// RunStateClean means every managed entry verified correct.
	RunStateClean RunState = "clean"

	// RunStateDirty means at least one managed entry is incorrect.
	RunStateDirty RunState = "dirty"
)
