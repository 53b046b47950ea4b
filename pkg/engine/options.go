package engine

import (
	"fmt"
	"time"
)

// Options are the operator settings of one run. They carry values only;
// parsing them from flags or files happens elsewhere.
type Options struct {
	// DryRun computes decisions but changes nothing.
	DryRun bool `json:"dry_run"`

	// Interactive asks the operator before each change.
	Interactive bool `json:"interactive"`

	// FromFile marks a run from a cached document. Decision lists are not
	// applied in this mode.
	FromFile bool `json:"from_file"`

	// DecisionMode and DecisionList filter which incorrect entries may change.
	DecisionMode DecisionMode `json:"decision"`
	DecisionList DecisionList `json:"-"`

	// Bundles restricts the run to the named bundles.
	Bundles []string `json:"bundles,omitempty"`

	// SkipBundles excludes the named bundles.
	SkipBundles []string `json:"skip_bundles,omitempty"`

	// Indep restricts the run to independent bundles when Bundles is empty.
	Indep bool `json:"indep"`

	// SkipIndep excludes independent bundles.
	SkipIndep bool `json:"skip_indep"`

	// Quick applies the bundle selection before Inventory so that unselected
	// bundles are never inventoried. It requires Bundles or SkipBundles.
	Quick bool `json:"quick"`

	// RemoveMode selects which extra entries are removed.
	RemoveMode RemoveMode `json:"remove"`

	// ShowExtra lists extra entries in the final summary.
	ShowExtra bool `json:"show_extra"`

	// Kevlar re-inventories the whole selection after a modifying run.
	Kevlar bool `json:"kevlar"`

	// OnlyImportant stops after the important-entry pre-pass.
	OnlyImportant bool `json:"only_important"`

	// ServiceMode controls service handling in drivers.
	ServiceMode ServiceMode `json:"service_mode"`

	// DriverTimeout bounds each driver call. Zero means no bound.
	DriverTimeout time.Duration `json:"driver_timeout"`
}

// Decision returns the decision mode and list as a Decision.
func (o Options) Decision() Decision {
	return Decision{Mode: o.DecisionMode, List: o.DecisionList}
}

// Validate checks the options for contradictions.
func (o Options) Validate() error {
	if err := o.DecisionMode.Validate(); err != nil {
		return err
	}
	if err := o.RemoveMode.Validate(); err != nil {
		return err
	}
	if err := o.ServiceMode.Validate(); err != nil {
		return err
	}
	if o.Quick && len(o.Bundles) == 0 && len(o.SkipBundles) == 0 {
		return fmt.Errorf("quick mode requires bundles or skip bundles")
	}
	if o.DriverTimeout < 0 {
		return fmt.Errorf("driver timeout must not be negative, got: %s", o.DriverTimeout)
	}
	return nil
}
