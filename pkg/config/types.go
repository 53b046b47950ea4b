package config

import (
	"fmt"
	"strings"
	"time"
)

// Settings are the operator settings of the agent, read from a YAML file and
// overlaid by command line flags.
type Settings struct {
	// DryRun computes decisions but changes nothing.
	DryRun bool `yaml:"dry_run"`

	// Interactive asks before each change.
	Interactive bool `yaml:"interactive"`

	// FromFile marks a run from a cached document.
	FromFile bool `yaml:"from_file"`

	// Decision is the decision mode: whitelist, blacklist or none.
	Decision string `yaml:"decision" validate:"omitempty,oneof=whitelist blacklist none"`

	// DecisionList holds Kind:Name patterns.
	DecisionList []string `yaml:"decision_list" validate:"dive,decision_item"`

	// Bundles restricts the run to the named bundles.
	Bundles []string `yaml:"bundles" validate:"dive,required"`

	// SkipBundles excludes the named bundles.
	SkipBundles []string `yaml:"skip_bundles" validate:"dive,required"`

	Indep       bool `yaml:"indep"`
	SkipIndep   bool `yaml:"skip_indep"`
	BundleQuick bool `yaml:"bundle_quick"`

	// Remove selects which extra entries are removed.
	Remove string `yaml:"remove" validate:"omitempty,oneof=all services packages users none"`

	// ShowExtra lists unmanaged entries in the final summary.
	ShowExtra bool `yaml:"extra"`

	Kevlar        bool `yaml:"kevlar"`
	OnlyImportant bool `yaml:"only_important"`

	// ServiceMode is default, disabled or build.
	ServiceMode string `yaml:"service_mode" validate:"omitempty,oneof=default disabled build"`

	// DriverTimeout bounds each driver call. Zero disables the bound.
	DriverTimeout time.Duration `yaml:"driver_timeout" validate:"gte=0"`

	// Drivers are the tool drivers to load, in order.
	Drivers []string `yaml:"drivers" validate:"required,min=1,dive,required"`

	// PolicyPaths are rego files or directories for the entry gate.
	PolicyPaths []string `yaml:"policy_paths" validate:"dive,required"`

	Store     StoreSettings     `yaml:"store"`
	LockFile  string            `yaml:"lock_file"`
	NoLock    bool              `yaml:"no_lock"`
	Telemetry TelemetrySettings `yaml:"telemetry"`
}

// StoreSettings configure the run history database.
type StoreSettings struct {
	// Path is the SQLite file. An empty path disables run history.
	Path string `yaml:"path"`

	// KeepRuns is how many runs are kept. Zero keeps all.
	KeepRuns int `yaml:"keep_runs" validate:"gte=0"`
}

// TelemetrySettings configure logging, tracing and metrics.
type TelemetrySettings struct {
	Logging LoggingSettings `yaml:"logging"`
	Tracing TracingSettings `yaml:"tracing"`
	Metrics MetricsSettings `yaml:"metrics"`
}

// LoggingSettings configure the agent log.
type LoggingSettings struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`

	// Output is stdout, stderr or a file path.
	Output string `yaml:"output"`
}

// TracingSettings configure OpenTelemetry tracing.
type TracingSettings struct {
	Exporter     string  `yaml:"exporter" validate:"omitempty,oneof=none stdout otlp"`
	Endpoint     string  `yaml:"endpoint" validate:"required_if=Exporter otlp"`
	SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
	Insecure     bool    `yaml:"insecure"`
}

// MetricsSettings configure Prometheus metrics.
type MetricsSettings struct {
	// Textfile is written after each run for the node_exporter textfile
	// collector.
	Textfile string `yaml:"textfile"`

	// ListenAddress serves /metrics while the agent runs.
	ListenAddress string `yaml:"listen_address" validate:"omitempty,hostname_port"`

	Namespace string `yaml:"namespace" validate:"omitempty,alphanum"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path of the error (e.g., "bundles.0.entries.1.kind").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// DocumentError collects the problems found in a desired-state document.
type DocumentError struct {
	Source string
	Errors []ValidationError
}

func (e *DocumentError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.String()
	}
	return fmt.Sprintf("invalid document %s: %s", e.Source, strings.Join(msgs, "; "))
}
