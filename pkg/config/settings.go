package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/agent/pkg/engine"
	"github.com/openfroyo/agent/pkg/telemetry"
)

// Default file locations.
const (
	DefaultSettingsPath = "/etc/froyo-agent/agent.yaml"
	DefaultStorePath    = "/var/lib/froyo-agent/history.db"
	DefaultLockFile     = "/var/run/froyo-agent.lock"
)

// DefaultKeepRuns is how many runs the history keeps by default.
const DefaultKeepRuns = 100

// DefaultDrivers is the driver load order used when the settings name none.
var DefaultDrivers = []string{"Action", "POSIX", "Packages", "Systemd"}

// DefaultSettings returns the settings used when no file is given.
func DefaultSettings() *Settings {
	return &Settings{
		Decision:    string(engine.DecisionNone),
		Remove:      string(engine.RemoveNone),
		ServiceMode: string(engine.ServiceModeDefault),
		Drivers:     append([]string(nil), DefaultDrivers...),
		Store:       StoreSettings{Path: DefaultStorePath, KeepRuns: DefaultKeepRuns},
		LockFile:    DefaultLockFile,
		Telemetry: TelemetrySettings{
			Logging: LoggingSettings{Level: "info", Format: "console", Output: "stderr"},
			Tracing: TracingSettings{Exporter: "none", SamplingRate: 1.0},
			Metrics: MetricsSettings{Namespace: "froyo"},
		},
	}
}

// LoadSettings reads a YAML settings file over the defaults and validates
// the result. Unknown keys are rejected.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return ParseSettings(data)
}

// ParseSettings decodes YAML settings over the defaults and validates them.
func ParseSettings(data []byte) (*Settings, error) {
	s := DefaultSettings()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks field values and the rules that span fields.
func (s *Settings) Validate() error {
	if err := newValidator().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if s.BundleQuick && len(s.Bundles) == 0 && len(s.SkipBundles) == 0 {
		return fmt.Errorf("invalid settings: bundle_quick requires bundles or skip_bundles")
	}
	return nil
}

// LogWarnings logs settings that are valid but probably not what the
// operator meant.
func (s *Settings) LogWarnings(log zerolog.Logger) {
	if s.Remove == string(engine.RemoveServices) {
		log.Warn().Msg("Service removal is nonsensical, removed services will only be disabled")
	}
	if s.DryRun && s.Interactive {
		log.Warn().Msg("Interactive mode has no effect in dry-run")
	}
}

// EngineOptions converts the settings into engine run options.
func (s *Settings) EngineOptions() (engine.Options, error) {
	list, err := engine.ParseDecisionList(s.DecisionList)
	if err != nil {
		return engine.Options{}, err
	}

	opts := engine.Options{
		DryRun:        s.DryRun,
		Interactive:   s.Interactive,
		FromFile:      s.FromFile,
		DecisionMode:  engine.DecisionMode(s.Decision),
		DecisionList:  list,
		Bundles:       s.Bundles,
		SkipBundles:   s.SkipBundles,
		Indep:         s.Indep,
		SkipIndep:     s.SkipIndep,
		Quick:         s.BundleQuick,
		RemoveMode:    engine.RemoveMode(s.Remove),
		ShowExtra:     s.ShowExtra,
		Kevlar:        s.Kevlar,
		OnlyImportant: s.OnlyImportant,
		ServiceMode:   engine.ServiceMode(s.ServiceMode),
		DriverTimeout: s.DriverTimeout,
	}
	if err := opts.Validate(); err != nil {
		return engine.Options{}, err
	}
	return opts, nil
}

// TelemetryConfig converts the telemetry settings.
func (s *Settings) TelemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version

	t := s.Telemetry
	cfg.Logging.Level = t.Logging.Level
	cfg.Logging.Format = t.Logging.Format
	cfg.Logging.Output = t.Logging.Output

	cfg.Tracing.Enabled = t.Tracing.Exporter != "" && t.Tracing.Exporter != "none"
	cfg.Tracing.Exporter = t.Tracing.Exporter
	cfg.Tracing.Endpoint = t.Tracing.Endpoint
	cfg.Tracing.SamplingRate = t.Tracing.SamplingRate
	cfg.Tracing.Insecure = t.Tracing.Insecure

	cfg.Metrics.Textfile = t.Metrics.Textfile
	cfg.Metrics.ListenAddress = t.Metrics.ListenAddress
	if t.Metrics.Namespace != "" {
		cfg.Metrics.Namespace = t.Metrics.Namespace
	}
	return cfg
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("decision_item", func(fl validator.FieldLevel) bool {
		_, err := engine.ParsePattern(fl.Field().String())
		return err == nil
	})
	return v
}
