package drivers

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/openfroyo/agent/pkg/engine"
)

// SystemdName is the registry name of the Systemd driver.
const SystemdName = "Systemd"

const restartQuestion = "Restart service %s?: (y/N): "

// Systemd manages Service entries with systemctl. An entry's status is on,
// off or ignore; restart controls what happens when its bundle changes.
type Systemd struct {
	*Base
	runner    Runner
	restarted map[string]bool
}

// NewSystemd is the registry factory of the Systemd driver. It declines
// with engine.ErrDriverUnavailable on hosts without systemctl.
func NewSystemd(env engine.DriverEnv) (engine.Driver, error) {
	if _, err := exec.LookPath("systemctl"); err != nil {
		return nil, fmt.Errorf("%w: systemctl not found", engine.ErrDriverUnavailable)
	}
	return newSystemd(env, ExecRunner{}), nil
}

func newSystemd(env engine.DriverEnv, runner Runner) *Systemd {
	s := &Systemd{runner: runner, restarted: make(map[string]bool)}
	s.Base = NewBase(SystemdName, env, Handled{
		Kind:     engine.KindService,
		Type:     AnyType,
		Required: []string{"status"},
		Verify:   s.verify,
		Install:  s.install,
	})
	return s
}

func unit(e *engine.Entry) string {
	if strings.Contains(e.Name, ".") {
		return e.Name
	}
	return e.Name + ".service"
}

// CanRemove accepts any Service entry. Removing a service disables it.
func (s *Systemd) CanRemove(e *engine.Entry) bool {
	return e.Kind == engine.KindService
}

func (s *Systemd) verify(ctx context.Context, e *engine.Entry, _ []string) (bool, error) {
	status := e.Attr("status")
	if status == "ignore" {
		return true, nil
	}

	active, err := s.runner.Run(ctx, "systemctl", "is-active", unit(e))
	if err != nil {
		return false, err
	}
	enabled, err := s.runner.Run(ctx, "systemctl", "is-enabled", unit(e))
	if err != nil {
		return false, err
	}

	current := "off"
	if strings.TrimSpace(active.Stdout) == "active" {
		current = "on"
	}
	isEnabled := strings.TrimSpace(enabled.Stdout) == "enabled"
	e.SetAttr("current_status", current)

	switch status {
	case "on":
		return current == "on" && isEnabled, nil
	case "off":
		return current == "off" && !isEnabled, nil
	default:
		return false, fmt.Errorf("invalid service status %q", status)
	}
}

func (s *Systemd) install(ctx context.Context, e *engine.Entry) (bool, error) {
	var steps []string
	switch e.Attr("status") {
	case "ignore":
		return true, nil
	case "on":
		steps = []string{"enable", "start"}
	default:
		steps = []string{"stop", "disable"}
	}
	if s.Options().ServiceMode == engine.ServiceModeDisabled {
		s.log.Debug().Str("entry", e.ID()).Msg("Service mode disabled: not changing service state")
		steps = steps[:0]
		if e.Attr("status") == "on" {
			steps = append(steps, "enable")
		} else {
			steps = append(steps, "disable")
		}
	}

	for _, step := range steps {
		if _, err := runChecked(ctx, s.runner, "systemctl", step, unit(e)); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Install skips entries marked install=false and installs the rest.
func (s *Systemd) Install(ctx context.Context, entries []*engine.Entry, states *engine.States) error {
	var install []*engine.Entry
	for _, e := range entries {
		if strings.EqualFold(e.Attr("install"), "false") {
			s.log.Info().Str("entry", e.ID()).Msg("Service installation is false, skipping")
			continue
		}
		install = append(install, e)
	}
	return s.Base.Install(ctx, install, states)
}

// Remove stops and disables extra services unless services are left alone.
func (s *Systemd) Remove(ctx context.Context, entries []*engine.Entry) error {
	if s.Options().ServiceMode == engine.ServiceModeDisabled {
		return nil
	}
	var errs []error
	for _, e := range entries {
		s.log.Info().Str("entry", e.ID()).Msg("Disabling service")
		for _, step := range []string{"stop", "disable"} {
			if _, err := runChecked(ctx, s.runner, "systemctl", step, unit(e)); err != nil {
				errs = append(errs, err)
				break
			}
		}
	}
	return errors.Join(errs...)
}

// BundleUpdated restarts the services of a modified bundle, or stops them in
// build mode. Each service is restarted at most once per run.
func (s *Systemd) BundleUpdated(ctx context.Context, b *engine.Bundle, _ *engine.States) error {
	opts := s.Options()
	if opts.ServiceMode == engine.ServiceModeDisabled {
		return nil
	}

	var errs []error
	for _, e := range b.Entries {
		if !s.HandlesEntry(e) || e.Attr("status") == "ignore" {
			continue
		}
		restart := strings.ToLower(e.Attr("restart"))
		if restart == "false" || (restart == "interactive" && !opts.Interactive) {
			continue
		}

		var err error
		switch {
		case e.Attr("status") != "on", opts.ServiceMode == engine.ServiceModeBuild:
			_, err = runChecked(ctx, s.runner, "systemctl", "stop", unit(e))
		case s.restarted[e.Name]:
			continue
		default:
			if opts.Interactive && s.Prompter() != nil && !s.Prompter().Confirm(ctx, fmt.Sprintf(restartQuestion, e.Name)) {
				continue
			}
			target := e.Attr("target")
			if target == "" {
				target = "restart"
			}
			if _, err = runChecked(ctx, s.runner, "systemctl", target, unit(e)); err == nil {
				s.restarted[e.Name] = true
			}
		}
		if err != nil {
			s.log.Error().Err(err).Str("entry", e.ID()).Str("bundle", b.Name).Msg("Failed to manipulate service")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
