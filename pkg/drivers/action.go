package drivers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/openfroyo/agent/pkg/engine"
)

// ActionName is the registry name of the Action driver.
const ActionName = "Action"

const runActionQuestion = "Run Action %s%s, %s: (y/N): "

// Action runs the commands of Action entries. Pre actions run when the
// engine installs them as bundle prerequisites; post actions run from the
// bundle notifications.
type Action struct {
	*Base
	runner Runner
}

// NewAction is the registry factory of the Action driver.
func NewAction(env engine.DriverEnv) (engine.Driver, error) {
	return newAction(env, ExecRunner{}), nil
}

func newAction(env engine.DriverEnv, runner Runner) *Action {
	a := &Action{runner: runner}
	a.Base = NewBase(ActionName, env, Handled{
		Kind:     engine.KindAction,
		Type:     AnyType,
		Required: []string{engine.AttrTiming, engine.AttrWhen, "command", "status"},
		Verify:   a.verify,
		Install:  a.install,
	})
	return a
}

func (a *Action) verify(context.Context, *engine.Entry, []string) (bool, error) {
	return true, nil
}

func (a *Action) install(ctx context.Context, e *engine.Entry) (bool, error) {
	if e.Timing() == engine.TimingPost {
		return true, nil
	}
	return a.run(ctx, e, false)
}

// run executes the action command. It reports false without running in dry
// run, when deferred by build mode or when the operator declines.
func (a *Action) run(ctx context.Context, e *engine.Entry, prompt bool) (bool, error) {
	opts := a.Options()
	command := e.Attr("command")
	shell := strings.EqualFold(e.Attr("shell"), "true")

	if opts.DryRun {
		a.log.Debug().Str("action", e.Name).Msg("In dry-run mode: not running action")
		return false, nil
	}
	if prompt && opts.Interactive && a.Prompter() != nil {
		prefix := ""
		if shell {
			prefix = "(in shell) "
		}
		if !a.Prompter().Confirm(ctx, fmt.Sprintf(runActionQuestion, prefix, e.Name, command)) {
			return false, nil
		}
	}
	if opts.ServiceMode == engine.ServiceModeBuild && strings.EqualFold(e.Attr("build"), "false") {
		a.log.Debug().Str("command", command).Msg("Deferring action execution due to build mode")
		return false, nil
	}

	name, args, err := commandLine(command, shell)
	if err != nil {
		return false, err
	}

	a.log.Debug().Str("action", e.Name).Msg("Running action")
	res, err := a.runner.Run(ctx, name, args...)
	if err != nil {
		return false, err
	}
	a.log.Debug().Str("command", command).Int("rc", res.ExitCode).Msg("Action finished")
	e.SetAttr("rc", strconv.Itoa(res.ExitCode))

	return e.Attr("status") == "ignore" || res.Success(), nil
}

// BundleUpdated runs the post actions of a modified bundle.
func (a *Action) BundleUpdated(ctx context.Context, b *engine.Bundle, states *engine.States) error {
	return a.runPost(ctx, b, states, false)
}

// BundleNotUpdated runs the post actions that do not depend on the bundle
// being modified.
func (a *Action) BundleNotUpdated(ctx context.Context, b *engine.Bundle, states *engine.States) error {
	return a.runPost(ctx, b, states, true)
}

func (a *Action) runPost(ctx context.Context, b *engine.Bundle, states *engine.States, skipModified bool) error {
	decision := a.env.Decision()
	for _, e := range b.Actions() {
		if !a.HandlesEntry(e) || !e.Timing().IsPost() {
			continue
		}
		if skipModified && e.When() == engine.WhenModified {
			continue
		}
		if !a.Options().FromFile && !decision.Allows(e) {
			a.log.Info().Str("action", e.Name).Str("mode", string(decision.Mode)).Msg("Suppressing action by decision list")
			continue
		}
		if !a.CanInstall(e) {
			states.Set(e, false)
			continue
		}
		ok, err := a.run(ctx, e, true)
		if err != nil {
			a.log.Error().Err(err).Str("entry", e.ID()).Str("bundle", b.Name).Msg("Failed to run action")
			ok = false
		}
		states.Set(e, ok)
	}
	return nil
}

// commandLine splits a command into argv, or wraps it in /bin/sh -c.
func commandLine(command string, shell bool) (string, []string, error) {
	if shell {
		return "/bin/sh", []string{"-c", command}, nil
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("empty command")
	}
	return fields[0], fields[1:], nil
}
