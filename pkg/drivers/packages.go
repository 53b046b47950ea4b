package drivers

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/openfroyo/agent/pkg/engine"
)

// PackagesName is the registry name of the Packages driver.
const PackagesName = "Packages"

var packageManagers = []string{"apt", "dnf", "yum", "zypper"}

// Packages manages Package entries through the host's package manager. It
// installs in one pass and falls back to one package at a time when the
// pass fails.
type Packages struct {
	*Base
	runner  Runner
	manager string

	installed map[string]string
	declared  map[string]bool
	extras    map[string]*engine.Entry
}

// NewPackages is the registry factory of the Packages driver. It declines
// with engine.ErrDriverUnavailable on hosts without a supported manager.
func NewPackages(env engine.DriverEnv) (engine.Driver, error) {
	manager, err := detectPackageManager()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrDriverUnavailable, err)
	}
	return newPackages(env, ExecRunner{}, manager), nil
}

func newPackages(env engine.DriverEnv, runner Runner, manager string) *Packages {
	p := &Packages{
		runner:   runner,
		manager:  manager,
		declared: make(map[string]bool),
		extras:   make(map[string]*engine.Entry),
	}
	p.Base = NewBase(PackagesName, env, Handled{
		Kind:   engine.KindPackage,
		Type:   AnyType,
		Verify: p.verify,
	})
	return p
}

func detectPackageManager() (string, error) {
	for _, mgr := range packageManagers {
		if _, err := exec.LookPath(mgr); err == nil {
			return mgr, nil
		}
	}
	return "", fmt.Errorf("no supported package manager found")
}

// CanRemove accepts any Package entry.
func (p *Packages) CanRemove(e *engine.Entry) bool {
	return e.Kind == engine.KindPackage
}

// refresh reloads the installed package list.
func (p *Packages) refresh(ctx context.Context) error {
	var res Result
	var err error
	switch p.manager {
	case "apt":
		res, err = runChecked(ctx, p.runner, "dpkg-query", "-W", "-f=${Status}\t${Package}\t${Version}\n")
	case "dnf", "yum", "zypper":
		res, err = runChecked(ctx, p.runner, "rpm", "-qa", "--queryformat", "installed\t%{NAME}\t%{VERSION}-%{RELEASE}\n")
	default:
		return fmt.Errorf("unsupported package manager: %s", p.manager)
	}
	if err != nil {
		return fmt.Errorf("failed to list installed packages: %w", err)
	}

	installed := make(map[string]string)
	for _, line := range strings.Split(res.Stdout, "\n") {
		fields := strings.Split(line, "\t")
		if len(fields) != 3 || !strings.HasSuffix(fields[0], "installed") || strings.Contains(fields[0], "not-installed") {
			continue
		}
		installed[fields[1]] = fields[2]
	}
	p.installed = installed
	return nil
}

func (p *Packages) verify(ctx context.Context, e *engine.Entry, _ []string) (bool, error) {
	if p.installed == nil {
		if err := p.refresh(ctx); err != nil {
			return false, err
		}
	}
	current, ok := p.installed[e.Name]
	if !ok {
		e.SetAttr("current_exists", "false")
		return false, nil
	}
	match, err := versionMatches(e.Attr("version"), current)
	if err != nil {
		return false, err
	}
	if !match {
		e.SetAttr("current_version", current)
	}
	return match, nil
}

// Inventory refreshes the package list, verifies the claimed entries and,
// when removal or extra display needs them, finds installed packages no
// bundle declares. Quick runs only see part of the document, so they never
// report extras.
func (p *Packages) Inventory(ctx context.Context, states *engine.States, bundles []*engine.Bundle) error {
	if err := p.refresh(ctx); err != nil {
		for _, e := range p.claimed(bundles) {
			states.Set(e, false)
		}
		return err
	}

	err := p.Base.Inventory(ctx, states, bundles)
	for _, e := range p.claimed(bundles) {
		p.declared[e.Name] = true
	}

	opts := p.Options()
	if opts.Quick {
		p.log.Debug().Msg("Skipping extra packages in quick mode")
		return err
	}
	if opts.ShowExtra || opts.RemoveMode == engine.RemoveAll || opts.RemoveMode == engine.RemovePackages {
		p.findExtra()
	}
	return err
}

func (p *Packages) findExtra() {
	var names []string
	for name := range p.installed {
		if !p.declared[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	extra := make([]*engine.Entry, 0, len(names))
	for _, name := range names {
		e, ok := p.extras[name]
		if !ok {
			e = &engine.Entry{Kind: engine.KindPackage, Name: name}
			p.extras[name] = e
		}
		e.SetAttr("version", p.installed[name])
		extra = append(extra, e)
	}
	p.setExtra(extra)
}

// Install tries all packages in one pass, then one at a time.
func (p *Packages) Install(ctx context.Context, entries []*engine.Entry, states *engine.States) error {
	var pkgs []*engine.Entry
	var specs []string
	for _, e := range entries {
		if !p.CanInstall(e) {
			states.Set(e, false)
			continue
		}
		pkgs = append(pkgs, e)
		specs = append(specs, p.spec(e))
	}
	if len(pkgs) == 0 {
		return nil
	}

	p.log.Info().Str("manager", p.manager).Strs("packages", specs).Msg("Trying single pass package install")
	var errs []error
	if _, err := runChecked(ctx, p.runner, p.manager, append([]string{"install", "-y"}, specs...)...); err != nil {
		p.log.Error().Err(err).Msg("Single pass failed, installing packages one at a time")
		if err := p.refresh(ctx); err != nil {
			return err
		}
		for i, e := range pkgs {
			if ok, _ := p.verify(ctx, e, nil); ok {
				continue
			}
			if _, err := runChecked(ctx, p.runner, p.manager, "install", "-y", specs[i]); err != nil {
				p.log.Error().Err(err).Str("entry", e.ID()).Msg("Failed to install package")
				errs = append(errs, err)
			}
		}
	}

	if err := p.refresh(ctx); err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, e := range pkgs {
		ok, err := p.verify(ctx, e, nil)
		if err != nil {
			errs = append(errs, err)
		}
		states.Set(e, ok)
		if ok {
			p.markModified(e)
		}
	}
	return errors.Join(errs...)
}

// spec returns the install argument for an entry. Only exact versions are
// pinned; constraints install the candidate version.
func (p *Packages) spec(e *engine.Entry) string {
	version := e.Attr("version")
	if version == "" || version == "any" || isConstraint(version) {
		return e.Name
	}
	switch p.manager {
	case "apt":
		return e.Name + "=" + version
	case "dnf", "yum":
		return e.Name + "-" + version
	default:
		return e.Name
	}
}

// Remove removes extra packages in one call.
func (p *Packages) Remove(ctx context.Context, entries []*engine.Entry) error {
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	if len(names) == 0 {
		return nil
	}

	p.log.Info().Strs("packages", names).Msg("Removing packages")
	_, err := runChecked(ctx, p.runner, p.manager, append([]string{"remove", "-y"}, names...)...)
	if rerr := p.refresh(ctx); rerr == nil {
		p.findExtra()
	}
	return err
}

func isConstraint(version string) bool {
	return strings.ContainsAny(version, "<>=~^,*| ") || strings.Contains(version, ".x")
}

// versionMatches checks an installed version against an exact version or a
// semver constraint. The constraint is checked against the upstream part of
// the installed version, without epoch and package revision.
func versionMatches(want, installed string) (bool, error) {
	if want == "" || want == "any" {
		return true, nil
	}
	if !isConstraint(want) {
		return want == installed || want == upstreamVersion(installed), nil
	}

	c, err := semver.NewConstraint(want)
	if err != nil {
		return false, fmt.Errorf("invalid version constraint %q: %w", want, err)
	}
	v, err := semver.NewVersion(upstreamVersion(installed))
	if err != nil {
		return false, fmt.Errorf("cannot compare installed version %q: %w", installed, err)
	}
	return c.Check(v), nil
}

func upstreamVersion(v string) string {
	if _, rest, ok := strings.Cut(v, ":"); ok {
		v = rest
	}
	if i := strings.LastIndex(v, "-"); i > 0 {
		v = v[:i]
	}
	return v
}
