// Package drivers provides the reference tool drivers of the agent and the
// Base type they share.
package drivers

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"github.com/openfroyo/agent/pkg/engine"
)

// AnyType matches every value of an entry's type attribute.
const AnyType = "*"

// VerifyFunc checks one entry against the host.
type VerifyFunc func(ctx context.Context, e *engine.Entry, modlist []string) (bool, error)

// InstallFunc brings one entry into its desired state and reports whether it
// succeeded.
type InstallFunc func(ctx context.Context, e *engine.Entry) (bool, error)

// Handled declares one (kind, type) pair a driver claims, the attributes an
// entry of that pair must carry and the functions that verify and install it.
type Handled struct {
	Kind     string
	Type     string
	Required []string
	Verify   VerifyFunc
	Install  InstallFunc
}

func (h Handled) matches(e *engine.Entry) bool {
	return h.Kind == e.Kind && (h.Type == AnyType || h.Type == e.Type())
}

// Base implements the parts of engine.Driver that are the same for every
// driver. Concrete drivers embed it and override what they need.
type Base struct {
	name         string
	log          zerolog.Logger
	env          engine.DriverEnv
	handled      []Handled
	conflicts    []string
	deprecated   bool
	experimental bool

	modified []*engine.Entry
	extra    []*engine.Entry
}

// NewBase returns a Base for the named driver.
func NewBase(name string, env engine.DriverEnv, handled ...Handled) *Base {
	return &Base{
		name:    name,
		log:     env.Logger,
		env:     env,
		handled: handled,
	}
}

func (b *Base) Name() string        { return b.name }
func (b *Base) Deprecated() bool    { return b.deprecated }
func (b *Base) Experimental() bool  { return b.experimental }
func (b *Base) Conflicts() []string { return b.conflicts }

// Logger returns the driver-scoped logger.
func (b *Base) Logger() zerolog.Logger { return b.log }

// Options returns the run options the driver was loaded with.
func (b *Base) Options() engine.Options { return b.env.Options }

// Prompter returns the operator prompter, which may be nil.
func (b *Base) Prompter() engine.Prompter { return b.env.Prompter }

func (b *Base) lookup(e *engine.Entry) (Handled, bool) {
	for _, h := range b.handled {
		if h.matches(e) {
			return h, true
		}
	}
	return Handled{}, false
}

// HandlesEntry reports whether one of the declared (kind, type) pairs
// matches the entry.
func (b *Base) HandlesEntry(e *engine.Entry) bool {
	_, ok := b.lookup(e)
	return ok
}

// CanVerify refuses entries marked as failed by the server and entries
// missing required attributes.
func (b *Base) CanVerify(e *engine.Entry) bool {
	return b.canProcess(e, "verify")
}

// CanInstall applies the same checks as CanVerify.
func (b *Base) CanInstall(e *engine.Entry) bool {
	return b.canProcess(e, "install")
}

func (b *Base) canProcess(e *engine.Entry, op string) bool {
	h, ok := b.lookup(e)
	if !ok {
		return false
	}
	if failure := e.Attr(engine.AttrFailure); failure != "" {
		b.log.Error().Str("entry", e.ID()).Str("failure", failure).Msgf("Cannot %s entry: server failure", op)
		return false
	}
	var missing []string
	for _, attr := range h.Required {
		if e.Attr(attr) == "" {
			missing = append(missing, attr)
		}
	}
	if len(missing) > 0 {
		b.log.Error().Str("entry", e.ID()).Strs("missing", missing).Msgf("Cannot %s entry: missing required attributes", op)
		return false
	}
	return true
}

// CanRemove is false unless a driver overrides it.
func (b *Base) CanRemove(*engine.Entry) bool { return false }

// PrimaryKey identifies an entry by Kind:Name.
func (b *Base) PrimaryKey(e *engine.Entry) string { return e.ID() }

// Verify dispatches to the verify function of the matching pair.
func (b *Base) Verify(ctx context.Context, e *engine.Entry, modlist []string) (bool, error) {
	h, ok := b.lookup(e)
	if !ok || h.Verify == nil {
		return false, fmt.Errorf("%s cannot verify %s", b.name, e.ID())
	}
	return h.Verify(ctx, e, modlist)
}

// Inventory verifies every claimed entry of the bundles and records the
// result. Entries that cannot be verified are recorded as incorrect.
func (b *Base) Inventory(ctx context.Context, states *engine.States, bundles []*engine.Bundle) error {
	var errs []error
	for _, bundle := range bundles {
		for _, e := range bundle.Entries {
			if !b.HandlesEntry(e) {
				continue
			}
			if !b.CanVerify(e) {
				states.Set(e, false)
				continue
			}
			ok, err := b.Verify(ctx, e, nil)
			if err != nil {
				b.log.Error().Err(err).Str("entry", e.ID()).Str("bundle", bundle.Name).Msg("Failed to verify entry")
				errs = append(errs, fmt.Errorf("verify %s: %w", e.ID(), err))
				ok = false
			}
			states.Set(e, ok)
		}
	}
	return errors.Join(errs...)
}

// Install installs each entry, re-verifies it and records the result. Entries
// that verify afterwards are recorded as modified.
func (b *Base) Install(ctx context.Context, entries []*engine.Entry, states *engine.States) error {
	var errs []error
	for _, e := range entries {
		ok, err := b.installOne(ctx, e)
		if err != nil {
			errs = append(errs, err)
		}
		states.Set(e, ok)
	}
	return errors.Join(errs...)
}

func (b *Base) installOne(ctx context.Context, e *engine.Entry) (bool, error) {
	h, ok := b.lookup(e)
	if !ok || h.Install == nil || !b.CanInstall(e) {
		return false, nil
	}

	b.log.Info().Str("entry", e.ID()).Msg("Installing entry")
	installed, err := h.Install(ctx, e)
	if err != nil {
		b.log.Error().Err(err).Str("entry", e.ID()).Msg("Failed to install entry")
		return false, fmt.Errorf("install %s: %w", e.ID(), err)
	}
	if !installed {
		return false, nil
	}

	verified, err := b.Verify(ctx, e, nil)
	if err != nil {
		return false, fmt.Errorf("verify %s: %w", e.ID(), err)
	}
	if verified {
		b.markModified(e)
	}
	return verified, nil
}

func (b *Base) markModified(e *engine.Entry) {
	if !slices.Contains(b.modified, e) {
		b.modified = append(b.modified, e)
	}
}

// Remove does nothing unless a driver overrides it.
func (b *Base) Remove(context.Context, []*engine.Entry) error { return nil }

// BundleUpdated does nothing unless a driver overrides it.
func (b *Base) BundleUpdated(context.Context, *engine.Bundle, *engine.States) error { return nil }

// BundleNotUpdated does nothing unless a driver overrides it.
func (b *Base) BundleNotUpdated(context.Context, *engine.Bundle, *engine.States) error { return nil }

// Modified returns the entries this driver changed.
func (b *Base) Modified() []*engine.Entry { return slices.Clone(b.modified) }

// Extra returns the unmanaged entries this driver found.
func (b *Base) Extra() []*engine.Entry { return slices.Clone(b.extra) }

// setExtra replaces the extra entries.
func (b *Base) setExtra(extra []*engine.Entry) { b.extra = extra }

// claimed returns the entries of the bundles this driver handles.
func (b *Base) claimed(bundles []*engine.Bundle) []*engine.Entry {
	var out []*engine.Entry
	for _, bundle := range bundles {
		for _, e := range bundle.Entries {
			if b.HandlesEntry(e) {
				out = append(out, e)
			}
		}
	}
	return out
}
