package engine

import (
	"context"
	"slices"
)

// Install dispatches the whitelist to the drivers, re-verifies every bundle
// that was modified and makes one attempt to repair entries that broke as a
// side effect. It then sends the bundle notifications.
func (e *Engine) Install(ctx context.Context) error {
	if !e.decided {
		return phaseOrderError(PhaseInstall, PhaseDecide)
	}

	ctx, done := e.startPhase(ctx, PhaseInstall)
	defer done()

	e.dispatchInstall(ctx, PhaseInstall, e.whitelist.Items())

	mods := e.modifiedEntries()
	mbundles := e.bundlesWith(mods)
	if mods.Len() > 0 {
		if len(mbundles) > 0 {
			e.log.Info().Strs("bundles", bundleNames(mbundles)).Msg("The following bundles have been modified")
		}
		for _, b := range mbundles {
			e.reinventoryBundle(ctx, b)
		}

		clobbered := NewEntrySet()
		for _, b := range mbundles {
			for _, entry := range b.Entries {
				if !e.states.Correct(entry) && !e.blacklist.Has(entry) && e.own.actionable(entry) {
					clobbered.Add(entry)
				}
			}
		}
		if clobbered.Len() > 0 {
			e.log.Debug().Strs("entries", entryIDs(clobbered.Items())).Msg("Found clobbered entries")
			if !e.opts.Interactive {
				e.dispatchInstall(ctx, PhaseInstall, clobbered.Items())
			}
		}
	}

	e.notifyBundles(ctx, mbundles)
	e.installed = true
	return nil
}

// bundlesWith returns the selected, non-independent bundles containing any
// of the entries.
func (e *Engine) bundlesWith(entries *EntrySet) []*Bundle {
	var out []*Bundle
	for _, b := range e.Selection() {
		if !b.Independent && slices.ContainsFunc(b.Entries, entries.Has) {
			out = append(out, b)
		}
	}
	return out
}

// notifyBundles sends BundleUpdated to each modified bundle until no further
// bundle becomes modified, then BundleNotUpdated to the rest. Every bundle in
// scope is notified, including skipped ones, except bundles left out by an
// explicit bundle list and bundles that failed a prerequisite. Independent
// bundles always get BundleNotUpdated.
func (e *Engine) notifyBundles(ctx context.Context, modified []*Bundle) {
	var notified []*Bundle
	for _, b := range e.scope {
		if e.failed[b] {
			continue
		}
		if len(e.opts.Bundles) > 0 && !b.Independent && !slices.Contains(e.opts.Bundles, b.Name) {
			continue
		}
		notified = append(notified, b)
	}

	updated := make(map[*Bundle]bool, len(modified))
	for _, b := range modified {
		updated[b] = true
	}

	for next := modified; len(next) > 0; {
		for _, b := range next {
			e.notify(ctx, PhaseBundleUpdated, b, func(ctx context.Context, d Driver) error {
				return d.BundleUpdated(ctx, b, e.states)
			})
		}

		mods := e.modifiedEntries()
		next = nil
		for _, b := range notified {
			if b.Independent || updated[b] {
				continue
			}
			if slices.ContainsFunc(b.Entries, mods.Has) {
				updated[b] = true
				next = append(next, b)
			}
		}
	}

	for _, b := range notified {
		if updated[b] && !b.Independent {
			continue
		}
		if !b.Independent {
			e.log.Debug().Str("bundle", b.Name).Msg("Bundle was not modified")
		}
		e.notify(ctx, PhaseBundleNotUpdated, b, func(ctx context.Context, d Driver) error {
			return d.BundleNotUpdated(ctx, b, e.states)
		})
	}
}

func (e *Engine) notify(ctx context.Context, phase Phase, b *Bundle, fn func(context.Context, Driver) error) {
	for _, d := range e.drivers {
		_ = e.call(ctx, d, phase, callTarget{bundle: b.Name}, func(ctx context.Context) error {
			return fn(ctx, d)
		})
	}
}

// Remove hands each driver the removal entries it can remove. It may only
// run after Install.
func (e *Engine) Remove(ctx context.Context) error {
	if !e.decided {
		return phaseOrderError(PhaseRemove, PhaseDecide)
	}
	if !e.installed {
		return phaseOrderError(PhaseRemove, PhaseInstall)
	}

	ctx, done := e.startPhase(ctx, PhaseRemove)
	defer done()

	for _, d := range e.drivers {
		var handled []*Entry
		for _, x := range e.removal.Items() {
			if e.handles(d, x) && e.canRemove(d, x) {
				handled = append(handled, x)
			}
		}
		if len(handled) == 0 {
			continue
		}
		_ = e.call(ctx, d, PhaseRemove, callTarget{count: len(handled)}, func(ctx context.Context) error {
			return d.Remove(ctx, handled)
		})
	}
	return nil
}
