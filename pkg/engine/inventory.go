package engine

import (
	"context"
	"slices"
)

// Inventory resets every entry in scope to incorrect and asks each driver
// to verify what it claims. A failing driver leaves its entries incorrect;
// the other drivers still run.
func (e *Engine) Inventory(ctx context.Context) error {
	ctx, done := e.startPhase(ctx, PhaseInventory)
	defer done()

	e.runInventory(ctx, PhaseInventory, e.scope)
	e.inventoried = true
	return nil
}

// ReInventory performs a full, unscoped Inventory as a final correctness
// check. It only runs in kevlar mode and never in a dry run.
func (e *Engine) ReInventory(ctx context.Context) {
	if e.opts.DryRun || !e.opts.Kevlar {
		e.log.Debug().Bool("dry_run", e.opts.DryRun).Bool("kevlar", e.opts.Kevlar).Msg("Skipping reinventory")
		return
	}

	ctx, done := e.startPhase(ctx, PhaseReInventory)
	defer done()

	e.log.Info().Msg("Rechecking system inventory")
	e.runInventory(ctx, PhaseReInventory, e.scope)
	e.stamp("reinventory")
}

func (e *Engine) runInventory(ctx context.Context, phase Phase, bundles []*Bundle) {
	for _, entry := range entriesOf(bundles) {
		e.states.Set(entry, false)
	}
	for _, d := range e.drivers {
		_ = e.call(ctx, d, phase, callTarget{count: len(bundles)}, func(ctx context.Context) error {
			return d.Inventory(ctx, e.states, bundles)
		})
	}
}

// reinventoryBundle re-verifies a single bundle after it was modified.
func (e *Engine) reinventoryBundle(ctx context.Context, b *Bundle) {
	for _, entry := range b.Entries {
		e.states.Set(entry, false)
	}
	bundles := []*Bundle{b}
	for _, d := range e.drivers {
		_ = e.call(ctx, d, PhaseInstall, callTarget{bundle: b.Name}, func(ctx context.Context) error {
			return d.Inventory(ctx, e.states, bundles)
		})
	}
}

// selectBundles applies the bundle selectors to the document. Missing
// bundle names are warned about, never fatal.
func (e *Engine) selectBundles() []*Bundle {
	bundles := slices.Clone(e.doc.Bundles)
	exists := func(name string) bool { return e.doc.Bundle(name) != nil }

	if len(e.opts.Bundles) > 0 {
		for _, name := range e.opts.Bundles {
			if !exists(name) {
				e.log.Warn().Str("bundle", name).Msg("Bundle not found")
			}
		}
		bundles = slices.DeleteFunc(bundles, func(b *Bundle) bool {
			return !slices.Contains(e.opts.Bundles, b.Name)
		})
	} else if e.opts.Indep {
		bundles = slices.DeleteFunc(bundles, func(b *Bundle) bool { return !b.Independent })
	}

	if len(e.opts.SkipBundles) > 0 {
		if !e.opts.Quick {
			for _, name := range e.opts.SkipBundles {
				if !exists(name) {
					e.log.Warn().Str("bundle", name).Msg("Bundle not found")
				}
			}
		}
		bundles = slices.DeleteFunc(bundles, func(b *Bundle) bool {
			return slices.Contains(e.opts.SkipBundles, b.Name)
		})
	}

	if e.opts.SkipIndep {
		bundles = slices.DeleteFunc(bundles, func(b *Bundle) bool { return b.Independent })
	}
	return bundles
}

func bundleNames(bundles []*Bundle) []string {
	names := make([]string, len(bundles))
	for i, b := range bundles {
		names[i] = b.Name
	}
	return names
}
