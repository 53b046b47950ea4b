package engine

import (
	"context"
	"slices"
)

// InstallImportant installs the important configuration files ahead of the
// main decision, so that later steps see the system the way those files
// describe it. In a dry run the entries are only reported, unless the run
// is limited to important entries.
func (e *Engine) InstallImportant(ctx context.Context) error {
	if !e.inventoried {
		return phaseOrderError(PhaseImportant, PhaseInventory)
	}

	ctx, done := e.startPhase(ctx, PhaseImportant)
	defer done()

	e.pending = e.initialWhitelist(ctx)
	if e.opts.DryRun && !e.opts.OnlyImportant {
		return nil
	}

	var suppressed []*Entry
	for _, b := range e.Selection() {
		for _, entry := range b.Entries {
			if !entry.Important() || entry.Type() != "file" || !e.pending.Has(entry) {
				continue
			}
			d := e.own.owner[entry]
			if d == nil || !e.canVerify(d, entry) || !e.canInstall(d, entry) {
				continue
			}
			if e.opts.DryRun {
				suppressed = append(suppressed, entry)
				continue
			}
			if e.opts.Interactive && len(e.promptFilter(ctx, installQuestion, []*Entry{entry})) == 0 {
				e.pending.Remove(entry)
				continue
			}

			id := entry.ID()
			_ = e.call(ctx, d, PhaseImportant, callTarget{entry: id, bundle: b.Name}, func(ctx context.Context) error {
				return d.Install(ctx, []*Entry{entry}, e.states)
			})
			entry.Prompt = ""

			ok := e.verify(ctx, d, PhaseImportant, entry)
			e.states.Set(entry, ok)
			if ok {
				e.pending.Remove(entry)
			}
		}
	}

	if len(suppressed) > 0 {
		e.log.Info().Strs("entries", entryIDs(suppressed)).Msg("In dry-run mode: suppressing entry installation")
	}
	return nil
}

// initialWhitelist returns the incorrect entries an operator decision and
// the entry gate allow to change. Unhandled and conflicting entries are
// never included.
func (e *Engine) initialWhitelist(ctx context.Context) *EntrySet {
	wl := NewEntrySet()
	for _, entry := range e.states.Bad() {
		if e.own.actionable(entry) {
			wl.Add(entry)
		}
	}

	decision := e.opts.Decision()
	if !e.opts.FromFile && decision.Mode != DecisionNone && decision.Mode != "" {
		var suppressed []*Entry
		wl = wl.Filter(func(entry *Entry) bool {
			if decision.Allows(entry) {
				return true
			}
			suppressed = append(suppressed, entry)
			return false
		})
		if len(suppressed) > 0 {
			e.log.Info().
				Str("mode", string(decision.Mode)).
				Strs("entries", entryIDs(suppressed)).
				Msg("Suppressing installation by decision list")
		}
	}

	if e.gate != nil {
		wl = wl.Filter(func(entry *Entry) bool {
			bundle := ""
			if b := e.bundleOf[entry]; b != nil {
				bundle = b.Name
			}
			allowed, reason, err := e.gate.Allow(ctx, entry, bundle)
			if err != nil {
				e.log.Error().Err(err).Str("entry", entry.ID()).Msg("Entry gate failed, denying entry")
				return false
			}
			if !allowed {
				e.log.Info().Str("entry", entry.ID()).Str("reason", reason).Msg("Entry denied by policy")
			}
			return allowed
		})
	}
	return wl
}

// Decide computes the whitelist, blacklist and removal set. It runs the
// pre-install actions of each selected bundle and drops bundles whose
// prerequisites fail. Calling Decide again recomputes the same sets.
func (e *Engine) Decide(ctx context.Context) error {
	if !e.inventoried {
		return phaseOrderError(PhaseDecide, PhaseInventory)
	}

	ctx, done := e.startPhase(ctx, PhaseDecide)
	defer done()

	if e.pending == nil {
		e.pending = e.initialWhitelist(ctx)
	}

	removal := NewEntrySet()
	for _, x := range e.extraEntries().Items() {
		if e.opts.RemoveMode.Selects(x) {
			removal.Add(x)
		}
	}

	if e.candidates == nil {
		e.candidates = NewEntrySet(e.states.Bad()...)
	}
	candidates := e.candidates.Items()
	whitelist := e.pending.Filter(e.candidates.Has)

	if e.opts.DryRun {
		if whitelist.Len() > 0 {
			e.log.Info().Strs("entries", entryIDs(whitelist.Items())).Msg("In dry-run mode: suppressing entry installation")
		}
		if removal.Len() > 0 {
			e.log.Info().Strs("entries", entryIDs(removal.Items())).Msg("In dry-run mode: suppressing entry removal")
		}
		whitelist = NewEntrySet()
		removal = NewEntrySet()
	}

	selected := NewEntrySet(entriesOf(e.Selection())...)
	whitelist = whitelist.Filter(selected.Has)

	if !e.opts.DryRun {
		e.runPrerequisites(ctx, whitelist)
	}
	e.log.Debug().Strs("bundles", bundleNames(e.Selection())).Msg("Installing entries in the following bundles")

	if e.opts.Interactive {
		whitelist = NewEntrySet(e.promptFilter(ctx, installQuestion, whitelist.Items())...)
		removal = NewEntrySet(e.promptFilter(ctx, removeQuestion, removal.Items())...)
	}

	blacklist := NewEntrySet()
	for _, c := range candidates {
		if !whitelist.Has(c) {
			blacklist.Add(c)
		}
	}

	e.whitelist, e.blacklist, e.removal = whitelist, blacklist, removal
	e.decided = true

	e.log.Info().
		Int("whitelist", whitelist.Len()).
		Int("blacklist", blacklist.Len()).
		Int("removal", removal.Len()).
		Msg("Decision complete")
	return nil
}

// runPrerequisites dispatches the pre-install actions of each selected
// bundle. A bundle with a failed or declined prerequisite is marked failed
// and its entries leave the whitelist. Independent bundles are never gated.
func (e *Engine) runPrerequisites(ctx context.Context, whitelist *EntrySet) {
	for _, b := range e.Selection() {
		modified := !b.Independent && slices.ContainsFunc(b.Entries, whitelist.Has)

		var actions []*Entry
		for _, a := range b.Actions() {
			if a.Timing() != TimingPost && (modified || a.When() == WhenAlways) {
				actions = append(actions, a)
			}
		}
		if len(actions) == 0 {
			continue
		}

		run := actions
		if e.opts.Interactive {
			run = e.promptFilter(ctx, installQuestion, actions)
		}
		// Only an install that reports success may mark an action correct.
		for _, a := range run {
			e.states.Set(a, false)
		}
		e.dispatchInstall(ctx, PhaseDecide, run)

		if b.Independent {
			continue
		}
		ok := len(run) == len(actions)
		for _, a := range run {
			if !e.states.Correct(a) {
				ok = false
			}
		}
		if ok {
			continue
		}

		e.failed[b] = true
		e.log.Info().Str("bundle", b.Name).Msg("Bundle failed prerequisite action")

		var dropped []*Entry
		for _, entry := range b.Entries {
			if whitelist.Remove(entry) {
				dropped = append(dropped, entry)
			}
		}
		if len(dropped) > 0 {
			e.log.Info().
				Str("bundle", b.Name).
				Strs("entries", entryIDs(dropped)).
				Msg("Not installing entries from bundle")
		}
	}
}
