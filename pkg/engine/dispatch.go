package engine

import (
	"context"
	"fmt"
)

// ownership records which driver is responsible for each entry.
type ownership struct {
	owner      map[*Entry]Driver
	unhandled  *EntrySet
	conflicts  map[*Entry][]string
	duplicates []string
}

// actionable reports whether exactly one driver claims the entry.
func (o ownership) actionable(e *Entry) bool {
	_, ok := o.owner[e]
	return ok
}

// resolveOwnership asks every driver about every entry. Entries nobody
// claims are unhandled; entries several drivers claim are conflicts and get
// no owner. Primary keys seen more than once are recorded as duplicates.
func (e *Engine) resolveOwnership(entries []*Entry) ownership {
	own := ownership{
		owner:     make(map[*Entry]Driver),
		unhandled: NewEntrySet(),
		conflicts: make(map[*Entry][]string),
	}

	counts := make(map[string]int)
	var keys []string
	for _, entry := range entries {
		var claims []Driver
		for _, d := range e.drivers {
			if e.handles(d, entry) {
				claims = append(claims, d)
			}
		}

		switch len(claims) {
		case 0:
			own.unhandled.Add(entry)
			e.log.Warn().
				Str("entry", entry.ID()).
				Str("code", ErrCodeUnhandled).
				Msg("Entry is not handled by any driver")
			continue
		case 1:
			own.owner[entry] = claims[0]
		default:
			names := driverNames(claims)
			own.conflicts[entry] = names
			err := NewConflictError("entry claimed by multiple drivers", fmt.Errorf("drivers %v", names)).
				WithCode(ErrCodeConflict).
				WithPhase(PhaseLoad).
				WithEntry(entry.ID())
			e.log.Error().Err(err).Strs("drivers", names).Str("entry", entry.ID()).Msg("Conflicting entry ownership")
		}

		pk := e.primaryKey(claims[0], entry)
		if counts[pk] == 0 {
			keys = append(keys, pk)
		}
		counts[pk]++
	}

	for _, k := range keys {
		if counts[k] > 1 {
			own.duplicates = append(own.duplicates, k)
		}
	}
	if len(own.duplicates) > 0 {
		e.log.Warn().Strs("entries", own.duplicates).Msg("Entries are included multiple times")
	}
	return own
}

// DispatchInstallCalls hands each driver the entries it owns and can
// install, one call per driver. A failing call is logged and the next driver
// still runs; entries of the failed driver keep their previous state.
func (e *Engine) DispatchInstallCalls(ctx context.Context, entries []*Entry) {
	e.dispatchInstall(ctx, PhaseInstall, entries)
}

func (e *Engine) dispatchInstall(ctx context.Context, phase Phase, entries []*Entry) {
	for _, d := range e.drivers {
		var handled []*Entry
		for _, entry := range entries {
			if e.own.owner[entry] == d && e.canInstall(d, entry) {
				handled = append(handled, entry)
			}
		}
		if len(handled) == 0 {
			continue
		}
		_ = e.call(ctx, d, phase, callTarget{count: len(handled)}, func(ctx context.Context) error {
			return d.Install(ctx, handled, e.states)
		})
	}
}

// modifiedEntries collects every driver's modified entries.
func (e *Engine) modifiedEntries() *EntrySet {
	set := NewEntrySet()
	for _, d := range e.drivers {
		for _, m := range e.driverModified(d) {
			set.Add(m)
		}
	}
	return set
}

// extraEntries collects every driver's extra entries.
func (e *Engine) extraEntries() *EntrySet {
	set := NewEntrySet()
	for _, d := range e.drivers {
		for _, x := range e.driverExtra(d) {
			set.Add(x)
		}
	}
	return set
}
