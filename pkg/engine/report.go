package engine

import (
	"slices"
	"time"
)

// ReportVersion is the version of the report format.
const ReportVersion = "2.0"

// Conflict is an entry claimed by more than one driver.
type Conflict struct {
	Entry   string   `json:"entry" yaml:"entry"`
	Drivers []string `json:"drivers" yaml:"drivers"`
}

// Flags are the run options recorded in the report.
type Flags struct {
	DryRun        bool `json:"dry_run" yaml:"dry_run"`
	OnlyImportant bool `json:"only_important" yaml:"only_important"`
}

// Report is the structured result of a run.
type Report struct {
	RunID    string   `json:"run_id" yaml:"run_id"`
	Version  string   `json:"version" yaml:"version"`
	Revision string   `json:"revision" yaml:"revision"`
	State    RunState `json:"state" yaml:"state"`
	Flags    Flags    `json:"flags" yaml:"flags"`

	Total         int `json:"total" yaml:"total"`
	GoodCount     int `json:"good" yaml:"good"`
	BadCount      int `json:"bad" yaml:"bad"`
	ModifiedCount int `json:"modified" yaml:"modified"`
	ExtraCount    int `json:"extra" yaml:"extra"`

	// Entry lists are deep copies with the prompt text cleared.
	Modified []*Entry `json:"modified_entries,omitempty" yaml:"modified_entries,omitempty"`
	Extra    []*Entry `json:"extra_entries,omitempty" yaml:"extra_entries,omitempty"`
	Good     []*Entry `json:"good_entries,omitempty" yaml:"good_entries,omitempty"`
	Bad      []*Entry `json:"bad_entries,omitempty" yaml:"bad_entries,omitempty"`

	Unhandled      []string        `json:"unhandled,omitempty" yaml:"unhandled,omitempty"`
	Conflicts      []Conflict      `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
	Duplicates     []string        `json:"duplicates,omitempty" yaml:"duplicates,omitempty"`
	DriverFailures []DriverFailure `json:"driver_failures,omitempty" yaml:"driver_failures,omitempty"`

	Stamps     []Stamp   `json:"stamps" yaml:"stamps"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
}

// Report assembles the run report from the current states and the drivers'
// modified and extra entries. It may be called at any point of the run.
func (e *Engine) Report() *Report {
	entries := e.states.Entries()
	if e.opts.OnlyImportant {
		entries = slices.DeleteFunc(entries, func(x *Entry) bool { return !x.Important() })
	}

	var good, bad []*Entry
	for _, entry := range entries {
		if e.states.Correct(entry) {
			good = append(good, entry)
		} else {
			bad = append(bad, entry)
		}
	}
	modified := e.modifiedEntries().Items()
	extra := e.extraEntries().Items()

	revision := e.doc.Revision
	if revision == "" {
		revision = "-1"
	}
	state := RunStateClean
	if len(bad) > 0 {
		state = RunStateDirty
	}

	r := &Report{
		RunID:    e.runID,
		Version:  ReportVersion,
		Revision: revision,
		State:    state,
		Flags: Flags{
			DryRun:        e.opts.DryRun,
			OnlyImportant: e.opts.OnlyImportant,
		},
		Total:          len(entries),
		GoodCount:      len(good),
		BadCount:       len(bad),
		ModifiedCount:  len(modified),
		ExtraCount:     len(extra),
		Modified:       reportEntries(modified),
		Extra:          reportEntries(extra),
		Good:           reportEntries(good),
		Bad:            reportEntries(bad),
		Unhandled:      entryIDs(e.own.unhandled.Items()),
		Duplicates:     slices.Clone(e.own.duplicates),
		DriverFailures: slices.Clone(e.failures),
		Stamps:         slices.Clone(e.stamps),
	}

	for _, entry := range SortEntries(mapKeys(e.own.conflicts)) {
		r.Conflicts = append(r.Conflicts, Conflict{Entry: entry.ID(), Drivers: e.own.conflicts[entry]})
	}
	if len(r.Stamps) > 0 {
		r.StartedAt = r.Stamps[0].At
		r.FinishedAt = r.Stamps[len(r.Stamps)-1].At
	}
	return r
}

// Clean reports whether every reported entry is correct.
func (r *Report) Clean() bool {
	return r.State == RunStateClean
}

// Duration returns the wall time between the first and last stamp.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary returns the final-phase summary of the report.
func (r *Report) Summary(showExtra bool) Summary {
	return newSummary("final", r.Good, r.Bad, r.Extra, showExtra)
}

func reportEntries(entries []*Entry) []*Entry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]*Entry, len(entries))
	for i, entry := range entries {
		c := entry.Clone()
		c.Prompt = ""
		out[i] = c
	}
	return out
}

func mapKeys(m map[*Entry][]string) []*Entry {
	keys := make([]*Entry, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
