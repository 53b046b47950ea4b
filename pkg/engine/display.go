package engine

import (
	"fmt"
	"io"
	"sort"
)

// Summary is the operator-facing tally printed at the start and end of a run.
type Summary struct {
	Phase     string
	Correct   int
	Incorrect int
	Unmanaged int

	// Bad lists incorrect entries as Kind:type:Name, final phase only.
	Bad []string

	// Extra lists unmanaged entries, final phase only and on request.
	Extra []string
}

func newSummary(phase string, good, bad, extra []*Entry, showExtra bool) Summary {
	s := Summary{
		Phase:     phase,
		Correct:   len(good),
		Incorrect: len(bad),
		Unmanaged: len(extra),
	}
	if phase != "final" {
		return s
	}
	for _, entry := range bad {
		s.Bad = append(s.Bad, entry.Label())
	}
	sort.Strings(s.Bad)
	if showExtra {
		for _, entry := range extra {
			s.Extra = append(s.Extra, entry.Label())
		}
		sort.Strings(s.Extra)
	}
	return s
}

// Total returns the number of managed entries.
func (s Summary) Total() int {
	return s.Correct + s.Incorrect
}

// Lines renders the summary one line at a time.
func (s Summary) Lines() []string {
	lines := []string{
		fmt.Sprintf("Phase: %s", s.Phase),
		fmt.Sprintf("Correct entries:        %d", s.Correct),
		fmt.Sprintf("Incorrect entries:      %d", s.Incorrect),
	}
	for _, label := range s.Bad {
		lines = append(lines, "  "+label)
	}
	lines = append(lines,
		fmt.Sprintf("Total managed entries: %d", s.Total()),
		fmt.Sprintf("Unmanaged entries:      %d", s.Unmanaged),
	)
	for _, label := range s.Extra {
		lines = append(lines, "  "+label)
	}
	if s.Incorrect == 0 && s.Unmanaged == 0 {
		lines = append(lines, "All entries correct.")
	}
	return lines
}

// WriteTo writes the summary lines to w.
func (s Summary) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, line := range s.Lines() {
		n, err := fmt.Fprintln(w, line)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// CondDisplayState logs the summary for the given phase. Incorrect entries
// are listed only in the final phase, extras only when ShowExtra is set.
func (e *Engine) CondDisplayState(phase string) {
	entries := e.states.Entries()
	if e.opts.OnlyImportant && phase == "final" {
		entries = filterEntries(entries, (*Entry).Important)
	}
	var good, bad []*Entry
	for _, entry := range entries {
		if e.states.Correct(entry) {
			good = append(good, entry)
		} else {
			bad = append(bad, entry)
		}
	}

	s := newSummary(phase, good, bad, e.extraEntries().Items(), e.opts.ShowExtra)
	for _, line := range s.Lines() {
		e.log.Info().Str("phase", phase).Msg(line)
	}
}

func filterEntries(entries []*Entry, keep func(*Entry) bool) []*Entry {
	var out []*Entry
	for _, entry := range entries {
		if keep(entry) {
			out = append(out, entry)
		}
	}
	return out
}
