package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
)

const (
	installQuestion = "Install %s: %s? (y/N): "
	removeQuestion  = "Remove %s: %s? (y/N): "
)

// TextPrompter asks questions on a writer and reads answers line by line.
type TextPrompter struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewTextPrompter returns a prompter reading from in and writing to out.
func NewTextPrompter(in io.Reader, out io.Writer) *TextPrompter {
	return &TextPrompter{in: bufio.NewReader(in), out: out}
}

// Confirm implements Prompter. Only "y" or "Y" confirms.
func (p *TextPrompter) Confirm(ctx context.Context, question string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ctx.Err() != nil {
		return false
	}
	fmt.Fprint(p.out, question)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(p.out)
		return false
	}
	answer := strings.TrimSpace(line)
	return answer == "y" || answer == "Y"
}

// promptFilter asks about each entry in Kind:Name order and returns the
// confirmed ones. Entries that cannot be acted on are skipped without a
// question. The entry's own prompt text replaces the template when present.
func (e *Engine) promptFilter(ctx context.Context, template string, entries []*Entry) []*Entry {
	var kept []*Entry
	for _, entry := range SortEntries(slices.Clone(entries)) {
		if e.own.unhandled.Has(entry) {
			continue
		}
		question := entry.Prompt
		if question == "" {
			question = fmt.Sprintf(template, entry.Kind, entry.Name)
		}
		if e.prompter.Confirm(ctx, question) {
			kept = append(kept, entry)
		} else {
			e.log.Debug().Str("entry", entry.ID()).Msg("Declined by operator")
		}
	}
	return kept
}
