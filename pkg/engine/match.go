package engine

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Pattern is one decision-list item: a (kind, name) pair where each half is
// a shell-style glob matched independently. A '*' in the name also matches
// path separators, so ("Path", "/etc/*") covers nested files.
type Pattern struct {
	Kind string
	Name string

	kind glob.Glob
	name glob.Glob
}

// NewPattern compiles a (kind, name) pattern.
func NewPattern(kind, name string) (Pattern, error) {
	p := Pattern{Kind: kind, Name: name}

	var err error
	if p.kind, err = glob.Compile(kind); err != nil {
		return Pattern{}, fmt.Errorf("invalid kind pattern %q: %w", kind, err)
	}
	if p.name, err = glob.Compile(name); err != nil {
		return Pattern{}, fmt.Errorf("invalid name pattern %q: %w", name, err)
	}
	return p, nil
}

// ParsePattern parses a "Kind:Name" pattern. The name may itself contain
// colons; only the first one separates the halves.
func ParsePattern(s string) (Pattern, error) {
	kind, name, ok := strings.Cut(s, ":")
	if !ok || kind == "" || name == "" {
		return Pattern{}, fmt.Errorf("invalid decision pattern %q: want Kind:Name", s)
	}
	return NewPattern(kind, name)
}

// MustPattern is like NewPattern but panics on error.
func MustPattern(kind, name string) Pattern {
	p, err := NewPattern(kind, name)
	if err != nil {
		panic(err)
	}
	return p
}

// Matches reports whether the pattern matches the given kind and name.
// An exact pair matches without glob evaluation.
func (p Pattern) Matches(kind, name string) bool {
	if p.Kind == kind && p.Name == name {
		return true
	}
	if p.kind == nil || p.name == nil {
		return false
	}
	return p.kind.Match(kind) && p.name.Match(name)
}

// String returns the Kind:Name form of the pattern.
func (p Pattern) String() string {
	return p.Kind + ":" + p.Name
}

// DecisionList is an operator-supplied list of patterns.
type DecisionList []Pattern

// ParseDecisionList parses "Kind:Name" items.
func ParseDecisionList(items []string) (DecisionList, error) {
	list := make(DecisionList, 0, len(items))
	for _, item := range items {
		p, err := ParsePattern(item)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, nil
}

// Matches reports whether any pattern matches the entry.
func (l DecisionList) Matches(e *Entry) bool {
	for _, p := range l {
		if p.Matches(e.Kind, e.Name) {
			return true
		}
	}
	return false
}

// Decision couples a decision mode with its list.
type Decision struct {
	Mode DecisionMode
	List DecisionList
}

// Allows reports whether the decision lets the entry be changed. In
// whitelist mode an entry must match the list; in blacklist mode it must not.
func (d Decision) Allows(e *Entry) bool {
	switch d.Mode {
	case DecisionWhitelist:
		return d.List.Matches(e)
	case DecisionBlacklist:
		return !d.List.Matches(e)
	default:
		return true
	}
}
