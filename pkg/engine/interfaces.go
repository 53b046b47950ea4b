package engine

import (
	"context"
)

// Prompter asks the operator a yes/no question in interactive mode.
type Prompter interface {
	// Confirm shows the question and returns true only for an affirmative
	// answer. Read failures count as a decline.
	Confirm(ctx context.Context, question string) bool
}

// EntryGate vetoes individual entries before they are whitelisted.
type EntryGate interface {
	// Allow reports whether the entry from the named bundle may be changed.
	// The reason explains a denial. An error denies the entry.
	Allow(ctx context.Context, e *Entry, bundle string) (allowed bool, reason string, err error)
}

// Observer receives instrumentation callbacks for phases and driver calls.
type Observer interface {
	// StartPhase is called when a phase begins; the returned function is
	// called when it ends.
	StartPhase(ctx context.Context, phase string) (context.Context, func())

	// StartDriverCall is called around every driver call; the returned
	// function receives the call's error, if any.
	StartDriverCall(ctx context.Context, driver, phase string) (context.Context, func(err error))
}

type noopObserver struct{}

func (noopObserver) StartPhase(ctx context.Context, _ string) (context.Context, func()) {
	return ctx, func() {}
}

func (noopObserver) StartDriverCall(ctx context.Context, _, _ string) (context.Context, func(error)) {
	return ctx, func(error) {}
}
