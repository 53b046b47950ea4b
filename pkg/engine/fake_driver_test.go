package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var errFake = errors.New("fake driver failure")

// fakeDriver is a scriptable driver. The host is modelled by current, a map
// from entry identity to correctness.
type fakeDriver struct {
	name      string
	kinds     map[string]bool
	conflicts []string

	current     map[string]bool
	failInstall map[string]bool
	extra       []*Entry
	modified    []*Entry

	inventoryErr error
	installErr   error
	panicIn      string
	blockInstall bool

	// stallInstall makes Install block until it is closed, ignoring the
	// context the way a driver stuck in a syscall would.
	stallInstall chan struct{}

	onInstall func(d *fakeDriver, e *Entry)
	onUpdated func(d *fakeDriver, b *Bundle)

	installs       []string
	removes        []string
	inventoryCalls []int
	updated        []string
	notUpdated     []string
}

func newFakeDriver(name string, kinds ...string) *fakeDriver {
	d := &fakeDriver{
		name:        name,
		kinds:       make(map[string]bool),
		current:     make(map[string]bool),
		failInstall: make(map[string]bool),
	}
	for _, k := range kinds {
		d.kinds[k] = true
	}
	return d
}

// correct marks entries as already correct on the host.
func (d *fakeDriver) correct(ids ...string) *fakeDriver {
	for _, id := range ids {
		d.current[id] = true
	}
	return d
}

func (d *fakeDriver) maybePanic(method string) {
	if d.panicIn == method {
		panic(d.name + " " + method + " exploded")
	}
}

func (d *fakeDriver) Name() string        { return d.name }
func (d *fakeDriver) Deprecated() bool    { return false }
func (d *fakeDriver) Experimental() bool  { return false }
func (d *fakeDriver) Conflicts() []string { return d.conflicts }

func (d *fakeDriver) HandlesEntry(e *Entry) bool {
	d.maybePanic("HandlesEntry")
	return d.kinds[e.Kind]
}

func (d *fakeDriver) CanVerify(e *Entry) bool  { return d.kinds[e.Kind] }
func (d *fakeDriver) CanInstall(e *Entry) bool { return d.kinds[e.Kind] }
func (d *fakeDriver) CanRemove(e *Entry) bool  { return d.kinds[e.Kind] }

func (d *fakeDriver) PrimaryKey(e *Entry) string { return e.ID() }

func (d *fakeDriver) Verify(_ context.Context, e *Entry, _ []string) (bool, error) {
	d.maybePanic("Verify")
	return d.current[e.ID()], nil
}

func (d *fakeDriver) Install(ctx context.Context, entries []*Entry, states *States) error {
	d.maybePanic("Install")
	if d.blockInstall {
		<-ctx.Done()
		return ctx.Err()
	}
	if d.stallInstall != nil {
		<-d.stallInstall
		return errFake
	}
	if d.installErr != nil {
		return d.installErr
	}
	for _, e := range entries {
		d.installs = append(d.installs, e.ID())
		ok := !d.failInstall[e.ID()]
		d.current[e.ID()] = ok
		states.Set(e, ok)
		if ok {
			d.modified = append(d.modified, e)
		}
		if d.onInstall != nil {
			d.onInstall(d, e)
		}
	}
	return nil
}

func (d *fakeDriver) Remove(_ context.Context, entries []*Entry) error {
	d.maybePanic("Remove")
	for _, e := range entries {
		d.removes = append(d.removes, e.ID())
	}
	return nil
}

func (d *fakeDriver) Inventory(_ context.Context, states *States, bundles []*Bundle) error {
	d.maybePanic("Inventory")
	d.inventoryCalls = append(d.inventoryCalls, len(bundles))
	if d.inventoryErr != nil {
		return d.inventoryErr
	}
	for _, b := range bundles {
		for _, e := range b.Entries {
			if d.kinds[e.Kind] {
				states.Set(e, d.current[e.ID()])
			}
		}
	}
	return nil
}

func (d *fakeDriver) BundleUpdated(_ context.Context, b *Bundle, _ *States) error {
	d.updated = append(d.updated, b.Name)
	if d.onUpdated != nil {
		d.onUpdated(d, b)
	}
	return nil
}

func (d *fakeDriver) BundleNotUpdated(_ context.Context, b *Bundle, _ *States) error {
	d.notUpdated = append(d.notUpdated, b.Name)
	return nil
}

func (d *fakeDriver) Modified() []*Entry { return d.modified }
func (d *fakeDriver) Extra() []*Entry    { return d.extra }

// scriptedPrompter answers yes to the listed questions and records every
// question asked.
type scriptedPrompter struct {
	mu    sync.Mutex
	yes   map[string]bool
	asked []string
}

func newScriptedPrompter(yes ...string) *scriptedPrompter {
	p := &scriptedPrompter{yes: make(map[string]bool)}
	for _, q := range yes {
		p.yes[q] = true
	}
	return p
}

func (p *scriptedPrompter) Confirm(_ context.Context, question string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asked = append(p.asked, question)
	return p.yes[question]
}

// fakeGate denies the listed entry identities.
type fakeGate struct {
	deny map[string]bool
	err  error
}

func (g fakeGate) Allow(_ context.Context, e *Entry, _ string) (bool, string, error) {
	if g.err != nil {
		return false, "", g.err
	}
	if g.deny[e.ID()] {
		return false, "denied by test", nil
	}
	return true, "", nil
}

// entry builds an entry from Kind:Name and key=value attributes.
func entry(id string, attrs ...string) *Entry {
	kind, name, _ := strings.Cut(id, ":")
	e := &Entry{Kind: kind, Name: name}
	for _, kv := range attrs {
		k, v, _ := strings.Cut(kv, "=")
		e.SetAttr(k, v)
	}
	return e
}

func bundle(name string, entries ...*Entry) *Bundle {
	return &Bundle{Name: name, Entries: entries}
}

func document(bundles ...*Bundle) *Document {
	return &Document{Bundles: bundles}
}

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, doc *Document, opts Options, drivers ...Driver) *Engine {
	t.Helper()
	return newTestEngineWith(t, doc, Config{Options: opts}, drivers...)
}

func newTestEngineWith(t *testing.T, doc *Document, cfg Config, drivers ...Driver) *Engine {
	t.Helper()
	cfg.Logger = zerolog.Nop()
	tick := testEpoch
	cfg.Clock = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	e, err := New(doc, drivers, cfg)
	require.NoError(t, err)
	return e
}

func ids(entries []*Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID()
	}
	return out
}
