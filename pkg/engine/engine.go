package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds the collaborators of an Engine.
type Config struct {
	// Options are the operator settings of the run.
	Options Options

	// Logger receives the run log. Use zerolog.Nop() to discard it.
	Logger zerolog.Logger

	// Prompter is required in interactive mode.
	Prompter Prompter

	// Gate optionally vetoes entries before they are whitelisted.
	Gate EntryGate

	// Observer optionally receives phase and driver call callbacks.
	Observer Observer

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Stamp is a named point in time of the run.
type Stamp struct {
	Name string    `json:"name" yaml:"name"`
	At   time.Time `json:"at" yaml:"at"`
}

// Engine runs one configuration pass over a document with a fixed set of
// drivers. An Engine is single use and not safe for concurrent use.
type Engine struct {
	runID    string
	doc      *Document
	drivers  []Driver
	opts     Options
	log      zerolog.Logger
	prompter Prompter
	gate     EntryGate
	observer Observer
	now      func() time.Time

	// selection is the working bundle selection, scope the bundles that are
	// inventoried and failed the bundles dropped by a failed prerequisite.
	selection []*Bundle
	scope     []*Bundle
	failed    map[*Bundle]bool
	bundleOf  map[*Entry]*Bundle

	own    ownership
	states *States

	// pending and candidates are snapshots taken before the first Decide.
	pending    *EntrySet
	candidates *EntrySet
	whitelist  *EntrySet
	blacklist  *EntrySet
	removal    *EntrySet

	phase    Phase
	failures []DriverFailure
	stamps   []Stamp

	inventoried bool
	decided     bool
	installed   bool
}

// New prepares an engine for a run. It computes the bundle selection and
// entry ownership but does not call any driver operation yet.
func New(doc *Document, drivers []Driver, cfg Config) (*Engine, error) {
	if doc == nil {
		return nil, fmt.Errorf("document is required")
	}
	if err := cfg.Options.Validate(); err != nil {
		return nil, NewPermanentError("invalid options", err).WithCode(ErrCodeValidation)
	}
	if cfg.Options.Interactive && cfg.Prompter == nil {
		return nil, NewPermanentError("interactive mode requires a prompter", nil).WithCode(ErrCodeValidation)
	}

	e := &Engine{
		runID:     uuid.NewString(),
		doc:       doc,
		drivers:   drivers,
		opts:      cfg.Options,
		log:       cfg.Logger.With().Str("component", "engine").Logger(),
		prompter:  cfg.Prompter,
		gate:      cfg.Gate,
		observer:  cfg.Observer,
		now:       cfg.Clock,
		failed:    make(map[*Bundle]bool),
		bundleOf:  make(map[*Entry]*Bundle),
		states:    NewStates(),
		whitelist: NewEntrySet(),
		blacklist: NewEntrySet(),
		removal:   NewEntrySet(),
		phase:     PhaseLoad,
	}
	if e.observer == nil {
		e.observer = noopObserver{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.log = e.log.With().Str("run_id", e.runID).Logger()

	for _, b := range doc.Bundles {
		for _, entry := range b.Entries {
			if _, seen := e.bundleOf[entry]; !seen {
				e.bundleOf[entry] = b
			}
		}
	}

	e.selection = e.selectBundles()
	e.scope = doc.Bundles
	if e.opts.Quick {
		e.scope = e.selection
	}
	e.own = e.resolveOwnership(entriesOf(e.scope))
	e.stamp("initialization")

	return e, nil
}

// RunID returns the unique identifier of this run.
func (e *Engine) RunID() string {
	return e.runID
}

// States returns the state store.
func (e *Engine) States() *States {
	return e.states
}

// Whitelist returns the entries approved for change.
func (e *Engine) Whitelist() []*Entry {
	return e.whitelist.Items()
}

// Blacklist returns the incorrect entries deliberately left alone.
func (e *Engine) Blacklist() []*Entry {
	return e.blacklist.Items()
}

// Removal returns the extra entries scheduled for removal.
func (e *Engine) Removal() []*Entry {
	return e.removal.Items()
}

// Unhandled returns the entries no driver claims.
func (e *Engine) Unhandled() []*Entry {
	return e.own.unhandled.Items()
}

// Selection returns the bundles still selected for this run.
func (e *Engine) Selection() []*Bundle {
	var out []*Bundle
	for _, b := range e.selection {
		if !e.failed[b] {
			out = append(out, b)
		}
	}
	return out
}

// Execute runs the whole pipeline and returns the run report:
//
//	Inventory -> InstallImportant -> Decide -> Install -> Remove -> [ReInventory] -> Report
//
// Driver failures never abort the run; the only errors returned come from
// context cancellation before the run started.
func (e *Engine) Execute(ctx context.Context) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := e.Inventory(ctx); err != nil {
		return nil, err
	}
	e.stamp("inventory")
	e.CondDisplayState("initial")

	if err := e.InstallImportant(ctx); err != nil {
		return nil, err
	}

	if !e.opts.OnlyImportant {
		if err := e.Decide(ctx); err != nil {
			return nil, err
		}
		if err := e.Install(ctx); err != nil {
			return nil, err
		}
		e.stamp("install")
		if err := e.Remove(ctx); err != nil {
			return nil, err
		}
		e.stamp("remove")
	}

	if e.modifiedEntries().Len() > 0 {
		e.ReInventory(ctx)
	}
	e.stamp("finished")
	e.CondDisplayState("final")

	return e.Report(), nil
}

func (e *Engine) stamp(name string) {
	e.stamps = append(e.stamps, Stamp{Name: name, At: e.now()})
}

// startPhase marks the current phase for logs and notifies the observer.
func (e *Engine) startPhase(ctx context.Context, phase Phase) (context.Context, func()) {
	e.phase = phase
	ctx, done := e.observer.StartPhase(ctx, string(phase))
	e.log.Debug().Str("phase", string(phase)).Msg("Phase started")
	return ctx, done
}
