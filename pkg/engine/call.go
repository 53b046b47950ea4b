package engine

import (
	"context"
	"errors"
	"fmt"
)

// callTarget describes what a driver call was about, for logs and reports.
type callTarget struct {
	entry  string
	bundle string
	count  int
}

// DriverFailure is a driver call that failed and was isolated.
type DriverFailure struct {
	Driver  string     `json:"driver" yaml:"driver"`
	Phase   Phase      `json:"phase" yaml:"phase"`
	Entry   string     `json:"entry,omitempty" yaml:"entry,omitempty"`
	Bundle  string     `json:"bundle,omitempty" yaml:"bundle,omitempty"`
	Class   ErrorClass `json:"class" yaml:"class"`
	Code    string     `json:"code,omitempty" yaml:"code,omitempty"`
	Message string     `json:"message" yaml:"message"`
}

// call runs one driver call behind the isolation boundary: panics are
// recovered, the optional per-call timeout applies, and any failure is logged
// and recorded. The returned error is informational; callers carry on.
func (e *Engine) call(ctx context.Context, d Driver, phase Phase, target callTarget, fn func(context.Context) error) (err error) {
	ctx, done := e.observer.StartDriverCall(ctx, d.Name(), string(phase))

	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
		if err != nil {
			err = e.recordFailure(d, phase, target, err)
		}
		done(err)
	}()

	if e.opts.DriverTimeout <= 0 {
		return fn(ctx)
	}
	return e.bounded(ctx, fn)
}

// bounded runs fn with the per-call timeout. A call still running at the
// deadline is abandoned: the run moves on while its goroutine keeps running
// until the driver returns. Whatever the driver writes after that lands in
// the shared state store and the entries it was given.
func (e *Engine) bounded(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.DriverTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- panicError(r)
			}
		}()
		result <- fn(ctx)
	}()

	select {
	case err := <-result:
		if err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = ctx.Err()
		}
		return err
	case <-ctx.Done():
		e.log.Warn().Dur("timeout", e.opts.DriverTimeout).Msg("Abandoning driver call")
		return fmt.Errorf("call abandoned after %s: %w", e.opts.DriverTimeout, ctx.Err())
	}
}

func panicError(r any) error {
	return NewPermanentError("driver panicked", fmt.Errorf("%v", r)).WithCode(ErrCodeDriverPanic)
}

func (e *Engine) recordFailure(d Driver, phase Phase, target callTarget, err error) error {
	ee := classifyDriverError(err, d.Name(), phase, target.entry)
	e.failures = append(e.failures, DriverFailure{
		Driver:  d.Name(),
		Phase:   phase,
		Entry:   target.entry,
		Bundle:  target.bundle,
		Class:   ee.Class,
		Code:    ee.Code,
		Message: ee.Error(),
	})

	evt := e.log.Error().Err(ee).Str("driver", d.Name()).Str("phase", string(phase))
	if target.entry != "" {
		evt = evt.Str("entry", target.entry)
	}
	if target.bundle != "" {
		evt = evt.Str("bundle", target.bundle)
	}
	if target.count > 0 {
		evt = evt.Int("entries", target.count)
	}
	evt.Msg("Driver call failed")
	return ee
}

// verify runs Driver.Verify behind the isolation boundary. Errors count as
// incorrect.
func (e *Engine) verify(ctx context.Context, d Driver, phase Phase, entry *Entry) bool {
	var ok bool
	err := e.call(ctx, d, phase, callTarget{entry: entry.ID()}, func(ctx context.Context) error {
		var err error
		ok, err = d.Verify(ctx, entry, nil)
		return err
	})
	// ok is only safe to read once the call returned in time.
	return err == nil && ok
}

// predicate runs a capability check, treating a panic as false.
func (e *Engine) predicate(d Driver, what string, entry *Entry, fn func(*Entry) bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			e.recordFailure(d, e.phase, callTarget{entry: entry.ID()},
				NewPermanentError(what+" panicked", fmt.Errorf("%v", r)).WithCode(ErrCodeDriverPanic))
		}
	}()
	return fn(entry)
}

func (e *Engine) handles(d Driver, entry *Entry) bool {
	return e.predicate(d, "HandlesEntry", entry, d.HandlesEntry)
}

func (e *Engine) canVerify(d Driver, entry *Entry) bool {
	return e.predicate(d, "CanVerify", entry, d.CanVerify)
}

func (e *Engine) canInstall(d Driver, entry *Entry) bool {
	return e.predicate(d, "CanInstall", entry, d.CanInstall)
}

func (e *Engine) canRemove(d Driver, entry *Entry) bool {
	return e.predicate(d, "CanRemove", entry, d.CanRemove)
}

func (e *Engine) primaryKey(d Driver, entry *Entry) (key string) {
	defer func() {
		if r := recover(); r != nil {
			key = entry.ID()
		}
	}()
	return d.PrimaryKey(entry)
}

func (e *Engine) driverModified(d Driver) (entries []*Entry) {
	defer func() {
		if r := recover(); r != nil {
			entries = nil
		}
	}()
	return d.Modified()
}

func (e *Engine) driverExtra(d Driver) (entries []*Entry) {
	defer func() {
		if r := recover(); r != nil {
			entries = nil
		}
	}()
	return d.Extra()
}
