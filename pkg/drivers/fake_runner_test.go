package drivers

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/agent/pkg/engine"
)

// fakeRunner answers commands from a table keyed by the full command line.
// Unknown commands succeed with empty output.
type fakeRunner struct {
	mu        sync.Mutex
	responses map[string]Result
	handler   func(cmd string) (Result, bool)
	calls     []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: make(map[string]Result)}
}

func (r *fakeRunner) on(cmd string, res Result) *fakeRunner {
	r.responses[cmd] = res
	return r
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cmd := strings.Join(append([]string{name}, args...), " ")
	r.calls = append(r.calls, cmd)
	if r.handler != nil {
		if res, ok := r.handler(cmd); ok {
			return res, nil
		}
	}
	return r.responses[cmd], nil
}

func (r *fakeRunner) ran(cmd string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c == cmd {
			return true
		}
	}
	return false
}

type yesPrompter struct {
	answer bool
	asked  []string
}

func (p *yesPrompter) Confirm(_ context.Context, q string) bool {
	p.asked = append(p.asked, q)
	return p.answer
}

func testEnv(opts engine.Options) engine.DriverEnv {
	return engine.DriverEnv{Logger: zerolog.Nop(), Options: opts}
}

func newEntry(kind, name string, attrs ...string) *engine.Entry {
	e := &engine.Entry{Kind: kind, Name: name, Attrs: map[string]string{}}
	for _, kv := range attrs {
		k, v, _ := strings.Cut(kv, "=")
		e.Attrs[k] = v
	}
	return e
}
