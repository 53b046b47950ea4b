package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/agent/pkg/engine"
)

// Gate vetoes entries with rego policies. It implements engine.EntryGate.
type Gate struct {
	query    rego.PreparedEvalQuery
	mode     engine.DecisionMode
	policies []string
	logger   zerolog.Logger
}

// NewGate compiles the policies into one prepared deny query. Mode is passed
// to the policies as input.mode.
func NewGate(ctx context.Context, logger zerolog.Logger, policies []Policy, mode engine.DecisionMode) (*Gate, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("no policies to compile")
	}

	opts := []func(*rego.Rego){
		rego.Query(DenyQuery),
		rego.StrictBuiltinErrors(true),
	}
	names := make([]string, 0, len(policies))
	for _, p := range policies {
		filename := p.Source
		if filename == "" {
			filename = p.Name + ".rego"
		}
		opts = append(opts, rego.Module(filename, p.Rego))
		names = append(names, p.Name)
	}

	query, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile policies: %w", err)
	}

	logger = logger.With().Str("component", "policy-gate").Logger()
	logger.Info().Strs("policies", names).Msg("Policy gate ready")

	return &Gate{query: query, mode: mode, policies: names, logger: logger}, nil
}

// LoadGate loads the policies found under paths and compiles them.
func LoadGate(ctx context.Context, logger zerolog.Logger, paths []string, mode engine.DecisionMode) (*Gate, error) {
	policies, err := NewLoader(logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return nil, err
	}
	return NewGate(ctx, logger, policies, mode)
}

// Policies returns the names of the compiled policies.
func (g *Gate) Policies() []string {
	return g.policies
}

// Allow evaluates the deny rule for one entry. An undefined or empty deny
// set allows the entry; every message in it is part of the reason.
func (g *Gate) Allow(ctx context.Context, e *engine.Entry, bundle string) (bool, string, error) {
	attrs := e.Attrs
	if attrs == nil {
		attrs = map[string]string{}
	}
	input := Input{
		Entry:  InputEntry{Kind: e.Kind, Name: e.Name, Attrs: attrs},
		Bundle: bundle,
		Mode:   string(g.mode),
	}

	rs, err := g.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, "", fmt.Errorf("policy evaluation failed for %s: %w", e.ID(), err)
	}

	var reasons []string
	for _, result := range rs {
		for _, expr := range result.Expressions {
			reasons = append(reasons, denyMessages(expr.Value)...)
		}
	}
	if len(reasons) == 0 {
		return true, "", nil
	}
	sort.Strings(reasons)

	g.logger.Debug().Str("entry", e.ID()).Str("bundle", bundle).Strs("reasons", reasons).Msg("Entry denied by policy")
	return false, strings.Join(reasons, "; "), nil
}

// denyMessages flattens a deny set. Messages are strings, or objects with a
// message field.
func denyMessages(v any) []string {
	set, ok := v.([]any)
	if !ok {
		if b, isBool := v.(bool); isBool && !b {
			return nil
		}
		return []string{fmt.Sprint(v)}
	}
	out := make([]string, 0, len(set))
	for _, item := range set {
		switch m := item.(type) {
		case string:
			out = append(out, m)
		case map[string]any:
			if msg, ok := m["message"].(string); ok {
				out = append(out, msg)
				continue
			}
			out = append(out, fmt.Sprint(m))
		default:
			out = append(out, fmt.Sprint(m))
		}
	}
	return out
}
