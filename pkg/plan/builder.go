package plan

import (
	"log/slog"

	"github.com/systemstart/browser-build/pkg/api"
	"github.com/systemstart/browser-build/pkg/buildctx"
	"github.com/systemstart/browser-build/pkg/steps"
)

// StepSource resolves a concrete step name to a fresh step instance.
type StepSource interface {
	Lookup(name string) (steps.Step, error)
}

// Builder builds plans from step references.
type Builder struct {
	source    StepSource
	available []string
}

// Option configures a Builder.
type Option func(*Builder)

// WithAvailable seeds the dependency check with artifact keys that are
// already in the store, such as the per-architecture outputs of a universal
// build's sub-runs.
func WithAvailable(keys ...string) Option {
	return func(b *Builder) {
		b.available = append(b.available, keys...)
	}
}

// NewBuilder creates a Builder resolving names against source.
func NewBuilder(source StepSource, opts ...Option) *Builder {
	b := &Builder{source: source}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build resolves refs, in declaration order, into a plan for p. For each
// reference the platform alias is resolved, the skip and allow lists are
// applied, the step is looked up, and both the step's own eligibility check
// and the reference's when predicate must pass. Unknown steps and
// unsatisfied dependencies fail the build before anything runs.
func (b *Builder) Build(refs []api.StepRef, p buildctx.Params) (*Plan, error) {
	plan := &Plan{Params: p}

	for _, ref := range refs {
		name, err := steps.ResolveAlias(ref.Name, p.Platform)
		if err != nil {
			return nil, err
		}

		if p.ShouldSkip(name) {
			slog.Debug("step filtered out", "step", name)
			continue
		}

		step, err := b.source.Lookup(name)
		if err != nil {
			return nil, err
		}

		cfg := steps.Config(ref.Config)
		if !step.ShouldRun(p, cfg) {
			slog.Debug("step not eligible", "step", name, "platform", p.Platform, "arch", p.Arch)
			continue
		}

		if ref.When != "" && !EvalWhen(ref.When, p) {
			slog.Debug("step excluded by when", "step", name, "when", ref.When)
			continue
		}

		plan.Steps = append(plan.Steps, BoundStep{
			Step:   step,
			Config: cfg,
			Index:  len(plan.Steps),
			Ref:    ref.Name,
		})
	}

	if err := ValidateDependencies(plan.Steps, b.available); err != nil {
		return nil, err
	}

	slog.Debug("plan built", "steps", plan.Names())
	return plan, nil
}
