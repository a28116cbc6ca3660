// Package steps defines the step contract consumed by the plan builder and
// the runner, the step registry, and the concrete build steps.
package steps

import (
	"context"
	"fmt"
	"slices"

	"github.com/systemstart/browser-build/pkg/buildctx"
)

// Phase is an advisory grouping tag. Execution order always follows the
// pipeline list, never the phase.
type Phase string

const (
	PhasePrepare Phase = "prepare"
	PhaseBuild   Phase = "build"
	PhaseSign    Phase = "sign"
	PhasePackage Phase = "package"
	PhasePublish Phase = "publish"
)

// Definition is the static description of a step.
type Definition struct {
	Name           string
	Phase          Phase
	Order          int
	Description    string
	Requires       []string
	Provides       []string
	Platforms      []buildctx.Platform
	SupportsDryRun bool
}

// SupportsPlatform reports whether the step applies to platform.
func (d Definition) SupportsPlatform(platform buildctx.Platform) bool {
	return slices.Contains(d.Platforms, platform)
}

// Result is what a step execution reports back to the runner.
type Result struct {
	Success   bool
	Message   string
	Artifacts map[string]any
	Metadata  map[string]any
}

// Succeeded builds a successful Result.
func Succeeded(message string) *Result {
	return &Result{Success: true, Message: message, Artifacts: map[string]any{}, Metadata: map[string]any{}}
}

// Failed builds an unsuccessful Result.
func Failed(format string, args ...any) *Result {
	return &Result{Message: fmt.Sprintf(format, args...)}
}

// With records an artifact on r and returns r.
func (r *Result) With(key string, value any) *Result {
	if r.Artifacts == nil {
		r.Artifacts = map[string]any{}
	}
	r.Artifacts[key] = value
	return r
}

// WithMeta records a metadata value on r and returns r.
func (r *Result) WithMeta(key string, value any) *Result {
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	r.Metadata[key] = value
	return r
}

// Step is the interface all pipeline steps implement.
//
// ShouldRun is a pure eligibility check evaluated at plan-build time.
// Validate is a cheap precondition check and must not mutate anything; it
// returns an *errs.ValidationError when preconditions are unmet. Execute
// performs the side effect and is called at most once per plan.
type Step interface {
	Definition() Definition
	ShouldRun(p buildctx.Params, cfg Config) bool
	Validate(ctx context.Context, p buildctx.Params, a buildctx.Artifacts) error
	Execute(ctx context.Context, p buildctx.Params, a buildctx.Artifacts, cfg Config) (*Result, error)
}

// base supplies the default ShouldRun and Validate.
type base struct {
	def   Definition
	tools *Toolbox
}

func (b *base) Definition() Definition { return b.def }

func (b *base) ShouldRun(p buildctx.Params, _ Config) bool {
	return b.def.SupportsPlatform(p.Platform)
}

func (b *base) Validate(context.Context, buildctx.Params, buildctx.Artifacts) error {
	return nil
}

// artifactString returns a string artifact or "".
func artifactString(a buildctx.Artifacts, key string) string {
	v, ok := a.Artifact(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
