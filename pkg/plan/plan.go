// Package plan turns a pipeline's step list into a BuildPlan for one build
// context and checks that every step's required artifacts are promised by
// an earlier step.
package plan

import (
	"slices"

	"github.com/systemstart/browser-build/pkg/buildctx"
	"github.com/systemstart/browser-build/pkg/errs"
	"github.com/systemstart/browser-build/pkg/steps"
)

// BoundStep is a step instance bound to its inline configuration and its
// position in the plan.
type BoundStep struct {
	Step   steps.Step
	Config steps.Config
	Index  int

	// Ref is the name as written in the pipeline, before alias resolution.
	Ref string
}

// Name is the concrete step name.
func (b BoundStep) Name() string {
	return b.Step.Definition().Name
}

// Plan is the ordered list of steps to run against Params.
type Plan struct {
	Steps  []BoundStep
	Params buildctx.Params
}

// Names lists the concrete step names in plan order.
func (p *Plan) Names() []string {
	names := make([]string, len(p.Steps))
	for i, b := range p.Steps {
		names[i] = b.Name()
	}
	return names
}

// Len is the number of bound steps.
func (p *Plan) Len() int { return len(p.Steps) }

// Contains reports whether a step named name is in the plan.
func (p *Plan) Contains(name string) bool {
	return slices.Contains(p.Names(), name)
}

// ValidateDependencies walks bound in order with a running set of promised
// artifacts, seeded with available. The first step whose requirements are
// not all promised fails with an UnsatisfiedDependencyError.
func ValidateDependencies(bound []BoundStep, available []string) error {
	promised := make(map[string]bool, len(available))
	for _, key := range available {
		promised[key] = true
	}

	for _, b := range bound {
		def := b.Step.Definition()

		var missing []string
		for _, key := range def.Requires {
			if !promised[key] {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			slices.Sort(missing)
			return &errs.UnsatisfiedDependencyError{Step: def.Name, Index: b.Index, Missing: missing}
		}

		for _, key := range def.Provides {
			promised[key] = true
		}
	}
	return nil
}
