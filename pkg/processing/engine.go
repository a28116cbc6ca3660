// Package processing wires the pieces of a build together: it loads the
// configuration document, resolves parameters and the pipeline, builds the
// plan and drives the runner, splitting universal builds into one sub-run
// per architecture.
package processing

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/systemstart/browser-build/pkg/api"
	"github.com/systemstart/browser-build/pkg/buildctx"
	"github.com/systemstart/browser-build/pkg/plan"
	"github.com/systemstart/browser-build/pkg/resolve"
	"github.com/systemstart/browser-build/pkg/runner"
	"github.com/systemstart/browser-build/pkg/steps"
)

// Sink receives lifecycle events from every run.
type Sink interface {
	Register(s runner.Subscriber)
}

// Options describe one orchestrated build.
type Options struct {
	// ConfigFile is the configuration document; empty means none.
	ConfigFile string
	Args       resolve.Args
	// Env overrides entries of the pipeline's env block.
	Env map[string]string

	Lookup   api.LookupFunc
	Defaults resolve.Defaults
	// Phases defaults to resolve.DefaultPhases.
	Phases *resolve.PhaseTable

	// Registry defaults to the built-in steps using a toolbox for the
	// resolved dry-run mode.
	Registry *steps.Registry
	Sinks    []Sink
	Runner   []runner.Option
}

// Outcome is what a build produced.
type Outcome struct {
	Resolution *resolve.Resolution
	// Reports holds one report per run: the per-architecture sub-runs of
	// a universal build first, then the main run.
	Reports []*runner.Report
	Store   *buildctx.Store
}

// Run executes the build described by opts. Configuration and plan errors
// are returned before any step runs.
func Run(ctx context.Context, opts Options) (*Outcome, error) {
	lookup := opts.Lookup
	if lookup == nil {
		lookup = api.OSLookup
	}

	var doc *api.Document
	if opts.ConfigFile != "" {
		d, err := api.LoadDocument(opts.ConfigFile, lookup)
		if err != nil {
			return nil, err
		}
		doc = d
		slog.Info("loaded config", "filename", d.FilePath, "hash", d.Hash)
	}

	table := resolve.DefaultPhases()
	if opts.Phases != nil {
		table = *opts.Phases
	}

	res, err := resolve.Resolve(opts.Args, doc, lookup, opts.Defaults, table)
	if err != nil {
		return nil, err
	}
	res.Params.Env = MergeEnv(res.Params.Env, opts.Env)

	registry := opts.Registry
	if registry == nil {
		registry = steps.Default(steps.NewToolbox(res.Params.DryRun))
	}

	name := pipelineName(res.Selection, doc)
	r := runner.New(append([]runner.Option{runner.WithName(name)}, opts.Runner...)...)
	for _, s := range opts.Sinks {
		s.Register(r)
	}

	meta := map[string]any{"mode": string(res.Selection.Mode)}
	if doc != nil {
		meta["config_file"] = doc.FilePath
		meta["config_hash"] = doc.Hash
	}

	out := &Outcome{Resolution: res, Store: buildctx.NewStore()}
	if res.Params.Arch == buildctx.Universal {
		err = runUniversal(ctx, r, registry, res.Selection.Refs, res.Params, meta, out)
	} else {
		err = runSingle(ctx, r, registry, res.Selection.Refs, res.Params, meta, out)
	}
	return out, err
}

func runSingle(ctx context.Context, r *runner.Runner, registry *steps.Registry, refs []api.StepRef, p buildctx.Params, meta map[string]any, out *Outcome) error {
	pl, err := plan.NewBuilder(registry).Build(refs, p)
	if err != nil {
		return err
	}
	report, err := r.Run(ctx, pl, out.Store, meta)
	out.Reports = append(out.Reports, report)
	return err
}

// runUniversal runs the leading prepare and build steps once per real
// architecture, each against its own store, merges their artifacts into
// the universal store under arch-suffixed keys, and then runs the rest of
// the pipeline once. A pipeline made only of prepare and build steps gets
// no main run unless its builds can be merged. Every plan is built before
// anything runs.
func runUniversal(ctx context.Context, r *runner.Runner, registry *steps.Registry, refs []api.StepRef, p buildctx.Params, meta map[string]any, out *Outcome) error {
	prefix, suffix, err := SplitUniversal(refs, registry, p)
	if err != nil {
		return err
	}

	subPlans := make([]*plan.Plan, 0, len(buildctx.UniversalArches))
	var available []string
	for _, arch := range buildctx.UniversalArches {
		pl, err := plan.NewBuilder(registry).Build(prefix, p.ForArch(arch))
		if err != nil {
			return fmt.Errorf("planning %s build: %w", arch, err)
		}
		for _, b := range pl.Steps {
			for _, key := range b.Step.Definition().Provides {
				available = append(available, buildctx.ArchKey(key, arch))
			}
		}
		subPlans = append(subPlans, pl)
	}

	if needsMerge(suffix, registry, available) {
		suffix = append([]api.StepRef{{Name: steps.MergeUniversalName}}, suffix...)
	}
	mainPlan, err := plan.NewBuilder(registry, plan.WithAvailable(available...)).Build(suffix, p)
	if err != nil {
		return err
	}

	for i, arch := range buildctx.UniversalArches {
		if subPlans[i].Len() == 0 {
			continue
		}
		slog.Info("universal build: running architecture", "arch", arch, "steps", subPlans[i].Len())
		sub := buildctx.NewStore()
		subMeta := maps.Clone(meta)
		subMeta["universal_part"] = string(arch)

		report, err := r.Run(ctx, subPlans[i], sub, subMeta)
		out.Reports = append(out.Reports, report)
		if err != nil {
			return fmt.Errorf("%s build: %w", arch, err)
		}
		out.Store.MergeArch(sub, arch)
	}

	if mainPlan.Len() == 0 {
		return nil
	}
	report, err := r.Run(ctx, mainPlan, out.Store, meta)
	out.Reports = append(out.Reports, report)
	return err
}

// needsMerge reports whether merge-universal has to be inserted before
// suffix: when later steps would consume the merged build, or when the
// per-architecture runs produce everything the merge needs.
func needsMerge(suffix []api.StepRef, registry *steps.Registry, available []string) bool {
	if slices.ContainsFunc(suffix, func(ref api.StepRef) bool { return ref.Name == steps.MergeUniversalName }) {
		return false
	}
	if len(suffix) > 0 {
		return true
	}
	merge, err := registry.Lookup(steps.MergeUniversalName)
	if err != nil {
		return false
	}
	for _, key := range merge.Definition().Requires {
		if !slices.Contains(available, key) {
			return false
		}
	}
	return true
}

// SplitUniversal splits refs into the leading run of prepare and build
// steps, which a universal build repeats per architecture, and the rest.
// merge-universal always starts the rest. Steps filtered out by p's skip
// and allow lists do not end the leading run.
func SplitUniversal(refs []api.StepRef, registry *steps.Registry, p buildctx.Params) (prefix, suffix []api.StepRef, err error) {
	for i, ref := range refs {
		name, err := steps.ResolveAlias(ref.Name, p.Platform)
		if err != nil {
			return nil, nil, err
		}
		if p.ShouldSkip(name) {
			continue
		}
		step, err := registry.Lookup(name)
		if err != nil {
			return nil, nil, err
		}
		phase := step.Definition().Phase
		if name == steps.MergeUniversalName || (phase != steps.PhasePrepare && phase != steps.PhaseBuild) {
			return refs[:i], refs[i:], nil
		}
	}
	return refs, nil, nil
}

func pipelineName(sel *resolve.Selection, doc *api.Document) string {
	switch {
	case sel.Name != "":
		return sel.Name
	case doc != nil && doc.Name != "":
		return doc.Name
	}
	return string(sel.Mode)
}
