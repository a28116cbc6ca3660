// Package runner executes a BuildPlan: strictly in order, one step at a
// time, halting on the first failure outside dry runs, and emitting
// lifecycle events to subscribers.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/systemstart/browser-build/pkg/buildctx"
	"github.com/systemstart/browser-build/pkg/errs"
	"github.com/systemstart/browser-build/pkg/plan"
	"github.com/systemstart/browser-build/pkg/steps"
)

// Runner drives plans. A Runner may run several plans in sequence (the
// per-architecture sub-runs of a universal build share one); each run gets
// its own run ID.
type Runner struct {
	Bus

	name  string
	now   func() time.Time
	newID func() string
}

// Option configures a Runner.
type Option func(*Runner)

// WithName sets the pipeline name reported on events.
func WithName(name string) Option {
	return func(r *Runner) { r.name = name }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithRunIDs replaces the run ID generator.
func WithRunIDs(newID func() string) Option {
	return func(r *Runner) { r.newID = newID }
}

// New creates a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{
		name:  "pipeline",
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StepReport records how one bound step ended.
type StepReport struct {
	Name     string
	Index    int
	Status   StepStatus
	Message  string
	Duration time.Duration
	Err      error
}

// Report summarises one run.
type Report struct {
	RunID    string
	Pipeline string
	State    State
	Success  bool
	Message  string
	Started  time.Time
	Duration time.Duration
	Steps    []StepReport

	// FailedStep names the step that halted the run, if any.
	FailedStep string
}

// Run executes p against store. Metadata is attached to the PIPELINE_START
// event. The returned error is nil only when the run completed; it is an
// *errs.InterruptError when ctx was cancelled, and the failing step's
// validation or execution error otherwise.
//
// Only successful steps' artifacts and metadata are merged into store.
func (r *Runner) Run(ctx context.Context, p *plan.Plan, store *buildctx.Store, metadata map[string]any) (*Report, error) {
	params := p.Params
	report := &Report{
		RunID:    r.newID(),
		Pipeline: r.name,
		State:    Running,
		Started:  r.now(),
	}

	startMeta := maps.Clone(metadata)
	if startMeta == nil {
		startMeta = map[string]any{}
	}
	startMeta["steps"] = p.Names()
	startMeta["platform"] = string(params.Platform)
	startMeta["arch"] = string(params.Arch)
	startMeta["build_type"] = string(params.BuildType)
	startMeta["dry_run"] = params.DryRun

	slog.Info("pipeline starting", "pipeline", r.name, "run_id", report.RunID, "steps", len(p.Steps), "dry_run", params.DryRun)
	r.emit(report, Event{Type: PipelineStart, Metadata: startMeta})

	var runErr error
	var dryRunErrs []error

loop:
	for _, b := range p.Steps {
		name := b.Name()

		if err := ctx.Err(); err != nil {
			runErr = &errs.InterruptError{Step: name, Err: err}
			report.State = Aborted
			break
		}

		if params.DryRun && !b.Step.Definition().SupportsDryRun {
			slog.Info("dry run: skipping step", "step", name)
			report.Steps = append(report.Steps, StepReport{Name: name, Index: b.Index, Status: StepSkipped})
			r.emit(report, Event{Type: StepSkip, Step: name, Index: b.Index, Message: "step does not support dry run"})
			continue
		}

		sr, err := r.runStep(ctx, report, b, params, store)
		report.Steps = append(report.Steps, sr)
		if err == nil {
			continue
		}

		switch {
		case ctx.Err() != nil:
			runErr = &errs.InterruptError{Step: name, Err: errors.Join(ctx.Err(), err)}
			report.State = Aborted
			break loop
		case params.DryRun && errs.CodeOf(err) == errs.CodeStepExecution:
			slog.Warn("dry run: step failed, continuing", "step", name, "error", err)
			dryRunErrs = append(dryRunErrs, err)
		default:
			runErr = err
			report.State = Failed
			report.FailedStep = name
			break loop
		}
	}

	if report.State == Running {
		report.State = Completed
		if len(dryRunErrs) > 0 {
			report.State = Failed
			runErr = errors.Join(dryRunErrs...)
		}
	}

	report.Duration = r.now().Sub(report.Started)
	report.Success = report.State == Completed
	report.Message = endMessage(report, runErr)

	logArgs := []any{"pipeline", r.name, "run_id", report.RunID, "state", report.State.String(), "duration", report.Duration}
	switch report.State {
	case Completed:
		slog.Info("pipeline completed", logArgs...)
	case Aborted:
		slog.Error("pipeline interrupted", append(logArgs, "error", runErr)...)
	default:
		slog.Error("pipeline failed", append(logArgs, "error", runErr)...)
	}

	r.emit(report, Event{
		Type:     PipelineEnd,
		Duration: report.Duration,
		Success:  report.Success,
		Message:  report.Message,
		Err:      runErr,
		Metadata: map[string]any{"state": report.State.String(), "failed_step": report.FailedStep},
	})

	return report, runErr
}

func (r *Runner) runStep(ctx context.Context, report *Report, b plan.BoundStep, params buildctx.Params, store *buildctx.Store) (StepReport, error) {
	name := b.Name()
	sr := StepReport{Name: name, Index: b.Index}

	slog.Info("running step", "step", name, "index", b.Index)
	r.emit(report, Event{Type: StepStart, Step: name, Index: b.Index})
	start := r.now()

	fail := func(err error, res *steps.Result) (StepReport, error) {
		sr.Status, sr.Err, sr.Duration = StepFailed, err, r.now().Sub(start)
		sr.Message = err.Error()
		slog.Error("step failed", "step", name, "error", err)
		r.emit(report, Event{Type: StepError, Step: name, Index: b.Index, Duration: sr.Duration, Err: err, Result: res, Message: sr.Message})
		return sr, err
	}

	if err := b.Step.Validate(ctx, params, store); err != nil {
		return fail(attributeValidation(name, err), nil)
	}

	res, err := execute(ctx, b, params, store)
	switch {
	case err != nil:
		return fail(&errs.StepExecutionError{Step: name, Err: err}, res)
	case res == nil:
		return fail(&errs.StepExecutionError{Step: name, Message: "step returned no result"}, nil)
	case !res.Success:
		return fail(&errs.StepExecutionError{Step: name, Message: res.Message}, res)
	}

	store.Merge(res.Artifacts, res.Metadata)

	sr.Status, sr.Message, sr.Duration = StepSucceeded, res.Message, r.now().Sub(start)
	slog.Info("step completed", "step", name, "duration", sr.Duration, "message", res.Message)
	r.emit(report, Event{Type: StepEnd, Step: name, Index: b.Index, Duration: sr.Duration, Success: true, Message: res.Message, Result: res})
	return sr, nil
}

// execute calls the step, turning a panic into an error.
func execute(ctx context.Context, b plan.BoundStep, params buildctx.Params, store *buildctx.Store) (res *steps.Result, err error) {
	defer func() {
		if v := recover(); v != nil {
			res, err = nil, fmt.Errorf("panic: %v", v)
		}
	}()
	return b.Step.Execute(ctx, params, store, b.Config)
}

// attributeValidation names the step on a validation error, wrapping
// unclassified errors as validation failures.
func attributeValidation(step string, err error) error {
	var verr *errs.ValidationError
	if errors.As(err, &verr) {
		attributed := *verr
		attributed.Step = step
		return &attributed
	}
	return &errs.ValidationError{Step: step, Reason: "precondition check failed", Err: err}
}

func endMessage(report *Report, err error) string {
	switch report.State {
	case Completed:
		return fmt.Sprintf("%d steps completed", countStatus(report.Steps, StepSucceeded))
	case Aborted:
		return err.Error()
	}
	if report.FailedStep == "" {
		return fmt.Sprintf("dry run finished with failures: %v", err)
	}
	return err.Error()
}

func countStatus(reports []StepReport, status StepStatus) int {
	n := 0
	for _, sr := range reports {
		if sr.Status == status {
			n++
		}
	}
	return n
}

func (r *Runner) emit(report *Report, e Event) {
	e.RunID = report.RunID
	e.Pipeline = report.Pipeline
	e.Time = r.now()
	r.Bus.Emit(e)
}
