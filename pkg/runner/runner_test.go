package runner

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/systemstart/browser-build/pkg/buildctx"
	"github.com/systemstart/browser-build/pkg/errs"
	"github.com/systemstart/browser-build/pkg/plan"
	"github.com/systemstart/browser-build/pkg/steps"
)

type fakeStep struct {
	name        string
	dryRun      bool
	validateErr error
	result      *steps.Result
	execErr     error
	panicValue  any
	onExecute   func(a buildctx.Artifacts)

	validated int
	executed  int
}

func (f *fakeStep) Definition() steps.Definition {
	return steps.Definition{Name: f.name, SupportsDryRun: f.dryRun}
}

func (f *fakeStep) ShouldRun(buildctx.Params, steps.Config) bool { return true }

func (f *fakeStep) Validate(context.Context, buildctx.Params, buildctx.Artifacts) error {
	f.validated++
	return f.validateErr
}

func (f *fakeStep) Execute(_ context.Context, _ buildctx.Params, a buildctx.Artifacts, _ steps.Config) (*steps.Result, error) {
	f.executed++
	if f.onExecute != nil {
		f.onExecute(a)
	}
	if f.panicValue != nil {
		panic(f.panicValue)
	}
	if f.execErr != nil {
		return nil, f.execErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return steps.Succeeded(f.name+" done").With(f.name, true), nil
}

func newPlan(params buildctx.Params, fakes ...*fakeStep) *plan.Plan {
	p := &plan.Plan{Params: params}
	for i, f := range fakes {
		p.Steps = append(p.Steps, plan.BoundStep{Step: f, Index: i, Ref: f.name})
	}
	return p
}

// tick is a clock advancing one second per call.
func tick() func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

type recorder struct {
	events []Event
}

func (r *recorder) attach(s Subscriber) {
	SubscribeAll(s, func(e Event) { r.events = append(r.events, e) })
}

func (r *recorder) trace() []string {
	var out []string
	for _, e := range r.events {
		if e.Step != "" {
			out = append(out, string(e.Type)+":"+e.Step)
		} else {
			out = append(out, string(e.Type))
		}
	}
	return out
}

func newRunner(rec *recorder) *Runner {
	r := New(WithName("test"), WithClock(tick()), WithRunIDs(func() string { return "run-1" }))
	rec.attach(r)
	return r
}

func TestRun_Completes(t *testing.T) {
	rec := &recorder{}
	r := newRunner(rec)
	a, b := &fakeStep{name: "a"}, &fakeStep{name: "b"}
	store := buildctx.NewStore()

	var sawA bool
	b.onExecute = func(art buildctx.Artifacts) { _, sawA = art.Artifact("a") }

	report, err := r.Run(context.Background(), newPlan(buildctx.Params{}, a, b), store, map[string]any{"config_hash": "abc"})
	if err != nil {
		t.Fatal(err)
	}
	if report.State != Completed || !report.Success || report.Message != "2 steps completed" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if !sawA {
		t.Error("b should see a's artifact")
	}

	want := []string{"PIPELINE_START", "STEP_START:a", "STEP_END:a", "STEP_START:b", "STEP_END:b", "PIPELINE_END"}
	if got := rec.trace(); !slices.Equal(got, want) {
		t.Fatalf("got events %v, want %v", got, want)
	}

	start := rec.events[0]
	if start.RunID != "run-1" || start.Pipeline != "test" || start.Metadata["config_hash"] != "abc" {
		t.Errorf("unexpected start event: %+v", start)
	}
	if names := start.Metadata["steps"].([]string); !slices.Equal(names, []string{"a", "b"}) {
		t.Errorf("unexpected steps metadata: %v", names)
	}
	if end := rec.events[len(rec.events)-1]; !end.Success || end.Duration <= 0 {
		t.Errorf("unexpected end event: %+v", end)
	}
	if report.Steps[0].Duration != time.Second {
		t.Errorf("expected step duration from the injected clock, got %v", report.Steps[0].Duration)
	}
}

func TestRun_FailFast(t *testing.T) {
	rec := &recorder{}
	a := &fakeStep{name: "a"}
	b := &fakeStep{name: "b", execErr: errors.New("compiler crashed")}
	c := &fakeStep{name: "c"}
	store := buildctx.NewStore()

	report, err := newRunner(rec).Run(context.Background(), newPlan(buildctx.Params{}, a, b, c), store, nil)

	var stepErr *errs.StepExecutionError
	if !errors.As(err, &stepErr) || stepErr.Step != "b" || !strings.Contains(err.Error(), "compiler crashed") {
		t.Fatalf("expected step error attributed to b, got %v", err)
	}
	if a.executed != 1 || b.executed != 1 || c.executed != 0 || c.validated != 0 {
		t.Fatalf("unexpected calls: a=%d b=%d c=%d/%d", a.executed, b.executed, c.validated, c.executed)
	}
	if report.State != Failed || report.Success || report.FailedStep != "b" {
		t.Fatalf("unexpected report: %+v", report)
	}

	want := []string{"PIPELINE_START", "STEP_START:a", "STEP_END:a", "STEP_START:b", "STEP_ERROR:b", "PIPELINE_END"}
	if got := rec.trace(); !slices.Equal(got, want) {
		t.Fatalf("got events %v, want %v", got, want)
	}
	if end := rec.events[len(rec.events)-1]; end.Success || end.Err == nil {
		t.Errorf("expected failed end event, got %+v", end)
	}
}

func TestRun_FailedResultIsNotMerged(t *testing.T) {
	a := &fakeStep{name: "a"}
	b := &fakeStep{name: "b", result: steps.Failed("signing identity expired").With("signed_app", "/tmp/x")}
	store := buildctx.NewStore()

	_, err := New().Run(context.Background(), newPlan(buildctx.Params{}, a, b), store, nil)
	if errs.CodeOf(err) != errs.CodeStepExecution || !strings.Contains(err.Error(), "signing identity expired") {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.Artifact("a"); !ok {
		t.Error("a's artifact should be merged")
	}
	if _, ok := store.Artifact("signed_app"); ok {
		t.Error("failed step's artifact must not be merged")
	}
}

func TestRun_ValidationHalts(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantReason string
	}{
		{name: "classified", err: errs.Validationf("gn not found in PATH"), wantReason: "gn not found in PATH"},
		{name: "unclassified", err: errors.New("stat failed"), wantReason: "precondition check failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			a := &fakeStep{name: "a", validateErr: tt.err}
			b := &fakeStep{name: "b"}

			// Validation failures halt dry runs too.
			_, err := newRunner(rec).Run(context.Background(), newPlan(buildctx.Params{DryRun: true}, withDryRun(a), withDryRun(b)), buildctx.NewStore(), nil)

			var verr *errs.ValidationError
			if !errors.As(err, &verr) || verr.Step != "a" || !strings.Contains(verr.Reason, tt.wantReason) {
				t.Fatalf("expected validation error for a, got %v", err)
			}
			if a.executed != 0 || b.validated != 0 {
				t.Fatal("nothing should run after a failed validation")
			}
			if !slices.Contains(rec.trace(), "STEP_ERROR:a") {
				t.Fatalf("expected STEP_ERROR, got %v", rec.trace())
			}
		})
	}
}

func withDryRun(f *fakeStep) *fakeStep {
	f.dryRun = true
	return f
}

func TestRun_DryRun(t *testing.T) {
	rec := &recorder{}
	skipped := &fakeStep{name: "compile"}
	failing := withDryRun(&fakeStep{name: "patch", result: steps.Failed("patch would not apply")})
	after := withDryRun(&fakeStep{name: "clean"})

	report, err := newRunner(rec).Run(context.Background(), newPlan(buildctx.Params{DryRun: true}, skipped, failing, after), buildctx.NewStore(), nil)

	if skipped.validated != 0 || skipped.executed != 0 {
		t.Fatal("a step without dry-run support must not be validated or executed")
	}
	if failing.executed != 1 || after.executed != 1 {
		t.Fatal("a dry-run failure must not halt the run")
	}
	if errs.CodeOf(err) != errs.CodeStepExecution || report.State != Failed || report.FailedStep != "" {
		t.Fatalf("expected the dry run to report its failures, got %v / %+v", err, report)
	}
	if !strings.HasPrefix(report.Message, "dry run finished with failures") {
		t.Errorf("unexpected message: %s", report.Message)
	}

	want := []string{
		"PIPELINE_START",
		"STEP_SKIP:compile",
		"STEP_START:patch", "STEP_ERROR:patch",
		"STEP_START:clean", "STEP_END:clean",
		"PIPELINE_END",
	}
	if got := rec.trace(); !slices.Equal(got, want) {
		t.Fatalf("got events %v, want %v", got, want)
	}
	if report.Steps[0].Status != StepSkipped {
		t.Errorf("expected skipped status, got %s", report.Steps[0].Status)
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := &fakeStep{name: "a"}

	report, err := New().Run(ctx, newPlan(buildctx.Params{}, a), buildctx.NewStore(), nil)

	var interrupt *errs.InterruptError
	if !errors.As(err, &interrupt) || interrupt.Step != "a" {
		t.Fatalf("expected interrupt before a, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("interrupt should wrap the context error")
	}
	if a.executed != 0 || report.State != Aborted {
		t.Fatalf("unexpected state %s", report.State)
	}
}

func TestRun_CancelledBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := &fakeStep{name: "a", onExecute: func(buildctx.Artifacts) { cancel() }}
	b := &fakeStep{name: "b"}
	store := buildctx.NewStore()

	report, err := New().Run(ctx, newPlan(buildctx.Params{}, a, b), store, nil)

	if errs.CodeOf(err) != errs.CodeInterrupted || !strings.Contains(err.Error(), `before step "b"`) {
		t.Fatalf("expected interrupt before b, got %v", err)
	}
	if b.executed != 0 || report.State != Aborted {
		t.Fatalf("b must not run after cancellation (state %s)", report.State)
	}
	if _, ok := store.Artifact("a"); !ok {
		t.Error("a completed before the interrupt and its artifacts are kept")
	}
}

func TestRun_CancelledDuringStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := &fakeStep{name: "a", execErr: errors.New("signal: killed")}
	a.onExecute = func(buildctx.Artifacts) { cancel() }

	report, err := New().Run(ctx, newPlan(buildctx.Params{}, a), buildctx.NewStore(), nil)
	if errs.CodeOf(err) != errs.CodeInterrupted || report.State != Aborted {
		t.Fatalf("a step failing because of cancellation is an interrupt, got %v", err)
	}
}

func TestRun_HandlerPanicIsContained(t *testing.T) {
	r := New()
	r.Subscribe(StepStart, func(Event) { panic("webhook exploded") })
	var ended bool
	r.Subscribe(PipelineEnd, func(e Event) { ended = e.Success })

	a := &fakeStep{name: "a"}
	if _, err := r.Run(context.Background(), newPlan(buildctx.Params{}, a), buildctx.NewStore(), nil); err != nil {
		t.Fatalf("handler panic must not fail the run: %v", err)
	}
	if a.executed != 1 || !ended {
		t.Fatal("run should complete and later handlers still be called")
	}
}

func TestRun_StepPanicIsStepFailure(t *testing.T) {
	a := &fakeStep{name: "a", panicValue: "nil map"}
	_, err := New().Run(context.Background(), newPlan(buildctx.Params{}, a), buildctx.NewStore(), nil)
	if errs.CodeOf(err) != errs.CodeStepExecution || !strings.Contains(err.Error(), "panic: nil map") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRun_NilResult(t *testing.T) {
	nilStep := &nilResultStep{fakeStep: &fakeStep{name: "a"}}

	p := &plan.Plan{Steps: []plan.BoundStep{{Step: nilStep}}}
	_, err := New().Run(context.Background(), p, buildctx.NewStore(), nil)
	if err == nil || !strings.Contains(err.Error(), "no result") {
		t.Fatalf("unexpected error: %v", err)
	}
}

type nilResultStep struct{ *fakeStep }

func (n *nilResultStep) Execute(context.Context, buildctx.Params, buildctx.Artifacts, steps.Config) (*steps.Result, error) {
	return nil, nil
}

func TestBus_HandlersGetOwnMetadata(t *testing.T) {
	var b Bus
	b.Subscribe(PipelineStart, func(e Event) { e.Metadata["mutated"] = true })
	var seen map[string]any
	b.Subscribe(PipelineStart, func(e Event) { seen = e.Metadata })

	orig := map[string]any{"k": "v"}
	b.Emit(Event{Type: PipelineStart, Metadata: orig})

	if _, ok := seen["mutated"]; ok {
		t.Error("handler saw another handler's mutation")
	}
	if _, ok := orig["mutated"]; ok {
		t.Error("handler mutated the emitter's metadata")
	}
}

func TestRun_EachRunGetsItsOwnID(t *testing.T) {
	r := New()
	var ids []string
	r.Subscribe(PipelineStart, func(e Event) { ids = append(ids, e.RunID) })

	for range 2 {
		if _, err := r.Run(context.Background(), newPlan(buildctx.Params{}), buildctx.NewStore(), nil); err != nil {
			t.Fatal(err)
		}
	}
	if len(ids) != 2 || ids[0] == ids[1] || ids[0] == "" {
		t.Fatalf("unexpected run IDs: %v", ids)
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{NotStarted: "not_started", Running: "running", Completed: "completed", Failed: "failed", Aborted: "aborted"} {
		if s.String() != want {
			t.Errorf("%d: got %s, want %s", s, s, want)
		}
	}
	if Running.Terminal() || !Aborted.Terminal() {
		t.Error("unexpected Terminal")
	}
}
