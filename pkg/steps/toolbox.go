package steps

import (
	"context"
	"maps"
	"os/exec"
	"time"

	"github.com/systemstart/browser-build/pkg/buildctx"
	"github.com/systemstart/browser-build/pkg/executor"
)

// ObjectStore uploads files to a bucket.
type ObjectStore interface {
	// Upload stores the file at path under key and returns its URI.
	Upload(ctx context.Context, key, path string) (string, error)
}

// StoreConfig locates an S3-compatible bucket.
type StoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// Toolbox holds what steps use to reach the outside world.
type Toolbox struct {
	Exec      executor.Executor
	LookPath  func(file string) (string, error)
	OpenStore func(ctx context.Context, cfg StoreConfig) (ObjectStore, error)
	Now       func() time.Time
}

// NewToolbox returns a Toolbox running real commands, or logging them when
// dryRun is set.
func NewToolbox(dryRun bool, opts ...executor.Option) *Toolbox {
	var exe executor.Executor = executor.New(opts...)
	if dryRun {
		exe = executor.Dry{}
	}
	return &Toolbox{
		Exec:      exe,
		LookPath:  exec.LookPath,
		OpenStore: OpenMinioStore,
		Now:       time.Now,
	}
}

// EnvironmentArtifact is the artifact, a map[string]string, holding the
// variables setup-env prepared for later tools.
const EnvironmentArtifact = "environment"

// run executes program in the chromium source directory with the run's
// environment overrides applied.
func (t *Toolbox) run(ctx context.Context, p buildctx.Params, a buildctx.Artifacts, program string, args ...string) (*executor.Result, error) {
	return t.runIn(ctx, p, a, p.ChromiumSrc, program, args...)
}

func (t *Toolbox) runIn(ctx context.Context, p buildctx.Params, a buildctx.Artifacts, dir, program string, args ...string) (*executor.Result, error) {
	return t.Exec.Run(ctx, executor.Command{
		Program: program,
		Args:    args,
		Dir:     dir,
		Env:     commandEnv(p, a),
	})
}

// runSecret is run with secrets masked in logs.
func (t *Toolbox) runSecret(ctx context.Context, p buildctx.Params, a buildctx.Artifacts, secrets []string, program string, args ...string) (*executor.Result, error) {
	return t.Exec.Run(ctx, executor.Command{
		Program: program,
		Args:    args,
		Dir:     p.ChromiumSrc,
		Env:     commandEnv(p, a),
		Redact:  secrets,
	})
}

// commandEnv layers the prepared environment over the run's env block.
func commandEnv(p buildctx.Params, a buildctx.Artifacts) map[string]string {
	var prepared map[string]string
	if a != nil {
		if v, ok := a.Artifact(EnvironmentArtifact); ok {
			prepared, _ = v.(map[string]string)
		}
	}
	if len(prepared) == 0 {
		return p.Env
	}
	env := maps.Clone(p.Env)
	if env == nil {
		env = make(map[string]string, len(prepared))
	}
	maps.Copy(env, prepared)
	return env
}

// requireTool fails validation when program is not in PATH.
func (t *Toolbox) requireTool(program string) error {
	if _, err := t.LookPath(program); err != nil {
		return validationf("%s not found in PATH", program)
	}
	return nil
}
