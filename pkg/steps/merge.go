package steps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/systemstart/browser-build/pkg/buildctx"
)

type mergeUniversalStep struct{ base }

// MergeUniversalName is the step that joins per-architecture builds.
const MergeUniversalName = "merge-universal"

func newMergeUniversal(tools *Toolbox) Step {
	return &mergeUniversalStep{base{tools: tools, def: Definition{
		Name:        MergeUniversalName,
		Phase:       PhaseBuild,
		Order:       35,
		Description: "Merge arm64 and x64 app bundles into a universal binary",
		Requires: []string{
			buildctx.ArchKey("built_app", buildctx.ARM64),
			buildctx.ArchKey("built_app", buildctx.X64),
		},
		Provides:  []string{"built_app"},
		Platforms: []buildctx.Platform{buildctx.MacOS},
	}}}
}

func (s *mergeUniversalStep) ShouldRun(p buildctx.Params, cfg Config) bool {
	return p.Arch == buildctx.Universal && s.base.ShouldRun(p, cfg)
}

func (s *mergeUniversalStep) Validate(_ context.Context, p buildctx.Params, a buildctx.Artifacts) error {
	for _, arch := range buildctx.UniversalArches {
		key := buildctx.ArchKey("built_app", arch)
		path := artifactString(a, key)
		if path == "" {
			return validationf("artifact %s not recorded", key)
		}
		if !exists(path) {
			return validationf("%s build not found: %s", arch, path)
		}
	}
	script := universalizer(p)
	if !exists(script) {
		return validationf("universalizer not found: %s", script)
	}
	return s.tools.requireTool("python3")
}

func universalizer(p buildctx.Params) string {
	return filepath.Join(p.ChromiumSrc, "chrome", "installer", "mac", "universalizer.py")
}

func (s *mergeUniversalStep) Execute(ctx context.Context, p buildctx.Params, a buildctx.Artifacts, _ Config) (*Result, error) {
	arm := artifactString(a, buildctx.ArchKey("built_app", buildctx.ARM64))
	x64 := artifactString(a, buildctx.ArchKey("built_app", buildctx.X64))
	out := filepath.Join(p.OutDir(), filepath.Base(arm))

	if err := os.MkdirAll(p.OutDir(), 0o750); err != nil {
		return nil, fmt.Errorf("creating %s: %w", p.OutDir(), err)
	}
	if err := os.RemoveAll(out); err != nil {
		return nil, fmt.Errorf("removing previous universal build: %w", err)
	}

	if _, err := s.tools.run(ctx, p, a, "python3", universalizer(p), arm, x64, out); err != nil {
		return Failed("universalizer: %v", err), nil
	}
	return Succeeded("universal binary created").With("built_app", out), nil
}
