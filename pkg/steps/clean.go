package steps

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/systemstart/browser-build/pkg/buildctx"
)

// cleanExcludes are kept by git clean: toolchains and fetched dependencies
// that are expensive to restore.
var cleanExcludes = []string{
	"--exclude=third_party/",
	"--exclude=build_tools/",
	"--exclude=uc_staging/",
	"--exclude=buildtools/",
	"--exclude=tools/",
	"--exclude=build/",
}

type cleanStep struct{ base }

func newClean(tools *Toolbox) Step {
	return &cleanStep{base{tools: tools, def: Definition{
		Name:           "clean",
		Phase:          PhasePrepare,
		Order:          0,
		Description:    "Remove build output and reset the chromium checkout",
		Platforms:      buildctx.AllPlatforms,
		SupportsDryRun: true,
	}}}
}

func (s *cleanStep) Execute(ctx context.Context, p buildctx.Params, a buildctx.Artifacts, _ Config) (*Result, error) {
	if p.DryRun {
		return Succeeded(fmt.Sprintf("would remove %s and reset %s", p.OutDir(), p.ChromiumSrc)), nil
	}

	var removed []string
	remove := func(path string) error {
		if !exists(path) {
			return nil
		}
		slog.Info("removing", "step", s.def.Name, "path", path)
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("removing %s: %w", path, err)
		}
		removed = append(removed, path)
		return nil
	}

	if err := remove(p.OutDir()); err != nil {
		return nil, err
	}

	if exists(filepath.Join(p.ChromiumSrc, ".git")) {
		if _, err := s.tools.run(ctx, p, a, "git", "reset", "--hard", "HEAD"); err != nil {
			return nil, fmt.Errorf("git reset: %w", err)
		}
		args := append([]string{"clean", "-fdx", "chrome/", "components/"}, cleanExcludes...)
		if _, err := s.tools.run(ctx, p, a, "git", args...); err != nil {
			return nil, fmt.Errorf("git clean: %w", err)
		}
	}

	if p.Platform == buildctx.MacOS {
		if err := remove(filepath.Join(p.ChromiumSrc, "third_party", "sparkle")); err != nil {
			return nil, err
		}
	}

	return Succeeded("clean completed").WithMeta("removed", removed), nil
}
