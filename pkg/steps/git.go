package steps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/systemstart/browser-build/pkg/buildctx"
)

type gitSyncStep struct{ base }

func newGitSync(tools *Toolbox) Step {
	return &gitSyncStep{base{tools: tools, def: Definition{
		Name:        "git-sync",
		Phase:       PhasePrepare,
		Order:       10,
		Description: "Check out the chromium release tag and sync dependencies",
		Provides:    []string{"chromium_checkout"},
		Platforms:   buildctx.AllPlatforms,
	}}}
}

func (s *gitSyncStep) ShouldRun(p buildctx.Params, cfg Config) bool {
	return p.ChromiumSrc != "" && s.base.ShouldRun(p, cfg)
}

func (s *gitSyncStep) Validate(_ context.Context, p buildctx.Params, _ buildctx.Artifacts) error {
	if _, err := git.PlainOpen(p.ChromiumSrc); err != nil {
		return validationf("chromium source %s is not a git repository: %v", p.ChromiumSrc, err)
	}
	if _, err := buildctx.LoadChromiumVersion(p.RootDir); err != nil {
		return validationf("%v", err)
	}
	return s.tools.requireTool("git")
}

// Execute fetches tags, checks out tags/<chromium version> and, unless
// gclient_sync is false, runs gclient sync.
func (s *gitSyncStep) Execute(ctx context.Context, p buildctx.Params, a buildctx.Artifacts, cfg Config) (*Result, error) {
	version, err := buildctx.LoadChromiumVersion(p.RootDir)
	if err != nil {
		return nil, err
	}
	tag := version.String()

	slog.Info("syncing chromium", "step", s.def.Name, "tag", tag)

	if _, err := s.tools.run(ctx, p, a, "git", "fetch", "--tags", "--force"); err != nil {
		return nil, fmt.Errorf("fetching tags: %w", err)
	}

	repo, err := git.PlainOpen(p.ChromiumSrc)
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	if _, err := repo.Tag(tag); err != nil {
		if errors.Is(err, git.ErrTagNotFound) {
			return Failed("tag %s not found in %s", tag, p.ChromiumSrc), nil
		}
		return nil, fmt.Errorf("looking up tag %s: %w", tag, err)
	}

	if _, err := s.tools.run(ctx, p, a, "git", "checkout", "tags/"+tag); err != nil {
		return nil, fmt.Errorf("checking out %s: %w", tag, err)
	}

	if cfg.Bool("gclient_sync", true) {
		gclient := "gclient"
		if p.Platform == buildctx.Windows {
			gclient = "gclient.bat"
		}
		if _, err := s.tools.run(ctx, p, a, gclient, "sync", "-D", "--no-history", "--shallow"); err != nil {
			return nil, fmt.Errorf("gclient sync: %w", err)
		}
	}

	head, err := headCommit(repo)
	if err != nil {
		return nil, err
	}

	return Succeeded("chromium synced to "+tag).
		With("chromium_checkout", p.ChromiumSrc).
		WithMeta("chromium_version", tag).
		WithMeta("chromium_commit", head), nil
}

func headCommit(repo *git.Repository) (string, error) {
	ref, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}
