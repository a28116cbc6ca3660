package steps

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/systemstart/browser-build/pkg/buildctx"
)

type patchApplyStep struct{ base }

func newPatchApply(tools *Toolbox) Step {
	return &patchApplyStep{base{tools: tools, def: Definition{
		Name:        "patch-apply",
		Phase:       PhasePrepare,
		Order:       20,
		Description: "Apply the product patch series to the chromium checkout",
		Provides:    []string{"patches_applied"},
		Platforms:   buildctx.AllPlatforms,
	}}}
}

func patchDir(p buildctx.Params, cfg Config) string {
	dir := cfg.String("dir", "chromium_patches")
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(p.RootDir, dir)
	}
	return dir
}

func (s *patchApplyStep) Validate(_ context.Context, p buildctx.Params, _ buildctx.Artifacts) error {
	if p.ChromiumSrc == "" || !exists(p.ChromiumSrc) {
		return validationf("chromium source not found: %s", p.ChromiumSrc)
	}
	return s.tools.requireTool("git")
}

// Execute applies every patch file below the patch directory in path
// order. With commit: true the result is committed in one commit.
func (s *patchApplyStep) Execute(ctx context.Context, p buildctx.Params, a buildctx.Artifacts, cfg Config) (*Result, error) {
	dir := patchDir(p, cfg)
	if !exists(dir) {
		return Failed("patch directory not found: %s", dir), nil
	}

	patches, err := filterFiles(os.DirFS(dir), cfg.Strings("include"), cfg.Strings("exclude"))
	if err != nil {
		return nil, fmt.Errorf("collecting patches: %w", err)
	}

	slog.Info("applying patches", "step", s.def.Name, "count", len(patches), "dir", dir)

	for _, rel := range patches {
		path := filepath.Join(dir, rel)
		if _, err := s.tools.run(ctx, p, a, "git", "apply", "--whitespace=nowarn", "-p1", path); err != nil {
			return Failed("applying %s: %v", rel, err), nil
		}
	}

	if cfg.Bool("commit", false) && len(patches) > 0 {
		msg := cfg.String("commit_message", "Apply product patches")
		if _, err := s.tools.run(ctx, p, a, "git", "add", "-A"); err != nil {
			return nil, fmt.Errorf("staging patches: %w", err)
		}
		if _, err := s.tools.run(ctx, p, a, "git", "commit", "-m", msg); err != nil {
			return nil, fmt.Errorf("committing patches: %w", err)
		}
	}

	return Succeeded(fmt.Sprintf("%d patches applied", len(patches))).
		With("patches_applied", len(patches)).
		WithMeta("patches", patches), nil
}

type patchStringsStep struct{ base }

func newPatchStrings(tools *Toolbox) Step {
	return &patchStringsStep{base{tools: tools, def: Definition{
		Name:           "patch-strings",
		Phase:          PhasePrepare,
		Order:          21,
		Description:    "Replace product strings in chromium resource files",
		Provides:       []string{"strings_patched"},
		Platforms:      buildctx.AllPlatforms,
		SupportsDryRun: true,
	}}}
}

var defaultStringFiles = []string{
	"chrome/app/*.grd",
	"chrome/app/*.grdp",
	"chrome/app/resources/*.xtb",
	"components/*.grdp",
}

func (s *patchStringsStep) ShouldRun(p buildctx.Params, cfg Config) bool {
	return p.ChromiumSrc != "" && s.base.ShouldRun(p, cfg)
}

// Execute replaces each key of the replacements map with its value in the
// files matched by the files globs under the chromium source. In a dry run
// it only counts the files that would change.
func (s *patchStringsStep) Execute(_ context.Context, p buildctx.Params, _ buildctx.Artifacts, cfg Config) (*Result, error) {
	pairs := cfg.StringMap("replacements")
	if len(pairs) == 0 {
		return Succeeded("no string replacements configured").With("strings_patched", 0), nil
	}

	patterns := cfg.Strings("files")
	if len(patterns) == 0 {
		patterns = defaultStringFiles
	}

	files, err := filterFiles(os.DirFS(p.ChromiumSrc), patterns, cfg.Strings("exclude"))
	if err != nil {
		return nil, fmt.Errorf("collecting files: %w", err)
	}

	replacer := strings.NewReplacer(flattenPairs(pairs)...)
	changed := 0
	for _, rel := range files {
		path := filepath.Join(p.ChromiumSrc, rel)
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", rel, err)
		}
		updated := replacer.Replace(string(content))
		if updated == string(content) {
			continue
		}
		changed++
		if p.DryRun {
			continue
		}
		if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
			return nil, fmt.Errorf("writing %s: %w", rel, err)
		}
		slog.Debug("strings replaced", "step", s.def.Name, "file", rel)
	}

	msg := fmt.Sprintf("%d of %d files updated", changed, len(files))
	if p.DryRun {
		msg = fmt.Sprintf("would update %d of %d files", changed, len(files))
	}
	return Succeeded(msg).With("strings_patched", changed), nil
}

func flattenPairs(pairs [][2]string) []string {
	out := make([]string, 0, 2*len(pairs))
	for _, kv := range pairs {
		out = append(out, kv[0], kv[1])
	}
	return out
}
