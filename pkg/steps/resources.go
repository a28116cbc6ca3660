package steps

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/systemstart/browser-build/pkg/buildctx"
)

type replaceFilesStep struct{ base }

func newReplaceFiles(tools *Toolbox) Step {
	return &replaceFilesStep{base{tools: tools, def: Definition{
		Name:           "replace-files",
		Phase:          PhasePrepare,
		Order:          15,
		Description:    "Overwrite chromium sources with the product's replacement files",
		Provides:       []string{"files_replaced"},
		Platforms:      buildctx.AllPlatforms,
		SupportsDryRun: true,
	}}}
}

// Execute copies every file below dir (default chromium_files) over the
// chromium source at the same relative path.
func (s *replaceFilesStep) Execute(_ context.Context, p buildctx.Params, _ buildctx.Artifacts, cfg Config) (*Result, error) {
	dir := cfg.String("dir", "chromium_files")
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(p.RootDir, dir)
	}
	if !exists(dir) {
		return Succeeded("no replacement files").With("files_replaced", 0), nil
	}

	files, err := copyTree(dir, p.ChromiumSrc, cfg.Strings("include"), cfg.Strings("exclude"), p.DryRun)
	if err != nil {
		return nil, fmt.Errorf("replacing files: %w", err)
	}

	slog.Info("files replaced", "step", s.def.Name, "count", len(files), "dry_run", p.DryRun)
	return Succeeded(fmt.Sprintf("%d files replaced", len(files))).
		With("files_replaced", len(files)).
		WithMeta("replaced_files", files), nil
}

// ResourceEntry is one entry of the copy-resources manifest.
type ResourceEntry struct {
	Name        string   `yaml:"name"`
	Source      string   `yaml:"source"`
	Destination string   `yaml:"destination"`
	Exclude     []string `yaml:"exclude"`
	Platforms   []string `yaml:"platforms"`
	Arches      []string `yaml:"arch"`
}

// ResourceManifest is the copy-resources manifest document.
type ResourceManifest struct {
	Resources []ResourceEntry `yaml:"resources"`
}

// LoadResourceManifest reads a copy-resources manifest.
func LoadResourceManifest(filename string) (*ResourceManifest, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading resource manifest: %w", err)
	}
	var m ResourceManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing resource manifest: %w", err)
	}
	for i, r := range m.Resources {
		if r.Source == "" || r.Destination == "" {
			return nil, fmt.Errorf("resource %d (%s): source and destination are required", i, r.Name)
		}
	}
	return &m, nil
}

func (e ResourceEntry) appliesTo(p buildctx.Params) bool {
	if len(e.Platforms) > 0 && !slices.Contains(e.Platforms, string(p.Platform)) {
		return false
	}
	if len(e.Arches) > 0 && !slices.Contains(e.Arches, string(p.Arch)) {
		return false
	}
	return true
}

type copyResourcesStep struct{ base }

func newCopyResources(tools *Toolbox) Step {
	return &copyResourcesStep{base{tools: tools, def: Definition{
		Name:           "copy-resources",
		Phase:          PhasePrepare,
		Order:          22,
		Description:    "Copy resources listed in the resource manifest into chromium",
		Provides:       []string{"resources_copied"},
		Platforms:      buildctx.AllPlatforms,
		SupportsDryRun: true,
	}}}
}

func manifestPath(p buildctx.Params, cfg Config) string {
	path := cfg.String("manifest", filepath.Join(p.ConfigDir(), "copy_resources.yaml"))
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.RootDir, path)
	}
	return path
}

func (s *copyResourcesStep) Validate(_ context.Context, p buildctx.Params, _ buildctx.Artifacts) error {
	if p.ChromiumSrc == "" || !exists(p.ChromiumSrc) {
		return validationf("chromium source not found: %s", p.ChromiumSrc)
	}
	return nil
}

// Execute copies each manifest entry's source glob, relative to the root,
// into its destination directory under the chromium source. Entries may be
// limited to platforms and architectures.
func (s *copyResourcesStep) Execute(_ context.Context, p buildctx.Params, _ buildctx.Artifacts, cfg Config) (*Result, error) {
	path := manifestPath(p, cfg)
	if !exists(path) {
		return Succeeded("no resource manifest").With("resources_copied", 0), nil
	}

	manifest, err := LoadResourceManifest(path)
	if err != nil {
		return nil, err
	}

	copied := 0
	for _, entry := range manifest.Resources {
		if !entry.appliesTo(p) {
			slog.Debug("resource skipped", "step", s.def.Name, "resource", entry.Name)
			continue
		}

		matches, err := filterFiles(os.DirFS(p.RootDir), []string{entry.Source}, entry.Exclude)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", entry.Name, err)
		}
		if len(matches) == 0 {
			slog.Warn("resource matched no files", "step", s.def.Name, "resource", entry.Name, "source", entry.Source)
			continue
		}

		srcBase, _ := doublestar.SplitPattern(entry.Source)
		for _, rel := range matches {
			within, err := filepath.Rel(srcBase, rel)
			if err != nil {
				return nil, fmt.Errorf("resource %s: %w", entry.Name, err)
			}
			dst := filepath.Join(p.ChromiumSrc, entry.Destination, within)
			if !p.DryRun {
				if err := copyFile(filepath.Join(p.RootDir, rel), dst); err != nil {
					return nil, fmt.Errorf("resource %s: %w", entry.Name, err)
				}
			}
			copied++
		}
	}

	return Succeeded(fmt.Sprintf("%d resource files copied", copied)).With("resources_copied", copied), nil
}
