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

type configureStep struct{ base }

func newConfigure(tools *Toolbox) Step {
	return &configureStep{base{tools: tools, def: Definition{
		Name:        "configure",
		Phase:       PhaseBuild,
		Order:       30,
		Description: "Write args.gn and run gn gen",
		Provides:    []string{"gn_configured"},
		Platforms:   buildctx.AllPlatforms,
	}}}
}

// gnFlagsFile picks the GN flags file: the step's gn_flags, then the
// gn_flags_file metadata of an earlier step, then the per-platform default.
func gnFlagsFile(p buildctx.Params, a buildctx.Artifacts, cfg Config) string {
	path := cfg.String("gn_flags", "")
	if path == "" {
		if v, ok := a.Metadata("gn_flags_file"); ok {
			path, _ = v.(string)
		}
	}
	if path == "" {
		return filepath.Join(p.ConfigDir(), "gn", fmt.Sprintf("flags.%s.%s.gn", p.Platform, p.BuildType))
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.RootDir, path)
	}
	return path
}

func (s *configureStep) Validate(_ context.Context, p buildctx.Params, _ buildctx.Artifacts) error {
	if p.ChromiumSrc == "" || !exists(p.ChromiumSrc) {
		return validationf("chromium source not found: %s", p.ChromiumSrc)
	}
	return s.tools.requireTool("gn")
}

func (s *configureStep) Execute(ctx context.Context, p buildctx.Params, a buildctx.Artifacts, cfg Config) (*Result, error) {
	flagsFile := gnFlagsFile(p, a, cfg)
	flags, err := os.ReadFile(flagsFile)
	if err != nil {
		return Failed("reading GN flags: %v", err), nil
	}

	outDir := p.OutDir()
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating %s: %w", outDir, err)
	}

	var args strings.Builder
	args.Write(flags)
	if len(flags) > 0 && flags[len(flags)-1] != '\n' {
		args.WriteByte('\n')
	}
	fmt.Fprintf(&args, "target_cpu = %q\n", string(p.Arch))

	argsFile := filepath.Join(outDir, "args.gn")
	if err := os.WriteFile(argsFile, []byte(args.String()), 0o600); err != nil {
		return nil, fmt.Errorf("writing args.gn: %w", err)
	}

	slog.Info("running gn gen", "step", s.def.Name, "out", outDir, "flags", flagsFile)
	if _, err := s.tools.run(ctx, p, a, "gn", "gen", outDir, "--fail-on-unused-args"); err != nil {
		return Failed("gn gen: %v", err), nil
	}

	return Succeeded("build configured").
		With("gn_configured", outDir).
		WithMeta("gn_flags_file", flagsFile), nil
}

type compileStep struct{ base }

func newCompile(tools *Toolbox) Step {
	return &compileStep{base{tools: tools, def: Definition{
		Name:        "build",
		Phase:       PhaseBuild,
		Order:       31,
		Description: "Compile the browser with autoninja",
		Provides:    []string{"built_app"},
		Platforms:   buildctx.AllPlatforms,
	}}}
}

// appPath is where a finished build leaves the application.
func appPath(p buildctx.Params, cfg Config) string {
	switch p.Platform {
	case buildctx.MacOS:
		return filepath.Join(p.OutDir(), cfg.String("app_name", "Chromium")+".app")
	case buildctx.Windows:
		return filepath.Join(p.OutDir(), "chrome.exe")
	default:
		return filepath.Join(p.OutDir(), "chrome")
	}
}

func (s *compileStep) Validate(_ context.Context, p buildctx.Params, _ buildctx.Artifacts) error {
	if p.ChromiumSrc == "" || !exists(p.ChromiumSrc) {
		return validationf("chromium source not found: %s", p.ChromiumSrc)
	}
	if _, err := buildctx.LoadProductVersion(p.RootDir); err != nil {
		return validationf("product version not available: %v", err)
	}
	argsFile := filepath.Join(p.OutDir(), "args.gn")
	if !exists(argsFile) {
		return validationf("build not configured, args.gn not found: %s", argsFile)
	}
	return nil
}

// Execute stamps chrome/VERSION with the product version and builds the
// targets list (default chrome, chromedriver).
func (s *compileStep) Execute(ctx context.Context, p buildctx.Params, a buildctx.Artifacts, cfg Config) (*Result, error) {
	version, err := buildctx.LoadProductVersion(p.RootDir)
	if err != nil {
		return nil, err
	}
	versionFile := filepath.Join(p.ChromiumSrc, "chrome", "VERSION")
	if err := os.MkdirAll(filepath.Dir(versionFile), 0o750); err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Dir(versionFile), err)
	}
	if err := os.WriteFile(versionFile, []byte(version.VersionFile()), 0o600); err != nil {
		return nil, fmt.Errorf("writing VERSION: %w", err)
	}

	targets := cfg.Strings("targets")
	if len(targets) == 0 {
		targets = []string{"chrome", "chromedriver"}
	}

	autoninja := "autoninja"
	if p.Platform == buildctx.Windows {
		autoninja = "autoninja.bat"
	}

	slog.Info("compiling", "step", s.def.Name, "out", p.OutDir(), "version", version.String(), "targets", targets)
	args := append([]string{"-C", p.OutDir()}, targets...)
	if _, err := s.tools.run(ctx, p, a, autoninja, args...); err != nil {
		return Failed("compile: %v", err), nil
	}

	return Succeeded("build completed").
		With("built_app", appPath(p, cfg)).
		WithMeta("product_version", version.String()), nil
}
