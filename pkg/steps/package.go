package steps

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"

	"github.com/systemstart/browser-build/pkg/buildctx"
	"github.com/systemstart/browser-build/pkg/executor"
)

// packageName is the file name of a packaged build, without extension.
func packageName(p buildctx.Params, cfg Config) (string, error) {
	version, err := buildctx.LoadProductVersion(p.RootDir)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%s_%s", cfg.String("product_name", "Chromium"), version, p.Arch), nil
}

func prepareDist(p buildctx.Params) error {
	if err := os.MkdirAll(p.DistDir(), 0o750); err != nil {
		return fmt.Errorf("creating %s: %w", p.DistDir(), err)
	}
	return nil
}

func validatePackaging(t *Toolbox, p buildctx.Params, a buildctx.Artifacts, tool string) error {
	if _, err := buildctx.LoadProductVersion(p.RootDir); err != nil {
		return validationf("product version not available: %v", err)
	}
	if app := builtApp(p, a, nil); !exists(app) {
		return validationf("build output not found: %s", app)
	}
	return t.requireTool(tool)
}

type packageMacStep struct{ base }

func newPackageMac(tools *Toolbox) Step {
	return &packageMacStep{base{tools: tools, def: Definition{
		Name:        "package-mac",
		Phase:       PhasePackage,
		Order:       50,
		Description: "Create a DMG disk image from the app bundle",
		Provides:    []string{"package"},
		Platforms:   []buildctx.Platform{buildctx.MacOS},
	}}}
}

func (s *packageMacStep) Validate(_ context.Context, p buildctx.Params, a buildctx.Artifacts) error {
	return validatePackaging(s.tools, p, a, "hdiutil")
}

func (s *packageMacStep) Execute(ctx context.Context, p buildctx.Params, a buildctx.Artifacts, cfg Config) (*Result, error) {
	name, err := packageName(p, cfg)
	if err != nil {
		return nil, err
	}
	if err := prepareDist(p); err != nil {
		return nil, err
	}

	app := builtApp(p, a, cfg)
	dmg := filepath.Join(p.DistDir(), name+".dmg")

	slog.Info("creating disk image", "step", s.def.Name, "dmg", dmg)
	_, err = s.tools.run(ctx, p, a, "hdiutil", "create",
		"-volname", cfg.String("volume_name", cfg.String("product_name", "Chromium")),
		"-srcfolder", app,
		"-ov", "-format", "UDZO", dmg)
	if err != nil {
		return Failed("hdiutil: %v", err), nil
	}
	return Succeeded("disk image created").With("package", dmg), nil
}

type packageWindowsStep struct{ base }

func newPackageWindows(tools *Toolbox) Step {
	return &packageWindowsStep{base{tools: tools, def: Definition{
		Name:        "package-windows",
		Phase:       PhasePackage,
		Order:       50,
		Description: "Build the mini_installer and copy it to dist",
		Provides:    []string{"package"},
		Platforms:   []buildctx.Platform{buildctx.Windows},
	}}}
}

func (s *packageWindowsStep) Validate(_ context.Context, p buildctx.Params, a buildctx.Artifacts) error {
	return validatePackaging(s.tools, p, a, "autoninja.bat")
}

func (s *packageWindowsStep) Execute(ctx context.Context, p buildctx.Params, a buildctx.Artifacts, cfg Config) (*Result, error) {
	name, err := packageName(p, cfg)
	if err != nil {
		return nil, err
	}
	if err := prepareDist(p); err != nil {
		return nil, err
	}

	if _, err := s.tools.run(ctx, p, a, "autoninja.bat", "-C", p.OutDir(), "mini_installer"); err != nil {
		return Failed("building mini_installer: %v", err), nil
	}

	installer := filepath.Join(p.DistDir(), name+"_installer.exe")
	if err := copyFile(filepath.Join(p.OutDir(), "mini_installer.exe"), installer); err != nil {
		return nil, err
	}
	return Succeeded("installer created").With("package", installer), nil
}

type packageLinuxStep struct{ base }

func newPackageLinux(tools *Toolbox) Step {
	return &packageLinuxStep{base{tools: tools, def: Definition{
		Name:        "package-linux",
		Phase:       PhasePackage,
		Order:       50,
		Description: "Create an AppImage from the build output",
		Provides:    []string{"package"},
		Platforms:   []buildctx.Platform{buildctx.Linux},
	}}}
}

func (s *packageLinuxStep) Validate(_ context.Context, p buildctx.Params, a buildctx.Artifacts) error {
	return validatePackaging(s.tools, p, a, "appimagetool")
}

// Execute runs appimagetool over appdir (default <out>/AppDir), which the
// build's installer target populates.
func (s *packageLinuxStep) Execute(ctx context.Context, p buildctx.Params, _ buildctx.Artifacts, cfg Config) (*Result, error) {
	name, err := packageName(p, cfg)
	if err != nil {
		return nil, err
	}
	if err := prepareDist(p); err != nil {
		return nil, err
	}

	appDir := cfg.String("appdir", filepath.Join(p.OutDir(), "AppDir"))
	image := filepath.Join(p.DistDir(), name+".AppImage")

	env := maps.Clone(p.Env)
	if env == nil {
		env = map[string]string{}
	}
	env["ARCH"] = "x86_64"
	if p.Arch == buildctx.ARM64 {
		env["ARCH"] = "aarch64"
	}

	_, err = s.tools.Exec.Run(ctx, executor.Command{
		Program: "appimagetool",
		Args:    []string{appDir, image},
		Dir:     p.DistDir(),
		Env:     env,
	})
	if err != nil {
		return Failed("appimagetool: %v", err), nil
	}
	return Succeeded("AppImage created").With("package", image), nil
}
