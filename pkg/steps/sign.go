package steps

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/systemstart/browser-build/pkg/buildctx"
)

// builtApp returns the built_app artifact, falling back to the default
// output location so signing and packaging can run on their own.
func builtApp(p buildctx.Params, a buildctx.Artifacts, cfg Config) string {
	if path := artifactString(a, "built_app"); path != "" {
		return path
	}
	return appPath(p, cfg)
}

type signMacStep struct{ base }

func newSignMac(tools *Toolbox) Step {
	return &signMacStep{base{tools: tools, def: Definition{
		Name:        "sign-mac",
		Phase:       PhaseSign,
		Order:       40,
		Description: "Code sign and optionally notarize the macOS app bundle",
		Provides:    []string{"signed_app"},
		Platforms:   []buildctx.Platform{buildctx.MacOS},
	}}}
}

func (s *signMacStep) Validate(_ context.Context, p buildctx.Params, a buildctx.Artifacts) error {
	if p.Getenv("MACOS_CERTIFICATE_NAME") == "" {
		return validationf("MACOS_CERTIFICATE_NAME not set")
	}
	if app := builtApp(p, a, nil); !exists(app) {
		return validationf("app bundle not found: %s", app)
	}
	return s.tools.requireTool("codesign")
}

// Execute signs the bundle with the hardened runtime and verifies it. With
// notarize: true the bundle is submitted with notarytool and stapled.
func (s *signMacStep) Execute(ctx context.Context, p buildctx.Params, a buildctx.Artifacts, cfg Config) (*Result, error) {
	app := builtApp(p, a, cfg)
	identity := p.Getenv("MACOS_CERTIFICATE_NAME")

	args := []string{"--sign", identity, "--force", "--timestamp", "--options", "runtime", "--deep"}
	if ent := cfg.String("entitlements", ""); ent != "" {
		if !filepath.IsAbs(ent) {
			ent = filepath.Join(p.RootDir, ent)
		}
		args = append(args, "--entitlements", ent)
	}
	args = append(args, app)

	slog.Info("signing app bundle", "step", s.def.Name, "app", app)
	if _, err := s.tools.run(ctx, p, a, "codesign", args...); err != nil {
		return Failed("codesign: %v", err), nil
	}
	if _, err := s.tools.run(ctx, p, a, "codesign", "--verify", "--deep", "--strict", app); err != nil {
		return Failed("codesign verification: %v", err), nil
	}

	res := Succeeded("app signed").With("signed_app", app)
	if !cfg.Bool("notarize", false) {
		return res, nil
	}

	appleID := p.Getenv("PROD_MACOS_NOTARIZATION_APPLE_ID")
	teamID := p.Getenv("PROD_MACOS_NOTARIZATION_TEAM_ID")
	password := p.Getenv("PROD_MACOS_NOTARIZATION_PWD")
	if appleID == "" || teamID == "" || password == "" {
		return Failed("notarization credentials not set"), nil
	}

	zip := strings.TrimSuffix(app, ".app") + "-notarize.zip"
	if _, err := s.tools.run(ctx, p, a, "ditto", "-c", "-k", "--keepParent", app, zip); err != nil {
		return Failed("creating notarization archive: %v", err), nil
	}
	if _, err := s.tools.runSecret(ctx, p, a, []string{password}, "xcrun", "notarytool", "submit", zip,
		"--apple-id", appleID, "--team-id", teamID, "--password", password, "--wait"); err != nil {
		return Failed("notarization: %v", err), nil
	}
	if _, err := s.tools.run(ctx, p, a, "xcrun", "stapler", "staple", app); err != nil {
		return Failed("stapling: %v", err), nil
	}

	return res.WithMeta("notarized", true), nil
}

type signWindowsStep struct{ base }

func newSignWindows(tools *Toolbox) Step {
	return &signWindowsStep{base{tools: tools, def: Definition{
		Name:        "sign-windows",
		Phase:       PhaseSign,
		Order:       40,
		Description: "Sign Windows binaries with SSL.com CodeSignTool",
		Provides:    []string{"signed_app"},
		Platforms:   []buildctx.Platform{buildctx.Windows},
	}}}
}

var windowsSignEnv = []string{"CODE_SIGN_TOOL_PATH", "ESIGNER_USERNAME", "ESIGNER_PASSWORD", "ESIGNER_TOTP_SECRET"}

func (s *signWindowsStep) Validate(_ context.Context, p buildctx.Params, _ buildctx.Artifacts) error {
	var missing []string
	for _, name := range windowsSignEnv {
		if p.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return validationf("signing environment variables not set: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Execute signs chrome.exe and any extra files listed under files,
// relative to the output directory.
func (s *signWindowsStep) Execute(ctx context.Context, p buildctx.Params, a buildctx.Artifacts, cfg Config) (*Result, error) {
	tool := filepath.Join(p.Getenv("CODE_SIGN_TOOL_PATH"), "CodeSignTool.bat")
	password := p.Getenv("ESIGNER_PASSWORD")
	totp := p.Getenv("ESIGNER_TOTP_SECRET")

	files := []string{builtApp(p, a, cfg)}
	for _, f := range cfg.Strings("files") {
		files = append(files, filepath.Join(p.OutDir(), f))
	}

	for _, f := range files {
		slog.Info("signing binary", "step", s.def.Name, "file", f)
		_, err := s.tools.runSecret(ctx, p, a, []string{password, totp}, tool, "sign",
			"-username="+p.Getenv("ESIGNER_USERNAME"),
			"-password="+password,
			"-totp_secret="+totp,
			"-input_file_path="+f,
			"-override=true")
		if err != nil {
			return Failed("signing %s: %v", filepath.Base(f), err), nil
		}
	}

	return Succeeded(fmt.Sprintf("%d binaries signed", len(files))).
		With("signed_app", files[0]).
		WithMeta("signed_files", files), nil
}

type signLinuxStep struct{ base }

func newSignLinux(tools *Toolbox) Step {
	return &signLinuxStep{base{tools: tools, def: Definition{
		Name:           "sign-linux",
		Phase:          PhaseSign,
		Order:          40,
		Description:    "Linux binaries are not signed; runs only with force: true",
		Provides:       []string{"signed_app"},
		Platforms:      []buildctx.Platform{buildctx.Linux},
		SupportsDryRun: true,
	}}}
}

func (s *signLinuxStep) ShouldRun(p buildctx.Params, cfg Config) bool {
	return cfg.Bool("force", false) && s.base.ShouldRun(p, cfg)
}

func (s *signLinuxStep) Execute(_ context.Context, p buildctx.Params, a buildctx.Artifacts, cfg Config) (*Result, error) {
	return Succeeded("linux signing not required").With("signed_app", builtApp(p, a, cfg)), nil
}
