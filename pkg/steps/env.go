package steps

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/systemstart/browser-build/pkg/buildctx"
)

// signingEnv lists the variables signing needs per platform.
var signingEnv = map[buildctx.Platform][]string{
	buildctx.MacOS: {
		"MACOS_CERTIFICATE_NAME",
		"PROD_MACOS_NOTARIZATION_APPLE_ID",
		"PROD_MACOS_NOTARIZATION_TEAM_ID",
		"PROD_MACOS_NOTARIZATION_PWD",
	},
	buildctx.Windows: {
		"CODE_SIGN_TOOL_PATH",
		"ESIGNER_USERNAME",
		"ESIGNER_PASSWORD",
		"ESIGNER_TOTP_SECRET",
	},
}

type setupEnvStep struct{ base }

func newSetupEnv(tools *Toolbox) Step {
	return &setupEnvStep{base{tools: tools, def: Definition{
		Name:           "setup-env",
		Phase:          PhasePrepare,
		Order:          1,
		Description:    "Prepare the build environment (depot_tools, toolchain variables)",
		Provides:       []string{EnvironmentArtifact},
		Platforms:      buildctx.AllPlatforms,
		SupportsDryRun: true,
	}}}
}

// Execute computes the environment later tools run with. Set
// check_signing: true to require the platform's signing variables.
func (s *setupEnvStep) Execute(_ context.Context, p buildctx.Params, _ buildctx.Artifacts, cfg Config) (*Result, error) {
	env := map[string]string{}

	if p.Platform == buildctx.Windows {
		env["DEPOT_TOOLS_WIN_TOOLCHAIN"] = "0"
	}

	if cfg.Bool("check_signing", false) {
		var missing []string
		for _, name := range signingEnv[p.Platform] {
			if p.Getenv(name) == "" {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return Failed("missing %s signing environment variables: %s", p.Platform, strings.Join(missing, ", ")), nil
		}
	}

	if depot := findDepotTools(p, cfg); depot != "" {
		path := p.Getenv("PATH")
		if !slices.Contains(filepath.SplitList(path), depot) {
			env["PATH"] = depot + string(os.PathListSeparator) + path
		}
	}

	return Succeeded("environment prepared").
		With(EnvironmentArtifact, env).
		WithMeta("env_vars", env), nil
}

// findDepotTools looks for depot_tools in the configured location, then
// DEPOT_TOOLS_PATH, then next to the chromium checkout.
func findDepotTools(p buildctx.Params, cfg Config) string {
	candidates := []string{
		cfg.String("depot_tools", ""),
		p.Getenv("DEPOT_TOOLS_PATH"),
		filepath.Join(filepath.Dir(p.ChromiumSrc), "depot_tools"),
		filepath.Join(p.RootDir, "depot_tools"),
	}
	for _, c := range candidates {
		if c != "" && exists(c) {
			return c
		}
	}
	return ""
}
