// Package resolve turns caller arguments, the configuration document and
// the process environment into build parameters and a pipeline selection.
package resolve

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/systemstart/browser-build/pkg/api"
	"github.com/systemstart/browser-build/pkg/buildctx"
	"github.com/systemstart/browser-build/pkg/errs"
)

// Environment variables consulted for build parameters.
const (
	EnvRootDir     = "BUILD_ROOT"
	EnvChromiumSrc = "CHROMIUM_SRC"
	EnvArch        = "BUILD_ARCH"
	EnvBuildType   = "BUILD_TYPE"
)

// Args are the values the caller supplied explicitly. Empty strings and
// nil slices mean "not supplied".
type Args struct {
	RootDir     string
	ChromiumSrc string
	Arch        string
	BuildType   string
	Platform    string

	DryRun bool
	Skip   []string
	Only   []string

	// Pipeline selects a named pipeline of the document.
	Pipeline string
	// Modules is an explicit step list.
	Modules []string
	// Phases are the enabled phase flags.
	Phases []string
}

// Defaults are the built-in fallbacks of every field.
type Defaults struct {
	RootDir   string
	Arch      string
	BuildType string
	Platform  string
}

// HostDefaults returns the defaults for this process: the working
// directory, the host architecture and platform, and a debug build.
func HostDefaults() (Defaults, error) {
	wd, err := os.Getwd()
	if err != nil {
		return Defaults{}, fmt.Errorf("getting working directory: %w", err)
	}
	return Defaults{
		RootDir:   wd,
		Arch:      string(buildctx.HostArch()),
		BuildType: string(buildctx.Debug),
		Platform:  string(buildctx.HostPlatform()),
	}, nil
}

// Source names where a field's value came from.
type Source string

const (
	FromExplicit    Source = "explicit"
	FromConfig      Source = "config"
	FromEnvironment Source = "environment"
	FromDefault     Source = "default"
)

// Field is one resolved value and its source.
type Field struct {
	Value  string
	Source Source
}

// Fields are the raw resolved build parameters, before parsing.
type Fields struct {
	RootDir     Field
	ChromiumSrc Field
	Arch        Field
	BuildType   Field
	Platform    Field
}

// chain returns the first non-empty value in precedence order.
func chain(explicit, config, env, def string) Field {
	switch {
	case explicit != "":
		return Field{explicit, FromExplicit}
	case config != "":
		return Field{config, FromConfig}
	case env != "":
		return Field{env, FromEnvironment}
	}
	return Field{def, FromDefault}
}

// ResolveFields walks each field's precedence chain independently:
// explicit argument, then document, then environment, then default. doc
// may be nil. The chromium source default is <root>/chromium_src, using
// the resolved root.
func ResolveFields(args Args, doc *api.Document, lookup api.LookupFunc, defaults Defaults) Fields {
	if lookup == nil {
		lookup = api.OSLookup
	}
	env := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	var build api.BuildBlock
	var paths api.PathsBlock
	if doc != nil {
		build, paths = doc.Build, doc.Paths
	}

	docArch := build.Arch
	if docArch == "" {
		docArch = build.Architecture
	}
	docSrc := build.ChromiumSrc
	if docSrc == "" {
		docSrc = paths.ChromiumSrc
	}

	f := Fields{
		RootDir:   chain(args.RootDir, paths.RootDir, env(EnvRootDir), defaults.RootDir),
		Arch:      chain(args.Arch, docArch, env(EnvArch), defaults.Arch),
		BuildType: chain(args.BuildType, build.Type, env(EnvBuildType), defaults.BuildType),
		Platform:  chain(args.Platform, "", "", defaults.Platform),
	}
	f.ChromiumSrc = chain(args.ChromiumSrc, docSrc, env(EnvChromiumSrc), filepath.Join(f.RootDir.Value, "chromium_src"))
	return f
}

// Params parses and checks the fields. Relative paths are taken relative
// to the root, which itself is made absolute. The chromium source
// directory must exist.
func (f Fields) Params() (buildctx.Params, error) {
	root, err := filepath.Abs(f.RootDir.Value)
	if err != nil {
		return buildctx.Params{}, &errs.ConfigurationError{Reason: "resolving root directory", Err: err}
	}

	arch, err := buildctx.ParseArch(f.Arch.Value)
	if err != nil {
		return buildctx.Params{}, &errs.ConfigurationError{Reason: fmt.Sprintf("architecture from %s", f.Arch.Source), Err: err}
	}
	buildType, err := buildctx.ParseBuildType(strings.ToLower(f.BuildType.Value))
	if err != nil {
		return buildctx.Params{}, &errs.ConfigurationError{Reason: fmt.Sprintf("build type from %s", f.BuildType.Source), Err: err}
	}
	platform, err := buildctx.ParsePlatform(f.Platform.Value)
	if err != nil {
		return buildctx.Params{}, &errs.ConfigurationError{Reason: fmt.Sprintf("platform from %s", f.Platform.Source), Err: err}
	}

	src := f.ChromiumSrc.Value
	if !filepath.IsAbs(src) {
		src = filepath.Join(root, src)
	}
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		return buildctx.Params{}, errs.Configurationf(
			"chromium source directory not found: %s (from %s; set --chromium-src, build.chromium_src or %s)",
			src, f.ChromiumSrc.Source, EnvChromiumSrc)
	}

	p := buildctx.Params{
		RootDir:     root,
		ChromiumSrc: src,
		Arch:        arch,
		BuildType:   buildType,
		Platform:    platform,
	}
	if err := p.Validate(); err != nil {
		return buildctx.Params{}, &errs.ConfigurationError{Reason: "invalid build parameters", Err: err}
	}
	return p, nil
}
