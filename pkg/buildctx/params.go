// Package buildctx holds the state of a single pipeline run: the resolved
// build parameters, which never change once created, and the artifact store,
// which grows as steps succeed.
package buildctx

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
)

// Platform is a target operating system.
type Platform string

const (
	MacOS   Platform = "macos"
	Linux   Platform = "linux"
	Windows Platform = "windows"
)

// AllPlatforms lists every supported platform.
var AllPlatforms = []Platform{MacOS, Linux, Windows}

// Arch is a target CPU architecture.
type Arch string

const (
	X64       Arch = "x64"
	ARM64     Arch = "arm64"
	Universal Arch = "universal"
)

// UniversalArches are the real architectures a universal build is made of,
// in build order.
var UniversalArches = []Arch{ARM64, X64}

// BuildType selects a debug or release build.
type BuildType string

const (
	Debug   BuildType = "debug"
	Release BuildType = "release"
)

// ParsePlatform validates a platform name. "darwin" and "mac" are accepted
// as aliases for macos.
func ParsePlatform(s string) (Platform, error) {
	switch s {
	case "macos", "darwin", "mac":
		return MacOS, nil
	case "linux":
		return Linux, nil
	case "windows":
		return Windows, nil
	}
	return "", fmt.Errorf("invalid platform %q (valid: macos, linux, windows)", s)
}

// ParseArch validates an architecture name. "amd64" and "x86_64" are
// accepted as aliases for x64.
func ParseArch(s string) (Arch, error) {
	switch s {
	case "x64", "amd64", "x86_64":
		return X64, nil
	case "arm64", "aarch64":
		return ARM64, nil
	case "universal":
		return Universal, nil
	}
	return "", fmt.Errorf("invalid architecture %q (valid: x64, arm64, universal)", s)
}

// ParseBuildType validates a build type.
func ParseBuildType(s string) (BuildType, error) {
	switch BuildType(s) {
	case Debug, Release:
		return BuildType(s), nil
	}
	return "", fmt.Errorf("invalid build type %q (valid: debug, release)", s)
}

// HostPlatform returns the platform the process runs on.
func HostPlatform() Platform {
	p, err := ParsePlatform(runtime.GOOS)
	if err != nil {
		return Platform(runtime.GOOS)
	}
	return p
}

// HostArch returns the architecture the process runs on.
func HostArch() Arch {
	if runtime.GOARCH == "arm64" {
		return ARM64
	}
	return X64
}

// Params are the resolved build parameters of one run. A Params value is
// never modified after resolution; ForArch derives a new one.
type Params struct {
	RootDir     string
	ChromiumSrc string
	Arch        Arch
	BuildType   BuildType
	Platform    Platform
	DryRun      bool

	// Env holds environment overrides applied to every external tool.
	Env map[string]string

	// Skip and Only filter step names at plan-build time. An empty Only
	// admits every step.
	Skip []string
	Only []string
}

// Validate checks the cross-field invariants of p.
func (p Params) Validate() error {
	if _, err := ParsePlatform(string(p.Platform)); err != nil {
		return err
	}
	if _, err := ParseArch(string(p.Arch)); err != nil {
		return err
	}
	if _, err := ParseBuildType(string(p.BuildType)); err != nil {
		return err
	}
	if p.Arch == Universal && p.Platform != MacOS {
		return fmt.Errorf("universal architecture is only supported on macos, not %s", p.Platform)
	}
	return nil
}

// ForArch returns a copy of p targeting arch. Slices and maps are copied so
// the derived value shares nothing mutable with p.
func (p Params) ForArch(arch Arch) Params {
	out := p
	out.Arch = arch
	out.Env = make(map[string]string, len(p.Env))
	for k, v := range p.Env {
		out.Env[k] = v
	}
	out.Skip = slices.Clone(p.Skip)
	out.Only = slices.Clone(p.Only)
	return out
}

// ShouldSkip reports whether name is excluded by the skip list or the
// allow list.
func (p Params) ShouldSkip(name string) bool {
	if slices.Contains(p.Skip, name) {
		return true
	}
	if len(p.Only) > 0 && !slices.Contains(p.Only, name) {
		return true
	}
	return false
}

// OutDir is the build output directory for the target architecture.
func (p Params) OutDir() string {
	return filepath.Join(p.ChromiumSrc, "out", "Default_"+string(p.Arch))
}

// ConfigDir is the build configuration directory under the root.
func (p Params) ConfigDir() string {
	return filepath.Join(p.RootDir, "build", "config")
}

// DistDir is where packaged outputs are collected.
func (p Params) DistDir() string {
	return filepath.Join(p.RootDir, "dist")
}

// Environ returns the process environment with p.Env applied on top, in
// os/exec form.
func (p Params) Environ() []string {
	env := os.Environ()
	for k, v := range p.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// Getenv looks a variable up in the overrides first, then the process
// environment.
func (p Params) Getenv(key string) string {
	if v, ok := p.Env[key]; ok {
		return v
	}
	return os.Getenv(key)
}
