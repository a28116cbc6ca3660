package buildctx

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	chromiumVersionFile = "CHROMIUM_VERSION"
	productVersionFile  = "BROWSER_VERSION"
)

// ChromiumVersion is the four-part version of the upstream Chromium
// checkout.
type ChromiumVersion struct {
	Major, Minor, Build, Patch int
}

func (v ChromiumVersion) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Build, v.Patch)
}

// WithOffset returns the product version: the Chromium version with offset
// added to the BUILD component.
func (v ChromiumVersion) WithOffset(offset int) ChromiumVersion {
	v.Build += offset
	return v
}

// VersionFile renders v in the MAJOR=..\nMINOR=.. format read by the
// Chromium build.
func (v ChromiumVersion) VersionFile() string {
	return fmt.Sprintf("MAJOR=%d\nMINOR=%d\nBUILD=%d\nPATCH=%d\n", v.Major, v.Minor, v.Build, v.Patch)
}

// LoadChromiumVersion parses <root>/CHROMIUM_VERSION.
func LoadChromiumVersion(root string) (ChromiumVersion, error) {
	data, err := os.ReadFile(filepath.Join(root, chromiumVersionFile))
	if err != nil {
		return ChromiumVersion{}, fmt.Errorf("reading chromium version: %w", err)
	}
	return ParseChromiumVersion(string(data))
}

// ParseChromiumVersion parses KEY=VALUE lines with MAJOR, MINOR, BUILD and
// PATCH keys.
func ParseChromiumVersion(content string) (ChromiumVersion, error) {
	fields := make(map[string]int, 4)
	for i, line := range strings.Split(strings.TrimSpace(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return ChromiumVersion{}, fmt.Errorf("line %d: expected KEY=VALUE, got %q", i+1, line)
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return ChromiumVersion{}, fmt.Errorf("line %d: %s is not a number: %w", i+1, key, err)
		}
		fields[strings.TrimSpace(key)] = n
	}

	for _, key := range []string{"MAJOR", "MINOR", "BUILD", "PATCH"} {
		if _, ok := fields[key]; !ok {
			return ChromiumVersion{}, fmt.Errorf("missing %s", key)
		}
	}

	return ChromiumVersion{
		Major: fields["MAJOR"],
		Minor: fields["MINOR"],
		Build: fields["BUILD"],
		Patch: fields["PATCH"],
	}, nil
}

// LoadProductOffset reads the integer product version offset from
// <root>/build/config/BROWSER_VERSION.
func LoadProductOffset(root string) (int, error) {
	data, err := os.ReadFile(filepath.Join(root, "build", "config", productVersionFile))
	if err != nil {
		return 0, fmt.Errorf("reading product version: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing product version: %w", err)
	}
	return n, nil
}

// LoadProductVersion combines both version files into the product version.
func LoadProductVersion(root string) (ChromiumVersion, error) {
	base, err := LoadChromiumVersion(root)
	if err != nil {
		return ChromiumVersion{}, err
	}
	offset, err := LoadProductOffset(root)
	if err != nil {
		return ChromiumVersion{}, err
	}
	return base.WithOffset(offset), nil
}
