package steps

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/systemstart/browser-build/pkg/buildctx"
	"github.com/systemstart/browser-build/pkg/executor"
)

// writeTestFile writes content to a file below dir, failing the test on error.
func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// testParams lays out a root with version files and an empty chromium
// checkout.
func testParams(t *testing.T, platform buildctx.Platform, arch buildctx.Arch) buildctx.Params {
	t.Helper()
	root := t.TempDir()
	writeTestFile(t, root, "CHROMIUM_VERSION", "MAJOR=137\nMINOR=0\nBUILD=7151\nPATCH=69\n")
	writeTestFile(t, root, "build/config/BROWSER_VERSION", "42\n")

	src := filepath.Join(root, "chromium_src")
	if err := os.MkdirAll(src, 0o750); err != nil {
		t.Fatal(err)
	}

	return buildctx.Params{
		RootDir:     root,
		ChromiumSrc: src,
		Arch:        arch,
		BuildType:   buildctx.Release,
		Platform:    platform,
		Env:         map[string]string{},
	}
}

var testNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// testToolbox records commands instead of running them and finds every
// tool in PATH.
func testToolbox() (*Toolbox, *executor.Recorder) {
	rec := &executor.Recorder{}
	return &Toolbox{
		Exec:     rec,
		LookPath: func(file string) (string, error) { return "/usr/bin/" + file, nil },
		Now:      func() time.Time { return testNow },
	}, rec
}

func mustLookup(t *testing.T, tools *Toolbox, name string) Step {
	t.Helper()
	s, err := Default(tools).Lookup(name)
	if err != nil {
		t.Fatal(err)
	}
	return s
}
