package processing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func unsetAfterTest(t *testing.T, keys ...string) {
	t.Helper()
	t.Cleanup(func() {
		for _, k := range keys {
			_ = os.Unsetenv(k)
		}
	})
}

func TestLoadEnv_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("BROWSER_BUILD_TEST_A=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	unsetAfterTest(t, "BROWSER_BUILD_TEST_A")

	if err := LoadEnv(""); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("BROWSER_BUILD_TEST_A"); got != "from-dotenv" {
		t.Errorf("got %q", got)
	}
}

func TestLoadEnv_MissingDefaultIsFine(t *testing.T) {
	t.Chdir(t.TempDir())
	if err := LoadEnv(""); err != nil {
		t.Fatalf("a missing .env should be ignored: %v", err)
	}
}

func TestLoadEnv_NamedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signing.env")
	if err := os.WriteFile(path, []byte("BROWSER_BUILD_TEST_B=file\nBROWSER_BUILD_TEST_C=file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BROWSER_BUILD_TEST_C", "process")
	unsetAfterTest(t, "BROWSER_BUILD_TEST_B")

	if err := LoadEnv(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("BROWSER_BUILD_TEST_B"); got != "file" {
		t.Errorf("B = %q", got)
	}
	if got := os.Getenv("BROWSER_BUILD_TEST_C"); got != "process" {
		t.Errorf("existing variables must not be overridden, C = %q", got)
	}

	err := LoadEnv(filepath.Join(t.TempDir(), "missing.env"))
	if err == nil || !strings.Contains(err.Error(), "loading env file") {
		t.Fatalf("expected error for a missing named file, got %v", err)
	}
}

func TestParseEnvOverrides(t *testing.T) {
	got, err := ParseEnvOverrides([]string{"A=1", "B=x=y", "A=2", "EMPTY="})
	if err != nil {
		t.Fatal(err)
	}
	if got["A"] != "2" || got["B"] != "x=y" || got["EMPTY"] != "" || len(got) != 3 {
		t.Errorf("unexpected overrides: %v", got)
	}

	for _, bad := range []string{"NOEQUALS", "=value", " =v"} {
		if _, err := ParseEnvOverrides([]string{bad}); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestMergeEnv(t *testing.T) {
	global := map[string]string{"A": "g", "B": "g"}
	local := map[string]string{"B": "l", "C": "l"}

	merged := MergeEnv(global, local)
	if merged["A"] != "g" || merged["B"] != "l" || merged["C"] != "l" {
		t.Errorf("unexpected merge: %v", merged)
	}
	merged["A"] = "changed"
	if global["A"] != "g" {
		t.Error("inputs must not be modified")
	}
	if got := MergeEnv(nil, nil); got == nil || len(got) != 0 {
		t.Errorf("expected an empty map, got %v", got)
	}
}
