package steps

import (
	"strings"
	"testing"
)

func TestConfig(t *testing.T) {
	cfg := Config{
		"bucket":   "nightly",
		"retries":  3,
		"notarize": true,
		"files":    []any{"*.dmg", "*.zip"},
		"single":   "*.exe",
		"replacements": map[string]any{
			"Chromium": "Nimbus",
			"Google":   "Nimbus Labs",
		},
	}

	if got := cfg.String("bucket", "x"); got != "nightly" {
		t.Errorf("String: got %q", got)
	}
	if got := cfg.String("retries", ""); got != "3" {
		t.Errorf("String of number: got %q", got)
	}
	if got := cfg.String("missing", "def"); got != "def" {
		t.Errorf("String default: got %q", got)
	}
	if !cfg.Bool("notarize", false) || cfg.Bool("bucket", false) || !cfg.Bool("missing", true) {
		t.Error("Bool returned unexpected values")
	}
	if got := strings.Join(cfg.Strings("files"), ","); got != "*.dmg,*.zip" {
		t.Errorf("Strings: got %q", got)
	}
	if got := cfg.Strings("single"); len(got) != 1 || got[0] != "*.exe" {
		t.Errorf("Strings of scalar: got %v", got)
	}
	if got := cfg.Strings("missing"); got != nil {
		t.Errorf("Strings missing: got %v", got)
	}

	pairs := cfg.StringMap("replacements")
	if len(pairs) != 2 || pairs[0][0] != "Chromium" || pairs[1][1] != "Nimbus Labs" {
		t.Errorf("StringMap: got %v", pairs)
	}
}

func TestConfig_Nil(t *testing.T) {
	var cfg Config
	if cfg.String("a", "b") != "b" || cfg.Bool("a", true) != true || cfg.Strings("a") != nil || cfg.StringMap("a") != nil {
		t.Fatal("nil config should return defaults")
	}
}
