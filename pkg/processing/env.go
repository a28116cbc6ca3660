package processing

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnv loads a dotenv file into the process environment without
// overriding variables that are already set. With an empty filename the
// working directory's .env is used when present; a named file must exist.
func LoadEnv(filename string) error {
	if filename == "" {
		err := godotenv.Load()
		if errors.Is(err, fs.ErrNotExist) {
			slog.Info("no .env file found")
			return nil
		}
		if err != nil {
			return fmt.Errorf("loading .env: %w", err)
		}
		slog.Info("using .env file")
		return nil
	}

	if err := godotenv.Load(filename); err != nil {
		return fmt.Errorf("loading env file %s: %w", filename, err)
	}
	slog.Info("using env file", "filename", filename)
	return nil
}

// ParseEnvOverrides turns KEY=VALUE pairs into a map. Later pairs win.
func ParseEnvOverrides(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid env override %q (want KEY=VALUE)", pair)
		}
		out[key] = value
	}
	return out, nil
}

// MergeEnv performs a shallow merge of local over global. Neither input
// is modified.
func MergeEnv(global, local map[string]string) map[string]string {
	merged := make(map[string]string, len(global)+len(local))
	maps.Copy(merged, global)
	maps.Copy(merged, local)
	return merged
}
