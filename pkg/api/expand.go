package api

import (
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/systemstart/browser-build/pkg/errs"
)

// placeholderPattern matches ${NAME} and ${NAME:-default}. The default runs
// to the first closing brace.
var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// OSLookup resolves against the process environment.
func OSLookup(key string) (string, bool) { return os.LookupEnv(key) }

// ExpandEnv replaces ${NAME} and ${NAME:-default} placeholders in text.
// Lines whose first non-blank character is '#' are left untouched so
// commented-out placeholders in YAML do not have to be set.
//
// Every ${NAME} without a default that lookup cannot resolve is collected,
// and a ConfigurationError listing them is returned.
func ExpandEnv(text string, lookup LookupFunc) (string, error) {
	if lookup == nil {
		lookup = OSLookup
	}

	var unresolved []string
	lines := strings.SplitAfter(text, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		lines[i] = placeholderPattern.ReplaceAllStringFunc(line, func(match string) string {
			groups := placeholderPattern.FindStringSubmatch(match)
			name, hasDefault, def := groups[1], groups[2] != "", groups[3]
			if value, ok := lookup(name); ok {
				return value
			}
			if hasDefault {
				return strings.TrimSpace(def)
			}
			if !slices.Contains(unresolved, name) {
				unresolved = append(unresolved, name)
			}
			return match
		})
	}

	if len(unresolved) > 0 {
		return "", errs.Configurationf("environment variables not set: %s", strings.Join(unresolved, ", "))
	}
	return strings.Join(lines, ""), nil
}
