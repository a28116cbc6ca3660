package resolve

import (
	"slices"
	"strings"

	"github.com/systemstart/browser-build/pkg/errs"
)

// PhaseTable maps phase flags to step lists. Enabled phases always expand
// in the table's canonical order.
type PhaseTable struct {
	order []string
	steps map[string][]string
}

// NewPhaseTable creates a table with the given canonical order.
func NewPhaseTable(order []string, steps map[string][]string) PhaseTable {
	return PhaseTable{order: slices.Clone(order), steps: steps}
}

// DefaultPhases is the built-in phase table. "sign" and "package" are
// platform aliases resolved by the plan builder.
func DefaultPhases() PhaseTable {
	return NewPhaseTable(
		[]string{"setup", "prep", "build", "sign", "package", "upload"},
		map[string][]string{
			"setup":   {"clean", "git-sync", "setup-env"},
			"prep":    {"replace-files", "patch-apply", "patch-strings", "copy-resources"},
			"build":   {"configure", "build"},
			"sign":    {"sign"},
			"package": {"package"},
			"upload":  {"upload-gcs"},
		},
	)
}

// Phases lists the phase names in canonical order.
func (t PhaseTable) Phases() []string {
	return slices.Clone(t.order)
}

// Expand returns the steps of every enabled phase, concatenated in
// canonical order. The order of enabled does not matter; naming a phase
// that is not in the table is a ConfigurationError.
func (t PhaseTable) Expand(enabled []string) ([]string, error) {
	on := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		if !slices.Contains(t.order, name) {
			return nil, errs.Configurationf("unknown phase %q (valid: %s)", name, strings.Join(t.order, ", "))
		}
		on[name] = true
	}

	var out []string
	for _, phase := range t.order {
		if on[phase] {
			out = append(out, t.steps[phase]...)
		}
	}
	return out, nil
}
