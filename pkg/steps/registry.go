package steps

import (
	"fmt"
	"slices"

	"github.com/systemstart/browser-build/pkg/errs"
)

// Factory creates a step bound to a toolbox.
type Factory func(tools *Toolbox) Step

// Registry maps step names to factories. Registration order is kept for
// listing; lookups are by name.
type Registry struct {
	tools     *Toolbox
	order     []string
	factories map[string]Factory
}

// NewRegistry creates an empty registry whose steps use tools.
func NewRegistry(tools *Toolbox) *Registry {
	return &Registry{tools: tools, factories: make(map[string]Factory)}
}

// Register adds a step factory. Names must be unique.
func (r *Registry) Register(f Factory) error {
	name := f(r.tools).Definition().Name
	if name == "" {
		return fmt.Errorf("step definition has no name")
	}
	if _, dup := r.factories[name]; dup {
		return fmt.Errorf("step %q registered twice", name)
	}
	if IsAlias(name) {
		return fmt.Errorf("step %q collides with a platform alias", name)
	}
	r.factories[name] = f
	r.order = append(r.order, name)
	return nil
}

// Lookup creates a fresh instance of the named step.
func (r *Registry) Lookup(name string) (Step, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, &errs.UnknownStepError{Name: name, Available: r.Names()}
	}
	return f(r.tools), nil
}

// Names returns every registered name, sorted.
func (r *Registry) Names() []string {
	names := slices.Clone(r.order)
	slices.Sort(names)
	return names
}

// Definitions returns every step definition, sorted by name.
func (r *Registry) Definitions() []Definition {
	names := r.Names()
	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.factories[name](r.tools).Definition())
	}
	return defs
}

// catalogue lists every built-in step in pipeline order.
var catalogue = []Factory{
	newSetupEnv,
	newClean,
	newGitSync,
	newReplaceFiles,
	newPatchApply,
	newPatchStrings,
	newCopyResources,
	newConfigure,
	newCompile,
	newMergeUniversal,
	newSignMac,
	newSignWindows,
	newSignLinux,
	newPackageMac,
	newPackageWindows,
	newPackageLinux,
	newUploadGCS,
	newUploadR2,
	newOTAAppcast,
}

// Default returns a registry holding the built-in steps.
func Default(tools *Toolbox) *Registry {
	r := NewRegistry(tools)
	for _, f := range catalogue {
		if err := r.Register(f); err != nil {
			panic(err)
		}
	}
	return r
}

func validationf(format string, args ...any) error {
	return errs.Validationf(format, args...)
}
