package api

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/systemstart/browser-build/pkg/errs"
)

// Document is the pipeline configuration document format.
type Document struct {
	Version any    `yaml:"version"`
	Name    string `yaml:"name"`

	PipelineBody `yaml:",inline"`

	Pipelines NamedPipelines `yaml:"pipelines"`
	Build     BuildBlock     `yaml:"build"`
	Paths     PathsBlock     `yaml:"paths"`

	// Set by the loader, not from YAML.
	FilePath string `yaml:"-"`
	Hash     string `yaml:"-"`
}

// PipelineBody is one pipeline: an ordered step list plus its environment.
// "modules" is accepted as a synonym for "steps".
type PipelineBody struct {
	Description  string            `yaml:"description"`
	Steps        []StepRef         `yaml:"steps"`
	Modules      []StepRef         `yaml:"modules"`
	Env          map[string]string `yaml:"env"`
	RequiredEnvs []string          `yaml:"required_envs"`
}

// StepList returns the declared steps, preferring "steps" over "modules".
func (b *PipelineBody) StepList() []StepRef {
	if len(b.Steps) > 0 {
		return b.Steps
	}
	return b.Modules
}

// HasSteps reports whether the body declares a non-empty step list.
func (b *PipelineBody) HasSteps() bool {
	return len(b.StepList()) > 0
}

// BuildBlock carries scalar build parameters.
type BuildBlock struct {
	Arch         string `yaml:"arch"`
	Architecture string `yaml:"architecture"`
	ChromiumSrc  string `yaml:"chromium_src"`
	Type         string `yaml:"type"`
}

// PathsBlock carries directory overrides.
type PathsBlock struct {
	RootDir     string `yaml:"root_dir"`
	ChromiumSrc string `yaml:"chromium_src"`
}

// NamedPipeline is one entry of the pipelines mapping.
type NamedPipeline struct {
	Name string
	Body PipelineBody
}

// NamedPipelines keeps the declaration order of the pipelines mapping.
type NamedPipelines []NamedPipeline

func (n *NamedPipelines) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: pipelines must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		var body PipelineBody
		if err := node.Content[i+1].Decode(&body); err != nil {
			return fmt.Errorf("pipeline %q: %w", node.Content[i].Value, err)
		}
		*n = append(*n, NamedPipeline{Name: node.Content[i].Value, Body: body})
	}
	return nil
}

// Names lists the pipeline names in declaration order.
func (n NamedPipelines) Names() []string {
	names := make([]string, len(n))
	for i, p := range n {
		names[i] = p.Name
	}
	return names
}

// Pipeline selects the pipeline body to run. With named pipelines present,
// an empty name selects the first one declared. Without them, the
// top-level body is used and name must be empty.
func (d *Document) Pipeline(name string) (*PipelineBody, error) {
	if len(d.Pipelines) == 0 {
		if name != "" {
			return nil, errs.Configurationf("pipeline %q requested but the document declares no pipelines", name)
		}
		return &d.PipelineBody, nil
	}
	if name == "" {
		return &d.Pipelines[0].Body, nil
	}
	for i := range d.Pipelines {
		if d.Pipelines[i].Name == name {
			return &d.Pipelines[i].Body, nil
		}
	}
	return nil, errs.Configurationf("pipeline %q not found (available: %v)", name, d.Pipelines.Names())
}

// StepRef is one entry of a step list: a step name, its inline configuration
// and an optional "when" predicate.
type StepRef struct {
	Name   string
	Config map[string]any
	When   string
}

// UnmarshalYAML accepts three shapes:
//
//	- clean
//	- name: sign-mac
//	  when: platform == 'macos'
//	  notarize: true
//	- sign-mac: {notarize: true}
//	  when: platform == 'macos'
//
// In the last shape "when" may also sit inside the config mapping; the
// sibling key wins when both are present.
func (r *StepRef) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		r.Name = node.Value
		return nil
	case yaml.MappingNode:
	default:
		return fmt.Errorf("line %d: step must be a name or a mapping", node.Line)
	}

	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}

	when, err := popWhen(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}

	if name, ok := raw["name"]; ok {
		s, isString := name.(string)
		if !isString {
			return fmt.Errorf("line %d: step name must be a string", node.Line)
		}
		delete(raw, "name")
		r.Name, r.Config, r.When = s, raw, when
		return nil
	}

	if len(raw) != 1 {
		return fmt.Errorf("line %d: step mapping must have exactly one step name key, got %d", node.Line, len(raw))
	}
	for name, value := range raw {
		r.Name = name
		switch cfg := value.(type) {
		case nil:
			r.Config = map[string]any{}
		case map[string]any:
			inner, err := popWhen(cfg)
			if err != nil {
				return fmt.Errorf("line %d: step %q: %w", node.Line, name, err)
			}
			if when == "" {
				when = inner
			}
			r.Config = cfg
		default:
			return fmt.Errorf("line %d: step %q config must be a mapping", node.Line, name)
		}
	}
	r.When = when
	return nil
}

func popWhen(m map[string]any) (string, error) {
	v, ok := m["when"]
	if !ok {
		return "", nil
	}
	delete(m, "when")
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("when must be a string")
	}
	return s, nil
}
