package resolve

import (
	"strings"

	"github.com/systemstart/browser-build/pkg/api"
	"github.com/systemstart/browser-build/pkg/errs"
)

// Mode is a pipeline-selection mode.
type Mode string

const (
	ModeConfig  Mode = "config"
	ModeModules Mode = "modules"
	ModePhases  Mode = "phases"
)

const selectionHelp = "choose exactly one of: a config document with steps, an explicit module list, or phase flags"

// Selection is the chosen pipeline.
type Selection struct {
	Mode Mode
	// Name is the named pipeline, when the document declares several.
	Name string
	Refs []api.StepRef
	// Body is the document pipeline in config mode, nil otherwise.
	Body *api.PipelineBody
}

// activeModes reports which selection modes the inputs enable.
func activeModes(args Args, doc *api.Document) []Mode {
	var modes []Mode
	if doc != nil && (doc.HasSteps() || len(doc.Pipelines) > 0) {
		modes = append(modes, ModeConfig)
	}
	if len(args.Modules) > 0 {
		modes = append(modes, ModeModules)
	}
	if len(args.Phases) > 0 {
		modes = append(modes, ModePhases)
	}
	return modes
}

// SelectPipeline picks the pipeline from exactly one of the three modes.
// Zero or several active modes is a ConfigurationError.
func SelectPipeline(args Args, doc *api.Document, table PhaseTable) (*Selection, error) {
	modes := activeModes(args, doc)
	switch len(modes) {
	case 0:
		if doc != nil {
			return nil, errs.Configurationf("config %s has no steps or modules list; %s", doc.FilePath, selectionHelp)
		}
		return nil, errs.Configurationf("no pipeline selected; %s", selectionHelp)
	case 1:
	default:
		names := make([]string, len(modes))
		for i, m := range modes {
			names[i] = string(m)
		}
		return nil, errs.Configurationf("conflicting pipeline selections (%s); %s", strings.Join(names, ", "), selectionHelp)
	}

	if args.Pipeline != "" && modes[0] != ModeConfig {
		return nil, errs.Configurationf("pipeline %q requested without a config document declaring pipelines", args.Pipeline)
	}

	switch modes[0] {
	case ModeConfig:
		body, err := doc.Pipeline(args.Pipeline)
		if err != nil {
			return nil, err
		}
		if !body.HasSteps() {
			return nil, errs.Configurationf("selected pipeline has no steps")
		}
		name := args.Pipeline
		if name == "" && len(doc.Pipelines) > 0 {
			name = doc.Pipelines[0].Name
		}
		return &Selection{Mode: ModeConfig, Name: name, Refs: body.StepList(), Body: body}, nil

	case ModeModules:
		var refs []api.StepRef
		for _, m := range args.Modules {
			if m = strings.TrimSpace(m); m != "" {
				refs = append(refs, api.StepRef{Name: m})
			}
		}
		if len(refs) == 0 {
			return nil, errs.Configurationf("module list is empty")
		}
		return &Selection{Mode: ModeModules, Refs: refs}, nil

	default:
		names, err := table.Expand(args.Phases)
		if err != nil {
			return nil, err
		}
		if len(names) == 0 {
			return nil, errs.Configurationf("phases %s expand to no steps", strings.Join(args.Phases, ", "))
		}
		refs := make([]api.StepRef, len(names))
		for i, n := range names {
			refs[i] = api.StepRef{Name: n}
		}
		return &Selection{Mode: ModePhases, Refs: refs}, nil
	}
}

// SplitList splits a comma-separated list, dropping empty entries.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
