package resolve

import (
	"maps"
	"slices"

	"github.com/systemstart/browser-build/pkg/api"
	"github.com/systemstart/browser-build/pkg/buildctx"
)

// Resolution is the output of Resolve.
type Resolution struct {
	Params    buildctx.Params
	Fields    Fields
	Selection *Selection
}

// Resolve selects the pipeline, checks its required environment, and
// resolves the build parameters. The pipeline's env block becomes the
// environment overrides of every tool the steps run. Nothing here touches
// the filesystem beyond checking that the chromium source exists.
func Resolve(args Args, doc *api.Document, lookup api.LookupFunc, defaults Defaults, table PhaseTable) (*Resolution, error) {
	if lookup == nil {
		lookup = api.OSLookup
	}

	sel, err := SelectPipeline(args, doc, table)
	if err != nil {
		return nil, err
	}

	if sel.Body != nil {
		if err := sel.Body.CheckRequiredEnvs(lookup); err != nil {
			return nil, err
		}
	}

	fields := ResolveFields(args, doc, lookup, defaults)
	params, err := fields.Params()
	if err != nil {
		return nil, err
	}

	params.DryRun = args.DryRun
	params.Skip = slices.Clone(args.Skip)
	params.Only = slices.Clone(args.Only)
	params.Env = map[string]string{}
	if sel.Body != nil {
		maps.Copy(params.Env, sel.Body.Env)
	}

	return &Resolution{Params: params, Fields: fields, Selection: sel}, nil
}
