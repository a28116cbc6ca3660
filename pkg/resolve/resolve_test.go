package resolve

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/systemstart/browser-build/pkg/api"
	"github.com/systemstart/browser-build/pkg/buildctx"
	"github.com/systemstart/browser-build/pkg/errs"
)

func mapLookup(m map[string]string) api.LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

const (
	levelExplicit = 1 << iota
	levelConfig
	levelEnv
)

// TestResolveFields_Precedence sets distinct sentinels at every combination
// of levels and checks the highest one present always wins.
func TestResolveFields_Precedence(t *testing.T) {
	type fieldCase struct {
		name   string
		set    func(level int, args *Args, doc *api.Document, env map[string]string, defaults *Defaults)
		get    func(Fields) Field
		prefix string
	}

	fields := []fieldCase{
		{
			name: "root",
			set: func(level int, args *Args, doc *api.Document, env map[string]string, d *Defaults) {
				d.RootDir = "default-root"
				if level&levelExplicit != 0 {
					args.RootDir = "explicit-root"
				}
				if level&levelConfig != 0 {
					doc.Paths.RootDir = "config-root"
				}
				if level&levelEnv != 0 {
					env[EnvRootDir] = "env-root"
				}
			},
			get:    func(f Fields) Field { return f.RootDir },
			prefix: "root",
		},
		{
			name: "chromium_src",
			set: func(level int, args *Args, doc *api.Document, env map[string]string, d *Defaults) {
				d.RootDir = "/r"
				if level&levelExplicit != 0 {
					args.ChromiumSrc = "explicit-src"
				}
				if level&levelConfig != 0 {
					doc.Build.ChromiumSrc = "config-src"
				}
				if level&levelEnv != 0 {
					env[EnvChromiumSrc] = "env-src"
				}
			},
			get:    func(f Fields) Field { return f.ChromiumSrc },
			prefix: "src",
		},
		{
			name: "arch",
			set: func(level int, args *Args, doc *api.Document, env map[string]string, d *Defaults) {
				d.Arch = "default-arch"
				if level&levelExplicit != 0 {
					args.Arch = "explicit-arch"
				}
				if level&levelConfig != 0 {
					doc.Build.Arch = "config-arch"
				}
				if level&levelEnv != 0 {
					env[EnvArch] = "env-arch"
				}
			},
			get:    func(f Fields) Field { return f.Arch },
			prefix: "arch",
		},
		{
			name: "build_type",
			set: func(level int, args *Args, doc *api.Document, env map[string]string, d *Defaults) {
				d.BuildType = "default-type"
				if level&levelExplicit != 0 {
					args.BuildType = "explicit-type"
				}
				if level&levelConfig != 0 {
					doc.Build.Type = "config-type"
				}
				if level&levelEnv != 0 {
					env[EnvBuildType] = "env-type"
				}
			},
			get:    func(f Fields) Field { return f.BuildType },
			prefix: "type",
		},
	}

	for _, fc := range fields {
		for level := 0; level < 8; level++ {
			var args Args
			var doc api.Document
			env := map[string]string{}
			var defaults Defaults
			fc.set(level, &args, &doc, env, &defaults)

			got := fc.get(ResolveFields(args, &doc, mapLookup(env), defaults))

			var want Field
			switch {
			case level&levelExplicit != 0:
				want = Field{"explicit-" + fc.prefix, FromExplicit}
			case level&levelConfig != 0:
				want = Field{"config-" + fc.prefix, FromConfig}
			case level&levelEnv != 0:
				want = Field{"env-" + fc.prefix, FromEnvironment}
			case fc.name == "chromium_src":
				want = Field{filepath.Join("/r", "chromium_src"), FromDefault}
			default:
				want = Field{"default-" + fc.prefix, FromDefault}
			}
			if got != want {
				t.Errorf("%s with levels %03b: got %+v, want %+v", fc.name, level, got, want)
			}
		}
	}
}

func TestResolveFields_DocumentSynonyms(t *testing.T) {
	doc := &api.Document{
		Build: api.BuildBlock{Architecture: "arm64"},
		Paths: api.PathsBlock{ChromiumSrc: "src"},
	}
	f := ResolveFields(Args{}, doc, mapLookup(nil), Defaults{RootDir: "/r", Arch: "x64"})
	if f.Arch.Value != "arm64" || f.ChromiumSrc.Value != "src" {
		t.Fatalf("unexpected fields: %+v", f)
	}
}

func TestResolveFields_DefaultSrcFollowsResolvedRoot(t *testing.T) {
	f := ResolveFields(Args{}, nil, mapLookup(map[string]string{EnvRootDir: "/env/root"}), Defaults{RootDir: "/cwd"})
	if f.ChromiumSrc.Value != filepath.Join("/env/root", "chromium_src") {
		t.Fatalf("got %+v", f.ChromiumSrc)
	}
}

func validFields(t *testing.T) Fields {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "chromium_src"), 0o750); err != nil {
		t.Fatal(err)
	}
	return Fields{
		RootDir:     Field{root, FromExplicit},
		ChromiumSrc: Field{"chromium_src", FromConfig},
		Arch:        Field{"amd64", FromEnvironment},
		BuildType:   Field{"Release", FromEnvironment},
		Platform:    Field{"linux", FromDefault},
	}
}

func TestFields_Params(t *testing.T) {
	f := validFields(t)
	p, err := f.Params()
	if err != nil {
		t.Fatal(err)
	}
	if p.ChromiumSrc != filepath.Join(f.RootDir.Value, "chromium_src") {
		t.Errorf("relative source should be joined to the root, got %s", p.ChromiumSrc)
	}
	if p.Arch != buildctx.X64 || p.BuildType != buildctx.Release || p.Platform != buildctx.Linux {
		t.Errorf("unexpected params: %+v", p)
	}
}

func TestFields_ParamsErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Fields)
		wantErr string
	}{
		{"bad arch", func(f *Fields) { f.Arch.Value = "sparc" }, "architecture from environment"},
		{"bad build type", func(f *Fields) { f.BuildType.Value = "fast" }, "build type"},
		{"bad platform", func(f *Fields) { f.Platform.Value = "beos" }, "platform"},
		{"missing source", func(f *Fields) { f.ChromiumSrc.Value = "nope" }, "chromium source directory not found"},
		{"universal on linux", func(f *Fields) { f.Arch.Value = "universal" }, "only supported on macos"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validFields(t)
			tt.mutate(&f)
			_, err := f.Params()
			if errs.CodeOf(err) != errs.CodeConfiguration || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected configuration error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSelectPipeline_ModeExclusivity(t *testing.T) {
	docWithSteps := &api.Document{PipelineBody: api.PipelineBody{Steps: []api.StepRef{{Name: "clean"}}}}

	for mask := 0; mask < 8; mask++ {
		var args Args
		var doc *api.Document
		active := 0
		if mask&1 != 0 {
			doc = docWithSteps
			active++
		}
		if mask&2 != 0 {
			args.Modules = []string{"clean", "build"}
			active++
		}
		if mask&4 != 0 {
			args.Phases = []string{"setup"}
			active++
		}

		sel, err := SelectPipeline(args, doc, DefaultPhases())
		if active == 1 {
			if err != nil || len(sel.Refs) == 0 {
				t.Errorf("mask %03b: expected success, got %v", mask, err)
			}
			continue
		}
		var cfgErr *errs.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Errorf("mask %03b: expected ConfigurationError, got %v", mask, err)
			continue
		}
		if !strings.Contains(err.Error(), "choose exactly one of") {
			t.Errorf("mask %03b: error should list alternatives: %v", mask, err)
		}
	}
}

func TestSelectPipeline_DocumentWithoutSteps(t *testing.T) {
	_, err := SelectPipeline(Args{}, &api.Document{FilePath: "/x/build.yaml"}, DefaultPhases())
	if err == nil || !strings.Contains(err.Error(), "/x/build.yaml has no steps") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSelectPipeline_Modules(t *testing.T) {
	sel, err := SelectPipeline(Args{Modules: SplitList(" clean, ,build ,")}, nil, DefaultPhases())
	if err != nil {
		t.Fatal(err)
	}
	if sel.Mode != ModeModules || refNames(sel.Refs)[1] != "build" || len(sel.Refs) != 2 {
		t.Fatalf("unexpected selection: %+v", sel)
	}

	if _, err := SelectPipeline(Args{Modules: []string{" "}}, nil, DefaultPhases()); err == nil {
		t.Fatal("expected error for an empty module list")
	}
}

func TestSelectPipeline_NamedPipelines(t *testing.T) {
	doc := &api.Document{Pipelines: api.NamedPipelines{
		{Name: "nightly", Body: api.PipelineBody{Steps: []api.StepRef{{Name: "build"}}}},
		{Name: "release", Body: api.PipelineBody{Modules: []api.StepRef{{Name: "clean"}, {Name: "build"}}}},
		{Name: "empty"},
	}}

	sel, err := SelectPipeline(Args{}, doc, DefaultPhases())
	if err != nil || sel.Name != "nightly" || len(sel.Refs) != 1 {
		t.Fatalf("expected first pipeline, got %+v / %v", sel, err)
	}

	sel, err = SelectPipeline(Args{Pipeline: "release"}, doc, DefaultPhases())
	if err != nil || sel.Name != "release" || !slices.Equal(refNames(sel.Refs), []string{"clean", "build"}) {
		t.Fatalf("unexpected selection %+v / %v", sel, err)
	}

	if _, err := SelectPipeline(Args{Pipeline: "weekly"}, doc, DefaultPhases()); err == nil || !strings.Contains(err.Error(), "nightly") {
		t.Fatalf("expected error listing available pipelines, got %v", err)
	}
	if _, err := SelectPipeline(Args{Pipeline: "empty"}, doc, DefaultPhases()); err == nil {
		t.Fatal("expected error for a pipeline without steps")
	}
	if _, err := SelectPipeline(Args{Pipeline: "release", Modules: []string{"x"}}, nil, DefaultPhases()); err == nil {
		t.Fatal("expected error for a pipeline name without a document")
	}
}

func refNames(refs []api.StepRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Name
	}
	return out
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	if err := os.MkdirAll(src, 0o750); err != nil {
		t.Fatal(err)
	}
	doc := &api.Document{
		PipelineBody: api.PipelineBody{
			Steps:        []api.StepRef{{Name: "clean"}},
			Env:          map[string]string{"GYP_DEFINES": "x=1"},
			RequiredEnvs: []string{"SIGNING_KEY", "GYP_DEFINES"},
		},
		Build: api.BuildBlock{ChromiumSrc: src, Type: "release"},
	}
	args := Args{RootDir: root, DryRun: true, Skip: []string{"git-sync"}}
	defaults := Defaults{Arch: "x64", BuildType: "debug", Platform: "linux"}

	_, err := Resolve(args, doc, mapLookup(nil), defaults, DefaultPhases())
	if err == nil || !strings.Contains(err.Error(), "SIGNING_KEY") || strings.Contains(err.Error(), "GYP_DEFINES") {
		t.Fatalf("expected only SIGNING_KEY reported missing, got %v", err)
	}

	res, err := Resolve(args, doc, mapLookup(map[string]string{"SIGNING_KEY": "k"}), defaults, DefaultPhases())
	if err != nil {
		t.Fatal(err)
	}
	p := res.Params
	if p.ChromiumSrc != src || p.BuildType != buildctx.Release || !p.DryRun || !slices.Equal(p.Skip, []string{"git-sync"}) {
		t.Fatalf("unexpected params: %+v", p)
	}
	if p.Env["GYP_DEFINES"] != "x=1" {
		t.Errorf("expected pipeline env in overrides, got %v", p.Env)
	}
	if res.Selection.Mode != ModeConfig || res.Fields.BuildType.Source != FromConfig {
		t.Errorf("unexpected resolution: %+v", res)
	}

	doc.Env["MUTATE"] = "1"
	if _, ok := p.Env["MUTATE"]; ok {
		t.Error("params env must not alias the document env")
	}
}

func TestResolve_SelectionErrorsComeFirst(t *testing.T) {
	// No chromium source either; the selection error is reported.
	_, err := Resolve(Args{}, nil, mapLookup(nil), Defaults{RootDir: t.TempDir()}, DefaultPhases())
	if err == nil || !strings.Contains(err.Error(), "no pipeline selected") {
		t.Fatalf("unexpected error: %v", err)
	}
}
