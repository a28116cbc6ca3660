package api

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestStepRef_Shapes(t *testing.T) {
	content := `
steps:
  - clean
  - name: sign-mac
    when: platform == 'macos'
    notarize: true
  - package-mac: {dmg: true}
    when: arch == 'arm64'
  - upload-gcs:
      bucket: nightly
      when: build_type == 'release'
  - configure:
`
	var d Document
	if err := yaml.Unmarshal([]byte(content), &d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name    string
		when    string
		cfgKey  string
		cfgWant any
	}{
		{"clean", "", "", nil},
		{"sign-mac", "platform == 'macos'", "notarize", true},
		{"package-mac", "arch == 'arm64'", "dmg", true},
		{"upload-gcs", "build_type == 'release'", "bucket", "nightly"},
		{"configure", "", "", nil},
	}
	if len(d.Steps) != len(tests) {
		t.Fatalf("expected %d steps, got %d", len(tests), len(d.Steps))
	}
	for i, tt := range tests {
		got := d.Steps[i]
		if got.Name != tt.name {
			t.Errorf("step %d: name %q, want %q", i, got.Name, tt.name)
		}
		if got.When != tt.when {
			t.Errorf("step %d: when %q, want %q", i, got.When, tt.when)
		}
		if _, leaked := got.Config["when"]; leaked {
			t.Errorf("step %d: when left in config", i)
		}
		if tt.cfgKey != "" && got.Config[tt.cfgKey] != tt.cfgWant {
			t.Errorf("step %d: config[%s]=%v, want %v", i, tt.cfgKey, got.Config[tt.cfgKey], tt.cfgWant)
		}
	}
}

func TestStepRef_SiblingWhenWins(t *testing.T) {
	content := `
- sign-mac:
    when: platform == 'linux'
  when: platform == 'macos'
`
	var refs []StepRef
	if err := yaml.Unmarshal([]byte(content), &refs); err != nil {
		t.Fatal(err)
	}
	if refs[0].When != "platform == 'macos'" {
		t.Fatalf("expected sibling when, got %q", refs[0].When)
	}
}

func TestStepRef_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"two keys", "- {clean: {}, build: {}}", "exactly one step name key"},
		{"scalar config", "- clean: yes", "config must be a mapping"},
		{"non-string when", "- {name: clean, when: 3}", "when must be a string"},
		{"list", "- [clean]", "step must be a name or a mapping"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var refs []StepRef
			err := yaml.Unmarshal([]byte(tt.content), &refs)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected %q in error, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNamedPipelines_Order(t *testing.T) {
	content := `
pipelines:
  zeta:
    steps: [clean]
  alpha:
    steps: [build]
  mid:
    modules: [sign]
`
	var d Document
	if err := yaml.Unmarshal([]byte(content), &d); err != nil {
		t.Fatal(err)
	}
	got := strings.Join(d.Pipelines.Names(), ",")
	if got != "zeta,alpha,mid" {
		t.Fatalf("expected declaration order, got %s", got)
	}

	body, err := d.Pipeline("")
	if err != nil {
		t.Fatal(err)
	}
	if body.StepList()[0].Name != "clean" {
		t.Fatalf("expected first pipeline by default, got %+v", body.StepList())
	}

	body, err = d.Pipeline("mid")
	if err != nil {
		t.Fatal(err)
	}
	if body.StepList()[0].Name != "sign" {
		t.Fatalf("expected modules synonym, got %+v", body.StepList())
	}

	if _, err := d.Pipeline("missing"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestDocument_PipelineWithoutNamed(t *testing.T) {
	d := Document{PipelineBody: PipelineBody{Steps: []StepRef{{Name: "clean"}}}}
	body, err := d.Pipeline("")
	if err != nil {
		t.Fatal(err)
	}
	if !body.HasSteps() {
		t.Fatal("expected top-level steps")
	}
	if _, err := d.Pipeline("nightly"); err == nil {
		t.Fatal("expected error selecting a named pipeline that does not exist")
	}
}
