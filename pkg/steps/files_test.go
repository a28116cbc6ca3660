package steps

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFilterFiles(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.patch", "")
	writeTestFile(t, dir, "sub/b.patch", "")
	writeTestFile(t, dir, "sub/deep/c.patch", "")
	writeTestFile(t, dir, "notes.txt", "")

	tests := []struct {
		name    string
		include []string
		exclude []string
		want    string
	}{
		{"default include", nil, nil, "a.patch,notes.txt,sub/b.patch,sub/deep/c.patch"},
		{"extension", []string{"**/*.patch"}, nil, "a.patch,sub/b.patch,sub/deep/c.patch"},
		{"exclude", []string{"**/*.patch"}, []string{"sub/deep/*"}, "a.patch,sub/b.patch"},
		{"overlapping includes", []string{"*.patch", "a.*"}, nil, "a.patch"},
		{"no match", []string{"*.diff"}, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := filterFiles(os.DirFS(dir), tt.include, tt.exclude)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if strings.Join(got, ",") != tt.want {
				t.Fatalf("got %v, want %s", got, tt.want)
			}
		})
	}
}

func TestFilterFiles_BadPattern(t *testing.T) {
	_, err := filterFiles(os.DirFS(t.TempDir()), []string{"[unclosed"}, nil)
	if err == nil || !strings.Contains(err.Error(), "include filter") {
		t.Fatalf("expected include filter error, got %v", err)
	}
}

func TestRenderTemplate(t *testing.T) {
	got, err := renderTemplate("t", `{{ .name | upper }}-{{ default "x" .missing }}`, map[string]any{"name": "nightly"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "NIGHTLY-x" {
		t.Fatalf("got %q", got)
	}
}

func TestRenderTemplate_Errors(t *testing.T) {
	if _, err := renderTemplate("t", "{{ .x", nil); err == nil || !strings.Contains(err.Error(), "parsing template") {
		t.Fatalf("expected parse error, got %v", err)
	}
	if _, err := renderTemplate("t", `{{ fail "boom" }}`, nil); err == nil || !strings.Contains(err.Error(), "executing template") {
		t.Fatalf("expected execution error, got %v", err)
	}
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeTestFile(t, src, "chrome/app/theme.png", "png")
	writeTestFile(t, src, "chrome/app/skip.tmp", "tmp")

	files, err := copyTree(src, dst, nil, []string{"**/*.tmp"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 1 || files[0] != "chrome/app/theme.png" {
		t.Fatalf("unexpected files: %v", files)
	}
	content, err := os.ReadFile(filepath.Join(dst, "chrome/app/theme.png"))
	if err != nil || string(content) != "png" {
		t.Fatalf("file not copied: %v %q", err, content)
	}
	if exists(filepath.Join(dst, "chrome/app/skip.tmp")) {
		t.Fatal("excluded file copied")
	}
}

func TestCopyTree_DryRun(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeTestFile(t, src, "a.txt", "a")

	files, err := copyTree(src, dst, nil, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("expected one file reported, got %v", files)
	}
	if exists(filepath.Join(dst, "a.txt")) {
		t.Fatal("dry run copied a file")
	}
}
