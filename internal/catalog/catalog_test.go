package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestListReadsSortedFiles(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"b.txt":  "second",
		"a.txt":  "first",
		"a.json": `{"x":1}`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.txt"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	all, err := List(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all.Artifacts) != 3 || all.Warning != "" {
		t.Fatalf("expected 3 artifacts, got %+v", all)
	}
	if all.Artifacts[0].Filename != "a.json" || all.Artifacts[0].Format != "json" {
		t.Fatalf("unexpected first artifact %+v", all.Artifacts[0])
	}

	txt, err := List(dir, ".txt")
	if err != nil {
		t.Fatalf("list txt: %v", err)
	}
	if len(txt.Artifacts) != 2 || txt.Artifacts[0].Content != "first" || txt.Artifacts[1].Filename != "b.txt" {
		t.Fatalf("unexpected txt listing %+v", txt.Artifacts)
	}
}

func TestListMissingDirectoryWarns(t *testing.T) {
	got, err := List(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.Warning == "" || got.Artifacts == nil || len(got.Artifacts) != 0 {
		t.Fatalf("expected empty listing with warning, got %+v", got)
	}
}
