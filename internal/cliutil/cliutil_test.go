package cliutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSuggestOutDir(t *testing.T) {
	dir := t.TempDir()
	sourceDir := filepath.Join(dir, "gdem_source")
	if err := os.MkdirAll(sourceDir, 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := SuggestOutDir(sourceDir)
	if err != nil {
		t.Fatalf("SuggestOutDir: %v", err)
	}
	want := filepath.Join(dir, "gdem_source_tileset")
	if got != want {
		t.Errorf("SuggestOutDir(%q) = %q, want %q", sourceDir, got, want)
	}
}

func TestSuggestOutDirMissingSource(t *testing.T) {
	_, err := SuggestOutDir(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != ErrSourceNotFound {
		t.Fatalf("err = %v, want ErrSourceNotFound", err)
	}
}

func TestHumanSize(t *testing.T) {
	cases := []struct {
		bytes int64
		want  string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, c := range cases {
		if got := HumanSize(c.bytes); got != c.want {
			t.Errorf("HumanSize(%d) = %q, want %q", c.bytes, got, c.want)
		}
	}
}
