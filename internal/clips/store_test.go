package clips

import (
	"os"
	"path/filepath"
	"testing"

	"call-insights-go/internal/logger"
)

func TestDiscover_FiltersByExtension(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"call_20240110_093000.aac",
		"recording.mp3",
		"notes.txt",
		"archive.zip",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("data"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.aac"), 0755); err != nil {
		t.Fatal(err)
	}

	store := NewStore(dir, logger.New().Entry)
	clips, err := store.Discover()
	if err != nil {
		t.Fatal(err)
	}
	if len(clips) != 2 {
		t.Fatalf("discovered %d clips, want 2", len(clips))
	}
	for _, c := range clips {
		if c.ID == "" {
			t.Errorf("clip %s has empty id", c.Path)
		}
		if c.Size != 4 {
			t.Errorf("clip %s size = %d, want 4", c.Path, c.Size)
		}
	}
}

func TestDiscover_MissingDir(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nope"), logger.New().Entry)
	if _, err := store.Discover(); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestClipID_StableAndDistinct(t *testing.T) {
	a := ClipID("/clips/call_1.aac")
	b := ClipID("/clips/call_1.aac")
	c := ClipID("/clips/call_2.aac")
	if a != b {
		t.Error("same path produced different ids")
	}
	if a == c {
		t.Error("different paths produced the same id")
	}
	if len(a) != 16 {
		t.Errorf("id length = %d, want 16", len(a))
	}
}

func TestParseCallDate(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"call_20240110_093000.aac", "20240110_093000"},
		{"call_20240110.aac", "20240110"},
		{"20231201-154500_support.mp3", "20231201_154500"},
		{"random_clip.aac", ""},
	}
	for _, tc := range cases {
		if got := ParseCallDate(tc.name); got != tc.want {
			t.Errorf("ParseCallDate(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}
