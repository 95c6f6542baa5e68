package record

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOutputPathUsesLayoutAndExtension(t *testing.T) {
	cfg := Config{
		Directory:      "recordings",
		FilenameLayout: "2006-01-02_15-04-05",
	}
	at := time.Date(2026, time.March, 14, 9, 26, 53, 0, time.UTC)

	got := cfg.OutputPath(at)
	want := filepath.Join("recordings", "2026-03-14_09-26-53.mkv")
	if got != want {
		t.Fatalf("OutputPath = %q, want %q", got, want)
	}
}

func TestOutputPathDefaultLayout(t *testing.T) {
	cfg := Config{Directory: "out"}
	at := time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC)

	got := cfg.OutputPath(at)
	if !strings.HasPrefix(got, filepath.Join("out", "2026-01-02_03-04-05")) {
		t.Errorf("OutputPath with empty layout = %q, want default timestamp layout", got)
	}
	if !strings.HasSuffix(got, ".mkv") {
		t.Errorf("OutputPath = %q, want .mkv extension", got)
	}
}

func TestOutputPathEmptyDirectoryIsRelative(t *testing.T) {
	cfg := Config{FilenameLayout: "150405"}
	at := time.Date(2026, time.January, 1, 12, 30, 45, 0, time.UTC)

	if got, want := cfg.OutputPath(at), "123045.mkv"; got != want {
		t.Fatalf("OutputPath = %q, want %q", got, want)
	}
}
