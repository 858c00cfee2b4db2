package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestDefaultOutputPath(t *testing.T) {
	tests := []struct {
		input, dir, target, want string
	}{
		{"books/novel.epub", "output", "zh", filepath.Join("output", "novel_zh.epub")},
		{"books/novel.epub", "", "ja", filepath.Join("books", "novel_ja.epub")},
	}
	for _, tt := range tests {
		if got := defaultOutputPath(tt.input, tt.dir, tt.target); got != tt.want {
			t.Errorf("defaultOutputPath(%q, %q) = %q, want %q", tt.input, tt.dir, got, tt.want)
		}
	}
}

func TestProgressPrinterNeverMovesBackwards(t *testing.T) {
	color.NoColor = true
	var out strings.Builder
	p := newProgressPrinter(&out)

	p.Progress(40)
	p.Progress(20)
	p.Status("halfway")
	p.Done()

	s := out.String()
	if strings.Contains(s, " 20.0%") {
		t.Errorf("progress went backwards: %q", s)
	}
	if !strings.Contains(s, " 40.0%") || !strings.Contains(s, "halfway") {
		t.Errorf("output = %q", s)
	}
}

func TestRenderBarClamps(t *testing.T) {
	color.NoColor = true
	if got := renderBar(150); !strings.HasSuffix(got, "100.0%") {
		t.Errorf("renderBar(150) = %q", got)
	}
	if got := renderBar(-5); !strings.HasSuffix(got, "  0.0%") {
		t.Errorf("renderBar(-5) = %q", got)
	}
}
