package translation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestReconciler(t *testing.T) *Reconciler {
	t.Helper()
	r, err := NewReconciler(nil)
	if err != nil {
		t.Fatalf("NewReconciler() error = %v", err)
	}
	return r
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected int
		want     []string
	}{
		{
			name:     "exact double-break split",
			raw:      "你好，世界。\n\n再见了。",
			expected: 2,
			want:     []string{"你好，世界。", "再见了。"},
		},
		{
			name:     "single line breaks",
			raw:      "one\ntwo\nthree",
			expected: 3,
			want:     []string{"one", "two", "three"},
		},
		{
			name:     "shortfall keeps what arrived",
			raw:      "A\n\nB",
			expected: 3,
			want:     []string{"A", "B"},
		},
		{
			name:     "excess merged proportionally",
			raw:      "a\n\nb\n\nc\n\nd",
			expected: 2,
			want:     []string{"a\nb", "c\nd"},
		},
		{
			name:     "preamble and fences stripped",
			raw:      "Here is the translation:\n```\nBonjour.\n\nAu revoir.\n```",
			expected: 2,
			want:     []string{"Bonjour.", "Au revoir."},
		},
		{
			name:     "chinese preamble stripped",
			raw:      "以下是翻译：\n你好\n\n再见",
			expected: 2,
			want:     []string{"你好", "再见"},
		},
		{
			name:     "segment markers stripped",
			raw:      "[1] Hallo\n\n[2] Welt",
			expected: 2,
			want:     []string{"Hallo", "Welt"},
		},
		{
			name:     "crlf normalized",
			raw:      "uno\r\n\r\ndos",
			expected: 2,
			want:     []string{"uno", "dos"},
		},
		{
			name:     "zero expected",
			raw:      "anything",
			expected: 0,
			want:     nil,
		},
	}

	r := newTestReconciler(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Reconcile(tt.raw, tt.expected)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Errorf("Reconcile() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCleanFallsBackWhenEverythingIsStripped(t *testing.T) {
	r := newTestReconciler(t)
	if got := r.Clean("  ---  "); got != "---" {
		t.Errorf("Clean() = %q, want the trimmed raw text", got)
	}
}

func TestCleanKeepsOrdinaryNotes(t *testing.T) {
	r := newTestReconciler(t)
	raw := "第一段。\n\n注：这是原书的注释。"
	if got := r.Clean(raw); got != raw {
		t.Errorf("Clean() = %q, want untouched %q", got, raw)
	}
}

func TestLoadStripRules(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		file string
		body string
	}{
		{"rules.yaml", "- name: shout\n  pattern: '(?i)^translated:\\s*'\n"},
		{"rules.json", `[{"name":"shout","pattern":"(?i)^translated:\\s*"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			if err := os.WriteFile(path, []byte(tt.body), 0644); err != nil {
				t.Fatal(err)
			}
			rules, err := LoadStripRules(path)
			if err != nil {
				t.Fatalf("LoadStripRules() error = %v", err)
			}
			r, err := NewReconciler(rules)
			if err != nil {
				t.Fatalf("NewReconciler() error = %v", err)
			}
			if got := r.Clean("TRANSLATED: Hola"); got != "Hola" {
				t.Errorf("Clean() = %q, want %q", got, "Hola")
			}
		})
	}
}

func TestNewReconcilerRejectsBadPattern(t *testing.T) {
	if _, err := NewReconciler([]StripRule{{Name: "broken", Pattern: "("}}); err == nil {
		t.Error("NewReconciler() accepted an invalid pattern")
	}
}
