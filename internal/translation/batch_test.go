package translation

import (
	"fmt"
	"strings"
	"testing"

	"epubllm/internal/markup"
)

func fragmentsOfLen(lengths ...int) []*markup.Fragment {
	frags := make([]*markup.Fragment, len(lengths))
	for i, n := range lengths {
		frags[i] = &markup.Fragment{ID: i, Original: strings.Repeat("a", n)}
	}
	return frags
}

func batchShape(batches []*Batch) [][]int {
	var shape [][]int
	for _, b := range batches {
		var ids []int
		for _, f := range b.Fragments {
			ids = append(ids, f.ID)
		}
		shape = append(shape, ids)
	}
	return shape
}

func TestGroup(t *testing.T) {
	tests := []struct {
		name    string
		lengths []int
		window  Window
		want    [][]int
	}{
		{
			name:    "closes at soft minimum",
			lengths: []int{40, 40, 40, 40},
			window:  Window{MinChars: 80, MaxChars: 200, MaxFragments: 10},
			want:    [][]int{{0, 1}, {2, 3}},
		},
		{
			name:    "never exceeds hard maximum",
			lengths: []int{60, 60, 60},
			window:  Window{MinChars: 150, MaxChars: 130, MaxFragments: 10},
			want:    [][]int{{0, 1}, {2}},
		},
		{
			name:    "oversized fragment stands alone",
			lengths: []int{10, 500, 10},
			window:  Window{MinChars: 100, MaxChars: 200, MaxFragments: 10},
			want:    [][]int{{0}, {1}, {2}},
		},
		{
			name:    "fragment cap",
			lengths: []int{1, 1, 1, 1, 1},
			window:  Window{MinChars: 100, MaxChars: 200, MaxFragments: 2},
			want:    [][]int{{0, 1}, {2, 3}, {4}},
		},
		{
			name:    "empty input",
			lengths: nil,
			window:  DefaultWindow(),
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := batchShape(Group(fragmentsOfLen(tt.lengths...), tt.window))
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("Group() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGroupRespectsHardMaximumIncludingSeparators(t *testing.T) {
	frags := fragmentsOfLen(50, 50, 50, 50, 50, 50, 50)
	w := Window{MinChars: 1000, MaxChars: 160, MaxFragments: 25}

	for _, b := range Group(frags, w) {
		if n := len([]rune(b.Text())); n > w.MaxChars {
			t.Errorf("batch %d has %d chars, max %d", b.Index, n, w.MaxChars)
		}
	}
}

func TestGroupCountsCharactersNotBytes(t *testing.T) {
	frags := []*markup.Fragment{
		{ID: 0, Original: strings.Repeat("字", 30)},
		{ID: 1, Original: strings.Repeat("字", 30)},
	}
	batches := Group(frags, Window{MinChars: 100, MaxChars: 70, MaxFragments: 10})
	if len(batches) != 1 {
		t.Errorf("Group() produced %d batches, want 1", len(batches))
	}
}

func TestBatchAssignMarksShortfall(t *testing.T) {
	b := &Batch{Fragments: fragmentsOfLen(3, 3, 3)}
	b.Assign([]string{"x", "y"})

	if b.Fragments[0].Translated != "x" || b.Fragments[1].Translated != "y" {
		t.Errorf("positional assignment wrong: %q %q", b.Fragments[0].Translated, b.Fragments[1].Translated)
	}
	if b.Fragments[2].IsTranslated() || b.Fragments[2].SkipReason == "" {
		t.Errorf("third fragment = %+v, want untranslated with a skip reason", b.Fragments[2])
	}
}
