package translation

import (
	"strings"

	"epubllm/internal/markup"
)

// Separator joins fragment texts inside one batch request.
const Separator = "\n\n"

// Window bounds the size of a batch, measured in characters.
type Window struct {
	MinChars     int
	MaxChars     int
	MaxFragments int
}

// DefaultWindow returns the batching bounds used when none are configured.
func DefaultWindow() Window {
	return Window{MinChars: 1000, MaxChars: 3000, MaxFragments: 25}
}

func (w Window) normalized() Window {
	def := DefaultWindow()
	if w.MaxChars <= 0 {
		w.MaxChars = def.MaxChars
	}
	if w.MinChars <= 0 || w.MinChars > w.MaxChars {
		w.MinChars = min(def.MinChars, w.MaxChars)
	}
	if w.MaxFragments <= 0 {
		w.MaxFragments = def.MaxFragments
	}
	return w
}

// Batch is an ordered group of consecutive fragments sent as one request.
type Batch struct {
	Index     int
	Fragments []*markup.Fragment
}

// Text joins the fragment texts with the batch separator.
func (b *Batch) Text() string {
	parts := make([]string, len(b.Fragments))
	for i, f := range b.Fragments {
		parts[i] = f.Original
	}
	return strings.Join(parts, Separator)
}

// Expected is the number of segments the response must contain.
func (b *Batch) Expected() int { return len(b.Fragments) }

// Chars is the combined fragment length without separators.
func (b *Batch) Chars() int {
	n := 0
	for _, f := range b.Fragments {
		n += f.Len()
	}
	return n
}

// Assign hands reconciled segments to fragments positionally. Fragments with
// no matching segment, or whose segment echoes the original, are flagged as
// unresolved.
func (b *Batch) Assign(segments []string) {
	for i, f := range b.Fragments {
		if i < len(segments) {
			f.Translated = segments[i]
			f.SkipReason = ""
			if !f.IsTranslated() {
				f.SkipReason = markup.SkipUnchanged
			}
			continue
		}
		f.SkipReason = markup.SkipInsufficient
	}
}

// MarkSkipped records reason on every fragment that has no translation yet.
func (b *Batch) MarkSkipped(reason string) {
	for _, f := range b.Fragments {
		if !f.IsTranslated() {
			f.SkipReason = reason
		}
	}
}

// Group partitions fragments into batches in document order. A batch closes
// once it reaches the soft minimum; it never exceeds the hard maximum or the
// fragment cap, except for a single fragment that is oversized on its own.
func Group(frags []*markup.Fragment, w Window) []*Batch {
	w = w.normalized()

	var (
		batches []*Batch
		cur     []*markup.Fragment
		size    int
	)
	flush := func() {
		if len(cur) == 0 {
			return
		}
		batches = append(batches, &Batch{Index: len(batches), Fragments: cur})
		cur, size = nil, 0
	}

	for _, f := range frags {
		n := f.Len()
		added := n
		if len(cur) > 0 {
			added += len(Separator)
		}

		if len(cur) > 0 && (size+added > w.MaxChars || len(cur) >= w.MaxFragments) {
			flush()
			added = n
		}

		cur = append(cur, f)
		size += added

		if size >= w.MinChars || n > w.MaxChars {
			flush()
		}
	}
	flush()

	return batches
}
