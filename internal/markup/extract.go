package markup

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// Skip reasons recorded on fragments that are never sent for translation.
const (
	SkipNoLetters    = "no translatable letters"
	SkipPreformatted = "preformatted text"
	SkipInsufficient = "insufficient segments returned"
	SkipUnchanged    = "returned untranslated"
	SkipFailed       = "translation failed"
	SkipCancelled    = "cancelled"
	SkipHalted       = "halted after authentication failure"
)

// BlockTags are the structural containers whose full text becomes one fragment.
var BlockTags = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "td": true, "th": true, "blockquote": true, "dd": true, "dt": true,
	"caption": true, "figcaption": true, "div": true, "section": true, "article": true,
	"aside": true, "header": true, "footer": true, "pre": true, "address": true,
	"summary": true, "legend": true,
}

var skippedContainers = map[string]bool{"script": true, "style": true, "template": true}

var verbatimContainers = map[string]bool{"pre": true, "code": true, "kbd": true, "samp": true}

// Fragment is one translatable unit of a document.
type Fragment struct {
	ID int
	// Anchor is the block element whose content is replaced, or the text node
	// itself when Inline is set.
	Anchor *html.Node
	Inline bool

	Original   string
	Translated string
	SkipReason string

	// Split fragments share a block anchor with siblings separated by <br>.
	Split        bool
	BreaksBefore int
	BreaksAfter  int

	leading, trailing string
}

// Translatable reports whether the fragment is eligible for dispatch.
// Fragments classified at extraction time are carried through untouched.
func (f *Fragment) Translatable() bool {
	return f.SkipReason != SkipNoLetters && f.SkipReason != SkipPreformatted
}

// IsTranslated reports whether a usable translation has been recorded. A
// translation equal to the original, ignoring whitespace, does not count.
func (f *Fragment) IsTranslated() bool {
	if strings.TrimSpace(f.Translated) == "" {
		return false
	}
	return Normalize(f.Translated) != Normalize(f.Original)
}

// Len is the fragment length in characters.
func (f *Fragment) Len() int { return utf8.RuneCountInString(f.Original) }

// Text returns the translation when present and the original otherwise.
func (f *Fragment) Text() string {
	if f.IsTranslated() {
		return f.Translated
	}
	return f.Original
}

// Normalize collapses all whitespace runs to single spaces and trims the ends.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Extract walks the document in order and returns its fragments. Every
// fragment has non-empty normalized text; a block anchor never yields more
// than one fragment unless it is split on line breaks.
func Extract(doc *Document) []*Fragment {
	var frags []*Fragment
	seen := make(map[*html.Node]bool)

	doc.ForEachTextNode(func(n *html.Node) {
		if strings.TrimSpace(n.Data) == "" || hasAncestor(n, skippedContainers) {
			return
		}

		block := NearestAncestor(n, BlockTags)
		if block != nil && hasBlockDescendant(block) {
			block = nil
		}

		if block == nil {
			f := &Fragment{
				ID:       len(frags),
				Anchor:   n,
				Inline:   true,
				Original: Normalize(n.Data),
				leading:  leadingSpace(n.Data),
				trailing: trailingSpace(n.Data),
			}
			classify(f, n)
			frags = append(frags, f)
			return
		}

		if seen[block] {
			return
		}
		seen[block] = true

		if !containsBreak(block) {
			text := Normalize(textContent(block))
			if text == "" {
				return
			}
			f := &Fragment{ID: len(frags), Anchor: block, Original: text}
			classify(f, block)
			frags = append(frags, f)
			return
		}

		for _, f := range splitOnBreaks(block) {
			f.ID = len(frags)
			classify(f, block)
			frags = append(frags, f)
		}
	})

	return frags
}

func classify(f *Fragment, n *html.Node) {
	switch {
	case (n.Type == html.ElementNode && verbatimContainers[n.Data]) || hasAncestor(n, verbatimContainers):
		f.SkipReason = SkipPreformatted
	case !hasLetter(f.Original):
		f.SkipReason = SkipNoLetters
	}
}

func splitOnBreaks(block *html.Node) []*Fragment {
	var (
		parts  []*Fragment
		sb     strings.Builder
		breaks int
	)
	flush := func() {
		text := Normalize(sb.String())
		sb.Reset()
		if text == "" {
			return
		}
		parts = append(parts, &Fragment{Anchor: block, Original: text, Split: true, BreaksBefore: breaks})
		breaks = 0
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch {
			case c.Type == html.TextNode:
				sb.WriteString(c.Data)
			case c.Type == html.ElementNode && c.Data == "br":
				flush()
				breaks++
			case c.Type == html.ElementNode && skippedContainers[c.Data]:
			default:
				walk(c)
			}
		}
	}
	walk(block)
	flush()

	if len(parts) > 0 {
		parts[len(parts)-1].BreaksAfter = breaks
	}
	return parts
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch {
			case c.Type == html.TextNode:
				sb.WriteString(c.Data)
			case c.Type == html.ElementNode && skippedContainers[c.Data]:
			default:
				walk(c)
			}
		}
	}
	walk(n)
	return sb.String()
}

func hasAncestor(n *html.Node, tags map[string]bool) bool {
	return NearestAncestor(n, tags) != nil
}

func hasBlockDescendant(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (BlockTags[c.Data] || hasBlockDescendant(c)) {
			return true
		}
	}
	return false
}

func containsBreak(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || skippedContainers[c.Data] {
			continue
		}
		if c.Data == "br" || containsBreak(c) {
			return true
		}
	}
	return false
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func leadingSpace(s string) string {
	return s[:len(s)-len(strings.TrimLeftFunc(s, unicode.IsSpace))]
}

func trailingSpace(s string) string {
	return s[len(strings.TrimRightFunc(s, unicode.IsSpace)):]
}
