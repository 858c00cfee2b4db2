package markup

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Apply writes translated fragments back into the document and returns the
// number of anchors that were rewritten. Each anchor is written once; anchors
// without any translated fragment are left as they are.
func Apply(doc *Document, frags []*Fragment) int {
	var order []*html.Node
	groups := make(map[*html.Node][]*Fragment)
	for _, f := range frags {
		if _, ok := groups[f.Anchor]; !ok {
			order = append(order, f.Anchor)
		}
		groups[f.Anchor] = append(groups[f.Anchor], f)
	}

	written := 0
	for _, anchor := range order {
		group := groups[anchor]
		if !anyTranslated(group) {
			continue
		}

		first := group[0]
		switch {
		case first.Inline:
			anchor.Data = first.leading + first.Translated + first.trailing
		case first.Split:
			sel := doc.Selection().FindNodes(anchor)
			sel.Empty()
			sel.AppendNodes(splitNodes(group)...)
		default:
			doc.Selection().FindNodes(anchor).SetText(first.Translated)
		}
		written++
	}
	return written
}

func anyTranslated(group []*Fragment) bool {
	for _, f := range group {
		if f.IsTranslated() {
			return true
		}
	}
	return false
}

func splitNodes(group []*Fragment) []*html.Node {
	var nodes []*html.Node
	for _, f := range group {
		nodes = appendBreaks(nodes, f.BreaksBefore)
		nodes = append(nodes, &html.Node{Type: html.TextNode, Data: f.Text()})
	}
	return appendBreaks(nodes, group[len(group)-1].BreaksAfter)
}

func appendBreaks(nodes []*html.Node, n int) []*html.Node {
	for i := 0; i < n; i++ {
		nodes = append(nodes, &html.Node{Type: html.ElementNode, Data: "br", DataAtom: atom.Br})
	}
	return nodes
}
