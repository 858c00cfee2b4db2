package markup

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
)

var rawTextElements = map[string]bool{"script": true, "style": true}

// renderXML writes n and its subtree as well-formed XML.
func renderXML(w *bytes.Buffer, n *html.Node) error {
	switch n.Type {
	case html.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := renderXML(w, c); err != nil {
				return err
			}
		}
	case html.TextNode:
		if n.Parent != nil && rawTextElements[n.Parent.Data] {
			w.WriteString(n.Data)
		} else {
			textEscaper.WriteString(w, n.Data)
		}
	case html.CommentNode:
		w.WriteString("<!--")
		w.WriteString(n.Data)
		w.WriteString("-->")
	case html.DoctypeNode:
	case html.ElementNode:
		w.WriteByte('<')
		w.WriteString(n.Data)
		for _, a := range n.Attr {
			w.WriteByte(' ')
			if a.Namespace != "" {
				w.WriteString(a.Namespace)
				w.WriteByte(':')
			}
			w.WriteString(a.Key)
			w.WriteString(`="`)
			attrEscaper.WriteString(w, a.Val)
			w.WriteByte('"')
		}
		if n.FirstChild == nil && (voidElements[n.Data] || n.Namespace != "") {
			w.WriteString("/>")
			return nil
		}
		w.WriteByte('>')
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := renderXML(w, c); err != nil {
				return err
			}
		}
		w.WriteString("</")
		w.WriteString(n.Data)
		w.WriteByte('>')
	default:
		return fmt.Errorf("unexpected node type %d", n.Type)
	}
	return nil
}
