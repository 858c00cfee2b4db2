// Package markup wraps an (X)HTML content document as a mutable node tree:
// text-node traversal for extraction, in-place rewriting of anchors, and
// serialization back to the dialect the document arrived in.
package markup

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	// ErrExtraction marks a document that could not be parsed or walked.
	ErrExtraction = errors.New("extraction failed")
	// ErrSerialization marks a document that could not be written back out.
	ErrSerialization = errors.New("serialization failed")
)

// Dialect is the serialization style of a document.
type Dialect int

const (
	// DialectHTML is permissive HTML serialization.
	DialectHTML Dialect = iota
	// DialectXHTML is strict XML-style serialization (self-closing void
	// elements, namespaced attributes kept as prefix:name).
	DialectXHTML
)

func (d Dialect) String() string {
	if d == DialectXHTML {
		return "xhtml"
	}
	return "html"
}

var (
	prologPattern = regexp.MustCompile(`(?is)\A(?:\x{FEFF})?\s*(?:<\?xml[^>]*\?>\s*)?(?:<!DOCTYPE[^>\[]*(?:\[[^\]]*\])?\s*>\s*)?`)
	selfClosing   = regexp.MustCompile(`<([A-Za-z][\w:.-]*)((?:\s[^<>]*?)?)\s*/>`)
	closedVoid    = regexp.MustCompile(`(?i)<(area|base|br|col|embed|hr|img|input|link|meta|param|source|track|wbr)((?:\s[^<>]*?)?)\s*/?>\s*</(area|base|br|col|embed|hr|img|input|link|meta|param|source|track|wbr)\s*>`)
)

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// Document is one parsed content document.
type Document struct {
	Name    string
	Dialect Dialect

	prolog string
	root   *html.Node
	doc    *goquery.Document
}

// Parse builds a Document from markup text. A leading XML declaration and
// doctype are kept aside verbatim and re-attached by Render.
func Parse(name, text string) (*Document, error) {
	loc := prologPattern.FindStringIndex(text)
	prolog, body := "", text
	if loc != nil {
		prolog, body = text[:loc[1]], text[loc[1]:]
	}

	dialect := detectDialect(name, text)
	if dialect == DialectXHTML {
		body = collapseClosedVoid(body)
		body = expandSelfClosing(body)
	}

	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrExtraction, name, err)
	}

	return &Document{
		Name:    name,
		Dialect: dialect,
		prolog:  prolog,
		root:    root,
		doc:     goquery.NewDocumentFromNode(root),
	}, nil
}

func detectDialect(name, text string) Dialect {
	head := text
	if len(head) > 1024 {
		head = head[:1024]
	}
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".xhtml"), strings.HasSuffix(lower, ".xml"):
		return DialectXHTML
	case strings.Contains(head, "<?xml"):
		return DialectXHTML
	case strings.Contains(head, "http://www.w3.org/1999/xhtml"):
		return DialectXHTML
	}
	return DialectHTML
}

// collapseClosedVoid rewrites <br></br> and its kin into <br/>. The HTML
// tokenizer reads a stray </br> as a second <br>.
func collapseClosedVoid(body string) string {
	return closedVoid.ReplaceAllStringFunc(body, func(m string) string {
		sub := closedVoid.FindStringSubmatch(m)
		if !strings.EqualFold(sub[1], sub[3]) {
			return m
		}
		return "<" + sub[1] + sub[2] + "/>"
	})
}

// expandSelfClosing rewrites <tag/> into <tag></tag> for non-void elements so
// the HTML tokenizer does not treat them as unclosed start tags.
func expandSelfClosing(body string) string {
	return selfClosing.ReplaceAllStringFunc(body, func(m string) string {
		sub := selfClosing.FindStringSubmatch(m)
		tag := sub[1]
		if voidElements[strings.ToLower(tag)] {
			return m
		}
		return "<" + tag + sub[2] + "></" + tag + ">"
	})
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Selection returns a goquery selection rooted at the document node.
func (d *Document) Selection() *goquery.Selection { return d.doc.Selection }

// ForEachTextNode calls fn for every text node in document order.
func (d *Document) ForEachTextNode(fn func(n *html.Node)) {
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			fn(n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
}

// NearestAncestor walks upward from n (exclusive) and returns the first
// element whose tag is in tags, or nil.
func NearestAncestor(n *html.Node, tags map[string]bool) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && tags[p.Data] {
			return p
		}
	}
	return nil
}

// SetLanguage stamps lang (and xml:lang for XHTML) on the root element.
func (d *Document) SetLanguage(lang string) {
	root := d.doc.Find("html")
	if root.Length() == 0 {
		return
	}
	root.SetAttr("lang", lang)
	if d.Dialect == DialectXHTML {
		root.SetAttr("xml:lang", lang)
	}
}

// Render serializes the document in its original dialect.
func (d *Document) Render() (string, error) {
	var buf bytes.Buffer
	buf.WriteString(d.prolog)
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.DoctypeNode {
			continue
		}
		var err error
		if d.Dialect == DialectXHTML {
			err = renderXML(&buf, c)
		} else {
			err = html.Render(&buf, c)
		}
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrSerialization, d.Name, err)
		}
	}
	return buf.String(), nil
}
