package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

type Parser struct {
	logger *logrus.Logger
}

func NewParser(logger *logrus.Logger) *Parser {
	return &Parser{logger: logger}
}

// OpenFile reads an EPUB archive from disk.
func (p *Parser) OpenFile(epubPath string) (*Book, error) {
	data, err := os.ReadFile(epubPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read EPUB: %w", err)
	}
	return p.Open(data)
}

// Open loads every archive member into memory and parses the package document.
func (p *Parser) Open(data []byte) (*Book, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open ZIP: %w", err)
	}

	book := &Book{index: make(map[string]*Entry)}
	for _, file := range reader.File {
		if file.FileInfo().IsDir() {
			continue
		}
		content, err := readFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file.Name, err)
		}
		entry := &Entry{Name: file.Name, Data: content, Method: file.Method, Modified: file.Modified}
		book.entries = append(book.entries, entry)
		book.index[file.Name] = entry
	}

	if err := p.parseContainer(book); err != nil {
		return nil, fmt.Errorf("failed to parse container: %w", err)
	}
	if err := p.parsePackage(book); err != nil {
		return nil, fmt.Errorf("failed to parse package: %w", err)
	}

	p.logger.Debugf("Opened EPUB with %d entries, package %s", len(book.entries), book.PackagePath)
	return book, nil
}

func readFile(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (p *Parser) parseContainer(book *Book) error {
	data, ok := book.Read("META-INF/container.xml")
	if !ok {
		return fmt.Errorf("META-INF/container.xml not found")
	}
	if err := xml.Unmarshal(data, &book.Container); err != nil {
		return fmt.Errorf("failed to parse container.xml: %w", err)
	}
	if len(book.Container.Rootfiles) == 0 {
		return fmt.Errorf("no rootfiles found in container.xml")
	}
	book.PackagePath = book.Container.Rootfiles[0].FullPath
	return nil
}

func (p *Parser) parsePackage(book *Book) error {
	data, ok := book.Read(book.PackagePath)
	if !ok {
		return fmt.Errorf("package file %s not found", book.PackagePath)
	}
	if err := xml.Unmarshal(data, &book.Package); err != nil {
		return fmt.Errorf("failed to parse package file: %w", err)
	}
	return nil
}

// Validate checks that the book has something to translate.
func (p *Parser) Validate(book *Book) error {
	if book == nil {
		return fmt.Errorf("book is nil")
	}
	if len(book.Package.Manifest.Items) == 0 {
		return fmt.Errorf("no manifest items found")
	}
	if len(book.Package.Spine.ItemRefs) == 0 {
		return fmt.Errorf("no spine items found")
	}
	if len(book.Documents()) == 0 {
		return fmt.Errorf("no content documents found")
	}
	return nil
}

// Read returns the content of an archive member.
func (b *Book) Read(name string) ([]byte, bool) {
	entry, ok := b.index[name]
	if !ok {
		return nil, false
	}
	return entry.Data, true
}

// Set replaces or adds an archive member.
func (b *Book) Set(name string, data []byte) {
	if entry, ok := b.index[name]; ok {
		entry.Data = data
		entry.changed = true
		return
	}
	entry := &Entry{Name: name, Data: data, Method: zip.Deflate, changed: true}
	b.entries = append(b.entries, entry)
	b.index[name] = entry
}

// Names lists archive members in their original order.
func (b *Book) Names() []string {
	names := make([]string, len(b.entries))
	for i, e := range b.entries {
		names[i] = e.Name
	}
	return names
}

// Documents returns the archive paths of (X)HTML content documents: spine
// order first, then any remaining manifest documents.
func (b *Book) Documents() []string {
	items := make(map[string]Item, len(b.Package.Manifest.Items))
	for _, item := range b.Package.Manifest.Items {
		items[item.ID] = item
	}

	var docs []string
	seen := make(map[string]bool)
	add := func(item Item) {
		if !isTextContent(item.MediaType) {
			return
		}
		name := b.resolve(item.Href)
		if seen[name] {
			return
		}
		if _, ok := b.index[name]; !ok {
			return
		}
		seen[name] = true
		docs = append(docs, name)
	}

	for _, ref := range b.Package.Spine.ItemRefs {
		if item, ok := items[ref.IDRef]; ok {
			add(item)
		}
	}
	for _, item := range b.Package.Manifest.Items {
		add(item)
	}
	return docs
}

// Chapters summarizes the spine documents with a title and word count.
func (b *Book) Chapters() []Chapter {
	var chapters []Chapter
	for i, name := range b.Documents() {
		data, _ := b.Read(name)
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
		if err != nil {
			continue
		}
		title := strings.TrimSpace(doc.Find("h1, h2, h3, title").First().Text())
		if title == "" {
			title = path.Base(name)
		}
		chapters = append(chapters, Chapter{
			Path:      name,
			Title:     title,
			Order:     i,
			WordCount: len(strings.Fields(doc.Find("body").Text())),
		})
	}
	return chapters
}

func (b *Book) resolve(href string) string {
	if unescaped, err := url.PathUnescape(href); err == nil {
		href = unescaped
	}
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href = href[:i]
	}
	return path.Clean(path.Join(path.Dir(b.PackagePath), href))
}

func isTextContent(mediaType string) bool {
	return strings.Contains(mediaType, "html")
}
