package epub

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	languagePattern = regexp.MustCompile(`(<dc:language\b[^>]*>)[^<]*(</dc:language>)`)
	metadataClose   = regexp.MustCompile(`</(?:opf:)?metadata>`)
)

type Builder struct {
	logger *logrus.Logger
}

func NewBuilder(logger *logrus.Logger) *Builder {
	return &Builder{
		logger: logger,
	}
}

// SetLanguage rewrites every dc:language element of the package document,
// adding one if none exists.
func (b *Book) SetLanguage(lang string) error {
	data, ok := b.Read(b.PackagePath)
	if !ok {
		return fmt.Errorf("package file %s not found", b.PackagePath)
	}

	var updated []byte
	if languagePattern.Match(data) {
		updated = languagePattern.ReplaceAll(data, []byte("${1}"+escapeXML(lang)+"${2}"))
	} else {
		loc := metadataClose.FindIndex(data)
		if loc == nil {
			return fmt.Errorf("no metadata element in %s", b.PackagePath)
		}
		var buf bytes.Buffer
		buf.Write(data[:loc[0]])
		fmt.Fprintf(&buf, "<dc:language>%s</dc:language>\n", escapeXML(lang))
		buf.Write(data[loc[0]:])
		updated = buf.Bytes()
	}

	b.Set(b.PackagePath, updated)
	b.Package.Metadata.Language = lang
	return nil
}

// Modified lists the members replaced since the book was opened.
func (b *Book) Modified() []string {
	var names []string
	for _, e := range b.entries {
		if e.changed {
			names = append(names, e.Name)
		}
	}
	return names
}

// Write serializes the book as a ZIP archive with the mimetype entry first
// and stored uncompressed.
func (bl *Builder) Write(book *Book, w io.Writer) error {
	zipWriter := zip.NewWriter(w)

	if err := bl.writeMimetypeFile(zipWriter); err != nil {
		return fmt.Errorf("failed to write mimetype: %w", err)
	}

	for _, entry := range book.entries {
		if entry.Name == "mimetype" {
			continue
		}
		if err := bl.addEntry(zipWriter, entry); err != nil {
			return fmt.Errorf("failed to write %s: %w", entry.Name, err)
		}
	}

	if err := zipWriter.Close(); err != nil {
		return fmt.Errorf("failed to finish ZIP: %w", err)
	}
	bl.logger.Debugf("Wrote EPUB with %d entries (%d modified)", len(book.entries), len(book.Modified()))
	return nil
}

// Bytes serializes the book into memory.
func (bl *Builder) Bytes(book *Book) ([]byte, error) {
	var buf bytes.Buffer
	if err := bl.Write(book, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile serializes the book to outputPath.
func (bl *Builder) WriteFile(book *Book, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := bl.Write(book, file); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}
	bl.logger.Infof("Created translated EPUB: %s", outputPath)
	return nil
}

func (bl *Builder) writeMimetypeFile(zipWriter *zip.Writer) error {
	writer, err := zipWriter.CreateHeader(&zip.FileHeader{
		Name:   "mimetype",
		Method: zip.Store,
	})
	if err != nil {
		return err
	}

	_, err = writer.Write([]byte(MimeType))
	return err
}

func (bl *Builder) addEntry(zipWriter *zip.Writer, entry *Entry) error {
	method := entry.Method
	if method != zip.Store {
		method = zip.Deflate
	}
	modified := entry.Modified
	if modified.IsZero() || entry.changed {
		modified = time.Now()
	}

	writer, err := zipWriter.CreateHeader(&zip.FileHeader{
		Name:     entry.Name,
		Method:   method,
		Modified: modified,
	})
	if err != nil {
		return err
	}

	_, err = writer.Write(entry.Data)
	return err
}

func escapeXML(s string) string {
	var buf bytes.Buffer
	for _, r := range s {
		switch r {
		case '&':
			buf.WriteString("&amp;")
		case '<':
			buf.WriteString("&lt;")
		case '>':
			buf.WriteString("&gt;")
		case '"':
			buf.WriteString("&quot;")
		case '\'':
			buf.WriteString("&apos;")
		default:
			buf.WriteRune(r)
		}
	}
	return buf.String()
}
