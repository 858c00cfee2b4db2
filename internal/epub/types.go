package epub

import (
	"encoding/xml"
	"time"
)

// MimeType is the required content of the uncompressed mimetype entry.
const MimeType = "application/epub+zip"

// Book is an EPUB held in memory as an ordered set of named blobs plus its
// parsed package document.
type Book struct {
	Container   Container
	Package     Package
	PackagePath string

	entries []*Entry
	index   map[string]*Entry
}

// Entry is one archive member.
type Entry struct {
	Name     string
	Data     []byte
	Method   uint16
	Modified time.Time
	changed  bool
}

// Chapter describes a spine content document.
type Chapter struct {
	Path      string `json:"path"`
	Title     string `json:"title"`
	Order     int    `json:"order"`
	WordCount int    `json:"word_count"`
}

type Container struct {
	XMLName   xml.Name `xml:"container"`
	Version   string   `xml:"version,attr"`
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

type Package struct {
	XMLName  xml.Name `xml:"package"`
	Version  string   `xml:"version,attr"`
	UniqueID string   `xml:"unique-identifier,attr"`
	Metadata Metadata `xml:"metadata"`
	Manifest Manifest `xml:"manifest"`
	Spine    Spine    `xml:"spine"`
}

type Metadata struct {
	Title      string `xml:"title"`
	Language   string `xml:"language"`
	Identifier string `xml:"identifier"`
	Creator    string `xml:"creator"`
}

type Manifest struct {
	Items []Item `xml:"item"`
}

type Item struct {
	ID        string `xml:"id,attr"`
	Href      string `xml:"href,attr"`
	MediaType string `xml:"media-type,attr"`
}

type Spine struct {
	TOC      string    `xml:"toc,attr"`
	ItemRefs []ItemRef `xml:"itemref"`
}

type ItemRef struct {
	IDRef  string `xml:"idref,attr"`
	Linear string `xml:"linear,attr"`
}
