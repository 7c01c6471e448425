// Package epub reads and rewrites EPUB containers while preserving their
// structure: every entry that is not a rewritten content document is carried
// through byte-for-byte.
package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/lamim/prosepress/pkg/models"
)

const containerPath = "META-INF/container.xml"

// Document is an EPUB loaded fully into memory. Entries keep their original
// archive order; spine-ordered content documents are exposed as text units.
type Document struct {
	entries []entry
	opfPath string
	opfIdx  int
	title   string
	units   []textUnit
	logger  *slog.Logger
}

type entry struct {
	name string
	data []byte
}

// textUnit is one spine document: its archive entry plus the prose
// extracted from it.
type textUnit struct {
	entryIdx int
	id       string
	href     string
	title    string
	text     string
}

type containerFile struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type packageFile struct {
	Metadata struct {
		Title string `xml:"title"`
	} `xml:"metadata"`
	Manifest struct {
		Items []manifestItem `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		ItemRefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

type manifestItem struct {
	ID        string `xml:"id,attr"`
	Href      string `xml:"href,attr"`
	MediaType string `xml:"media-type,attr"`
}

// Open reads an EPUB from disk and extracts its spine text units.
func Open(epubPath string, logger *slog.Logger) (*Document, error) {
	zr, err := zip.OpenReader(epubPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open epub: %w", err)
	}
	defer func() {
		if err := zr.Close(); err != nil {
			logger.Warn("Failed to close epub reader", "error", err)
		}
	}()
	return load(&zr.Reader, logger)
}

// OpenReader reads an EPUB from an in-memory byte slice.
func OpenReader(data []byte, logger *slog.Logger) (*Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to read epub: %w", err)
	}
	return load(zr, logger)
}

func load(zr *zip.Reader, logger *slog.Logger) (*Document, error) {
	doc := &Document{opfIdx: -1, logger: logger}

	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open entry %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		closeErr := rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read entry %s: %w", f.Name, err)
		}
		if closeErr != nil {
			return nil, fmt.Errorf("failed to close entry %s: %w", f.Name, closeErr)
		}
		doc.entries = append(doc.entries, entry{name: f.Name, data: data})
	}

	if err := doc.parsePackage(); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *Document) parsePackage() error {
	containerIdx := d.indexOf(containerPath)
	if containerIdx < 0 {
		return fmt.Errorf("not a valid epub: missing %s", containerPath)
	}

	var container containerFile
	if err := xml.Unmarshal(d.entries[containerIdx].data, &container); err != nil {
		return fmt.Errorf("failed to parse container.xml: %w", err)
	}
	if len(container.Rootfiles) == 0 || container.Rootfiles[0].FullPath == "" {
		return fmt.Errorf("container.xml declares no rootfile")
	}

	d.opfPath = container.Rootfiles[0].FullPath
	d.opfIdx = d.indexOf(d.opfPath)
	if d.opfIdx < 0 {
		return fmt.Errorf("package document %s not found in archive", d.opfPath)
	}

	var pkg packageFile
	if err := xml.Unmarshal(d.entries[d.opfIdx].data, &pkg); err != nil {
		return fmt.Errorf("failed to parse package document: %w", err)
	}
	d.title = strings.TrimSpace(pkg.Metadata.Title)

	manifest := make(map[string]manifestItem, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		manifest[item.ID] = item
	}

	opfDir := path.Dir(d.opfPath)
	for i, ref := range pkg.Spine.ItemRefs {
		item, ok := manifest[ref.IDRef]
		if !ok {
			d.logger.Warn("Spine references unknown manifest item", "idref", ref.IDRef)
			continue
		}
		if !isContentDocument(item.MediaType) {
			continue
		}

		href := resolveHref(opfDir, item.Href)
		entryIdx := d.indexOf(href)
		if entryIdx < 0 {
			d.logger.Warn("Manifest item missing from archive", "href", href)
			continue
		}

		title, text := extractText(d.entries[entryIdx].data)
		if title == "" {
			title = fmt.Sprintf("Chapter %d", i+1)
		}
		d.units = append(d.units, textUnit{
			entryIdx: entryIdx,
			id:       item.ID,
			href:     href,
			title:    title,
			text:     text,
		})
	}

	if len(d.units) == 0 {
		return fmt.Errorf("no content documents found in spine")
	}
	return nil
}

func (d *Document) indexOf(name string) int {
	for i, e := range d.entries {
		if e.name == name {
			return i
		}
	}
	return -1
}

func isContentDocument(mediaType string) bool {
	switch mediaType {
	case "application/xhtml+xml", "text/html":
		return true
	}
	return false
}

// resolveHref joins a manifest href onto the package document's directory.
func resolveHref(opfDir, href string) string {
	if opfDir == "." || opfDir == "" {
		return path.Clean(href)
	}
	return path.Clean(path.Join(opfDir, href))
}

// Title returns the package title, or empty if none is declared.
func (d *Document) Title() string {
	return d.title
}

// Chapters returns the spine text units in reading order. Unit IDs are the
// manifest item IDs and are stable across Open calls on the same file.
func (d *Document) Chapters() []models.Chapter {
	chapters := make([]models.Chapter, len(d.units))
	for i, u := range d.units {
		chapters[i] = models.Chapter{
			ID:      u.id,
			Title:   u.title,
			Content: u.text,
		}
	}
	return chapters
}
