package epub

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/lamim/prosepress/pkg/models"
)

var dcTitleRe = regexp.MustCompile(`(<dc:title[^>]*>)(.*?)(</dc:title>)`)

// levelSuffix is appended to the package title so readers can tell the
// rewritten edition apart from the original on a shelf.
func levelSuffix(level models.Level) string {
	switch level {
	case models.LevelLight:
		return " (Simplified: light)"
	case models.LevelModerate:
		return " (Simplified: moderate)"
	default:
		return " (Simplified: aggressive)"
	}
}

// ApplyTitleSuffix rewrites the dc:title element in the package document to
// mark the output edition. The edit is textual and targeted; the rest of the
// package document is untouched. A package with no dc:title is left alone.
func (d *Document) ApplyTitleSuffix(level models.Level) {
	opf := d.entries[d.opfIdx].data
	replaced := false
	updated := dcTitleRe.ReplaceAllFunc(opf, func(m []byte) []byte {
		if replaced {
			return m
		}
		replaced = true
		sub := dcTitleRe.FindSubmatch(m)
		return []byte(string(sub[1]) + string(sub[2]) + levelSuffix(level) + string(sub[3]))
	})
	if !replaced {
		d.logger.Warn("Package document has no dc:title, leaving title unchanged")
		return
	}
	d.entries[d.opfIdx].data = updated
	d.title = d.title + levelSuffix(level)
}

// WriteTo emits the EPUB container. The mimetype entry is written first and
// stored uncompressed as the format requires; all other entries keep their
// original order and payload.
func (d *Document) WriteTo(w io.Writer) error {
	zw := zip.NewWriter(w)

	writeEntry := func(e entry, method uint16) error {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:   e.name,
			Method: method,
		})
		if err != nil {
			return fmt.Errorf("failed to create entry %s: %w", e.name, err)
		}
		if _, err := fw.Write(e.data); err != nil {
			return fmt.Errorf("failed to write entry %s: %w", e.name, err)
		}
		return nil
	}

	if idx := d.indexOf("mimetype"); idx >= 0 {
		if err := writeEntry(d.entries[idx], zip.Store); err != nil {
			return err
		}
	}
	for _, e := range d.entries {
		if e.name == "mimetype" {
			continue
		}
		if err := writeEntry(e, zip.Deflate); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize epub: %w", err)
	}
	return nil
}

// Save writes the EPUB to the given path, creating parent directories.
func (d *Document) Save(outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := d.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
