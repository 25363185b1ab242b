// Package archive builds the small in-memory zip payload the probe uploads.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
)

const (
	// NoteName is the name of the single entry in the probe archive.
	NoteName = "note.txt"
	// NoteText is the fixed content of the probe archive entry.
	NoteText = "This is a test file from the upload probe."
)

var ErrEmptyName = errors.New("archive entry name must not be empty")

// Build returns a zip archive holding exactly one Deflate-compressed entry
// called name whose content is text.
func Build(name string, text string) ([]byte, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:   name,
		Method: zip.Deflate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create archive entry %q: %w", name, err)
	}

	if _, err := io.WriteString(w, text); err != nil {
		return nil, fmt.Errorf("failed to write archive entry %q: %w", name, err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}

	return buf.Bytes(), nil
}

// BuildNote returns the default probe archive.
func BuildNote() ([]byte, error) {
	return Build(NoteName, NoteText)
}

// Entry is one decoded archive member.
type Entry struct {
	Name string
	Text string
}

// Entries decodes an archive and returns every entry in archive order.
// Duplicate names are kept.
func Entries(data []byte) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open archive entry %q: %w", f.Name, err)
		}

		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read archive entry %q: %w", f.Name, err)
		}

		entries = append(entries, Entry{Name: f.Name, Text: string(content)})
	}

	return entries, nil
}
