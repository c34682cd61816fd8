package domain

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

// Attachment a file selected for submission. Immutable once submitted.
type Attachment struct {
	Name     string
	MimeType string
	Content  []byte
}

// NewAttachment sniffs the MIME type when none is given.
func NewAttachment(name, mimeType string, content []byte) Attachment {
	if mimeType == "" {
		mimeType = mimetype.Detect(content).String()
	}
	return Attachment{Name: name, MimeType: mimeType, Content: content}
}

// LoadAttachment reads a file from disk.
func LoadAttachment(path string) (Attachment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("failed to read attachment: %w", err)
	}
	return NewAttachment(filepath.Base(path), "", content), nil
}

func (a Attachment) Size() int { return len(a.Content) }
