package email

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Attachment is a single file entry of a message. The content travels
// base64-encoded on the wire.
type Attachment struct {
	Name            string `json:"name"`
	ContentType     string `json:"contentType"`
	ContentInBase64 string `json:"contentInBase64"`
}

// NewAttachment builds an attachment from raw content. The content type
// falls back to sniffing when empty.
func NewAttachment(name, contentType string, content []byte) (Attachment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Attachment{}, errors.New("attachment name is required")
	}
	if len(content) == 0 {
		return Attachment{}, errors.New("attachment content is required")
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		contentType = mimetype.Detect(content).String()
	}
	return Attachment{
		Name:            name,
		ContentType:     contentType,
		ContentInBase64: base64.StdEncoding.EncodeToString(content),
	}, nil
}

// NewAttachmentFromFile reads a file and builds an attachment from it. The
// attachment name is the file's base name and the content type is sniffed
// from the file contents. A missing or unreadable file is a construction
// error; it never reaches the dispatcher.
func NewAttachmentFromFile(path string) (Attachment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("read attachment file: %w", err)
	}
	return NewAttachment(filepath.Base(path), "", content)
}

func (a Attachment) validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return errors.New("attachment name is required")
	}
	if a.ContentInBase64 == "" {
		return errors.New("attachment content is required")
	}
	if _, err := base64.StdEncoding.DecodeString(a.ContentInBase64); err != nil {
		return fmt.Errorf("attachment %s content is not valid base64: %w", a.Name, err)
	}
	return nil
}
