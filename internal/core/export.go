package core

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/gloser-ai/console/internal/store"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Export serializes one conversation to a downloadable JSON document. The
// filename comes from the sanitized title, falling back to the id when the
// title sanitizes away entirely.
func (c *Controller) Export(id string) (filename string, data []byte, err error) {
	conv, err := c.Get(id)
	if err != nil {
		return "", nil, err
	}

	data, err = json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("failed to serialize conversation %s: %w", id, err)
	}
	return ExportFilename(*conv), data, nil
}

// ExportFilename sanitizes the conversation title into a filesystem-safe
// name: non-alphanumeric runs become single underscores.
func ExportFilename(conv store.Conversation) string {
	name := unsafeFilenameChars.ReplaceAllString(conv.Title, "_")
	name = strings.Trim(name, "_")
	if name == "" {
		name = conv.ID
	}
	return name + ".json"
}
