package chat

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/openllama/openllama/internal/llm"
)

// maxAttachmentSize bounds files read from disk.
const maxAttachmentSize = 10 << 20

// AttachmentFromFile reads a file for staging. Images become data URLs;
// anything else must be UTF-8 text and is attached verbatim.
func AttachmentFromFile(path string) (llm.Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return llm.Attachment{}, err
	}
	if info.IsDir() {
		return llm.Attachment{}, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > maxAttachmentSize {
		return llm.Attachment{}, fmt.Errorf("%s is too large (%d bytes, limit %d)", path, info.Size(), maxAttachmentSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return llm.Attachment{}, err
	}

	name := filepath.Base(path)
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	att := llm.Attachment{ID: NewMessageID(), Name: name, MimeType: mimeType}
	if strings.HasPrefix(mimeType, "image/") {
		att.Kind = llm.AttachmentImage
		att.Data = "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
		att.Preview = att.Data
		return att, nil
	}
	if !utf8.Valid(data) {
		return llm.Attachment{}, fmt.Errorf("%s is not a text or image file", name)
	}
	att.Kind = llm.AttachmentFile
	att.Data = string(data)
	return att, nil
}

// ExpandPaths expands glob patterns ("notes/*.md", "src/**/*.go") into
// file paths. Plain paths pass through untouched so a missing file still
// reports its own error. A pattern matching nothing is an error.
func ExpandPaths(patterns []string) ([]string, error) {
	var out []string
	for _, p := range patterns {
		if !strings.ContainsAny(p, "*?[{") {
			out = append(out, p)
			continue
		}
		matches, err := doublestar.FilepathGlob(p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", p, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %q", p)
		}
		out = append(out, matches...)
	}
	return out, nil
}
