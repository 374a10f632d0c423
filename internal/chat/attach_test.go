package chat

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/openllama/openllama/internal/llm"
)

// onePixelPNG is a valid 1x1 PNG.
var onePixelPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAttachmentFromFile(t *testing.T) {
	dir := t.TempDir()

	text, err := AttachmentFromFile(writeFile(t, dir, "notes.txt", []byte("remember the milk")))
	if err != nil {
		t.Fatal(err)
	}
	if text.Kind != llm.AttachmentFile || text.Name != "notes.txt" || text.Data != "remember the milk" || text.ID == "" {
		t.Errorf("text attachment = %+v", text)
	}

	img, err := AttachmentFromFile(writeFile(t, dir, "dot.png", onePixelPNG))
	if err != nil {
		t.Fatal(err)
	}
	if img.Kind != llm.AttachmentImage || !strings.HasPrefix(img.Data, "data:image/png;base64,") || img.Preview != img.Data {
		t.Errorf("image attachment = %+v", img)
	}

	if _, err := AttachmentFromFile(writeFile(t, dir, "blob.bin", []byte{0xff, 0xfe, 0x00, 0x01})); err == nil {
		t.Error("binary file should be rejected")
	}
	if _, err := AttachmentFromFile(dir); err == nil {
		t.Error("directory should be rejected")
	}
	if _, err := AttachmentFromFile(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("missing file should be rejected")
	}
}

func TestExpandPaths(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", []byte("a"))
	writeFile(t, dir, "b.md", []byte("b"))
	writeFile(t, dir, "sub/c.md", []byte("c"))
	writeFile(t, dir, "sub/d.txt", []byte("d"))

	tests := []struct {
		name     string
		patterns []string
		want     []string
		wantErr  bool
	}{
		{"plain path passes through", []string{"missing.txt"}, []string{"missing.txt"}, false},
		{"star", []string{filepath.Join(dir, "*.md")}, []string{"a.md", "b.md"}, false},
		{"double star", []string{filepath.Join(dir, "**", "*.md")}, []string{"a.md", "b.md", "c.md"}, false},
		{"no match", []string{filepath.Join(dir, "*.go")}, nil, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExpandPaths(tc.patterns)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ExpandPaths(%v) succeeded, want error", tc.patterns)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			var names []string
			for _, p := range got {
				names = append(names, filepath.Base(p))
			}
			sort.Strings(names)
			if strings.Join(names, ",") != strings.Join(tc.want, ",") {
				t.Errorf("ExpandPaths(%v) = %v, want %v", tc.patterns, names, tc.want)
			}
		})
	}
}
