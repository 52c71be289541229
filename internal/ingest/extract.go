package ingest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/sandevgo/tuskmem/pkg/conv"
)

// ExtractFile returns the text of a local source, chosen by extension.
// Files without a markup extension must be UTF-8 text.
func ExtractFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm", ".xhtml":
		return conv.HTMLToText(bytes.NewReader(data))
	case ".md", ".markdown", ".mdx":
		return conv.MarkdownToText(data)
	default:
		if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
			return "", fmt.Errorf("%w: %s is not UTF-8 text", errUnsupported, filepath.Base(path))
		}
		return string(data), nil
	}
}
