// Package conv turns markup into plain text for chunking.
package conv

import (
	"fmt"
	"io"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/inbucket/html2text"
	"github.com/microcosm-cc/bluemonday"
)

var (
	extensions = parser.CommonExtensions | parser.NoEmptyLineBeforeBlock
	htmlFlags  = html.CommonFlags
	// Script and style bodies are dropped, structure (headings, lists,
	// tables) is kept for html2text.
	textPolicy = bluemonday.UGCPolicy()
)

var textOptions = html2text.Options{
	OmitLinks:    true,
	PrettyTables: true,
}

// MarkdownToHTML renders md and sanitises the result.
func MarkdownToHTML(md []byte) string {
	p := parser.NewWithExtensions(extensions)
	renderer := html.NewRenderer(html.RendererOptions{Flags: htmlFlags})
	unsafeHTML := markdown.Render(p.Parse(md), renderer)

	return string(textPolicy.SanitizeBytes(unsafeHTML))
}

func MarkdownToText(md []byte) (string, error) {
	return htmlToText(MarkdownToHTML(md))
}

// HTMLToText sanitises an HTML document and flattens it to text.
func HTMLToText(r io.Reader) (string, error) {
	sanitized := textPolicy.SanitizeReader(r)
	return htmlToText(sanitized.String())
}

func htmlToText(s string) (string, error) {
	text, err := html2text.FromString(s, textOptions)
	if err != nil {
		return "", fmt.Errorf("html to text: %w", err)
	}
	return strings.TrimSpace(text), nil
}
