// Package markup converts article bodies between the local markdown source
// and the HTML stored by the help center.
package markup

import (
	"bytes"
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Converter renders markdown to HTML and back
type Converter struct {
	md goldmark.Markdown
}

// New creates a converter with GitHub flavoured markdown enabled. Raw HTML
// inside markdown is passed through, help center articles rely on it.
func New() *Converter {
	return &Converter{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
	}
}

// ToHTML renders markdown source
func (c *Converter) ToHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := c.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}

// ToMarkdown converts remote HTML into markdown source. Empty input yields
// an empty body.
func (c *Converter) ToMarkdown(htmlBody string) (string, error) {
	if strings.TrimSpace(htmlBody) == "" {
		return "", nil
	}
	out, err := htmltomarkdown.ConvertString(htmlBody)
	if err != nil {
		return "", fmt.Errorf("failed to convert html: %w", err)
	}
	return out + "\n", nil
}
