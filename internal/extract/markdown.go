package extract

import (
	"fmt"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

var (
	trailingSpaceRx = regexp.MustCompile(`[ \t]+\n`)
	blankRunsRx     = regexp.MustCompile(`\n{3,}`)
)

// MarkdownConverter turns cleaned HTML fragments into normalized markdown.
type MarkdownConverter struct{}

// NewMarkdownConverter returns a MarkdownConverter.
func NewMarkdownConverter() *MarkdownConverter {
	return &MarkdownConverter{}
}

// Convert renders the fragment as markdown and normalizes whitespace.
func (*MarkdownConverter) Convert(fragment string) (string, error) {
	md, err := htmltomarkdown.ConvertString(fragment)
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	return NormalizeMarkdown(md), nil
}

// NormalizeMarkdown squeezes converter noise: CRLF line endings, trailing
// spaces, and runs of three or more newlines.
func NormalizeMarkdown(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = trailingSpaceRx.ReplaceAllString(text, "\n")
	text = blankRunsRx.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
