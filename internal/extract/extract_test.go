package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePage = `<html>
<head><title>  Sample Title </title></head>
<body>
<nav>site nav</nav>
<header>masthead</header>
<div class="cookie-notice">accept cookies</div>
<article>
<h1>Heading</h1>
<p>Body text with a <a href="https://example.com/link">link label</a> inside.</p>
<img src="pic.png" alt="pic">
<script>var tracked = true;</script>
</article>
<div id="comments-section">first!</div>
<footer>copyright</footer>
</body>
</html>`

func TestClean_TitleAndArticleFragment(t *testing.T) {
	t.Parallel()

	title, fragment := NewCleaner().Clean(samplePage)
	require.Equal(t, "Sample Title", title)
	require.Contains(t, fragment, "Heading")
	require.Contains(t, fragment, "Body text")
}

func TestClean_StripsNoise(t *testing.T) {
	t.Parallel()

	_, fragment := NewCleaner().Clean(samplePage)
	require.NotContains(t, fragment, "site nav")
	require.NotContains(t, fragment, "accept cookies")
	require.NotContains(t, fragment, "first!")
	require.NotContains(t, fragment, "tracked")
	require.NotContains(t, fragment, "<img")
}

func TestClean_LinksFlattenedToText(t *testing.T) {
	t.Parallel()

	_, fragment := NewCleaner().Clean(samplePage)
	require.Contains(t, fragment, "link label")
	require.NotContains(t, fragment, "<a ")
}

func TestClean_FallsBackToMainThenBody(t *testing.T) {
	t.Parallel()

	c := NewCleaner()

	_, fragment := c.Clean(`<html><body><main><p>main content</p></main></body></html>`)
	require.Contains(t, fragment, "main content")
	require.True(t, strings.HasPrefix(fragment, "<main"))

	_, fragment = c.Clean(`<html><body><p>bare body</p></body></html>`)
	require.Contains(t, fragment, "bare body")
}

func TestClean_NothingExtractable(t *testing.T) {
	t.Parallel()

	title, fragment := NewCleaner().Clean("")
	require.Equal(t, "", title)
	// An empty input still parses to an empty body; either way the
	// fragment must carry no text.
	doc := strings.TrimSpace(stripTags(fragment))
	require.Equal(t, "", doc)
}

func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func TestConvert_ProducesMarkdown(t *testing.T) {
	t.Parallel()

	md, err := NewMarkdownConverter().Convert("<h1>Title</h1><p>Some paragraph.</p>")
	require.NoError(t, err)
	require.Contains(t, md, "Title")
	require.Contains(t, md, "Some paragraph.")
}

func TestNormalizeMarkdown(t *testing.T) {
	t.Parallel()

	in := "line one  \r\n\r\n\r\n\r\nline two\t\n\n\nline three\n"
	want := "line one\n\nline two\n\nline three"
	require.Equal(t, want, NormalizeMarkdown(in))
}
