// Package extract reduces raw page HTML to readable text.
package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// noiseSelectors name the elements stripped before extraction: chrome,
// comments, ads, cookie banners, modals. Deliberately conservative; overly
// broad selectors start eating article text.
var noiseSelectors = []string{
	"script",
	"style",
	"noscript",
	"nav",
	"footer",
	"header",
	"aside",
	"[id*='comment']",
	"[class*='comment']",
	"[id*='ad']",
	"[class*='-ad']",
	"[class*='ad-']",
	"[class*='-ad-']",
	"[class*='ads']",
	"[id*='ads']",
	"[class*='banner']",
	"[id*='banner']",
	"[id*='cookie']",
	"[class*='cookie']",
	"[id*='consent']",
	"[class*='consent']",
	"[aria-label*='cookie']",
	"[aria-label*='consent']",
	"[role='dialog']",
}

// Cleaner pulls the main readable fragment out of a page. Swappable for a
// readability-style extractor behind the same interface.
type Cleaner struct{}

// NewCleaner returns a Cleaner.
func NewCleaner() *Cleaner {
	return &Cleaner{}
}

// Clean returns the page title and the main content fragment. An empty
// fragment means nothing extractable.
func (*Cleaner) Clean(html string) (string, string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", ""
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())

	for _, sel := range noiseSelectors {
		doc.Find(sel).Remove()
	}

	// Images are ignored; links are flattened to their text.
	doc.Find("img, picture, svg, figure").Remove()
	doc.Find("a").Contents().Unwrap()

	main := doc.Find("article").First()
	if main.Length() == 0 {
		main = doc.Find("main").First()
	}
	if main.Length() == 0 {
		main = doc.Find("body").First()
	}
	if main.Length() == 0 {
		return title, ""
	}

	fragment, err := goquery.OuterHtml(main)
	if err != nil {
		return title, ""
	}
	return title, fragment
}
