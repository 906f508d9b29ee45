package ingest

import (
	"bytes"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// extractHTML converts an HTML document to markdown after dropping
// scripts, styles and page chrome. It also returns the document title.
func extractHTML(data []byte) (text, title string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", "", fmt.Errorf("%w: parsing html: %v", ErrParse, err)
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok {
			title = strings.TrimSpace(og)
		}
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	doc.Find("script, style, noscript, nav, footer, aside, template").Remove()

	root := doc.Find("main").First()
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}
	if root.Length() == 0 {
		root = doc.Selection
	}
	body, err := goquery.OuterHtml(root)
	if err != nil {
		return "", title, fmt.Errorf("%w: rendering html: %v", ErrParse, err)
	}

	converted, err := md.NewConverter("", true, nil).ConvertString(body)
	if err != nil || strings.TrimSpace(converted) == "" {
		// Plain text of the selection is a usable fallback.
		return strings.TrimSpace(root.Text()), title, nil
	}
	return strings.TrimSpace(converted), title, nil
}
