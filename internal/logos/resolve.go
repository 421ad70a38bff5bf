package logos

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ResolveImageURL finds the logo a team page advertises: og:image first,
// then an icon link, then the first image on the page. The result is
// absolute, resolved against base.
func ResolveImageURL(html string, base *url.URL) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	candidates := []struct {
		selector string
		attr     string
	}{
		{`meta[property="og:image"]`, "content"},
		{`link[rel~="icon"]`, "href"},
		{`img[src]`, "src"},
	}

	for _, c := range candidates {
		var found string
		doc.Find(c.selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			v, ok := s.Attr(c.attr)
			v = strings.TrimSpace(v)
			if !ok || v == "" || strings.HasPrefix(v, "data:") {
				return true
			}
			found = v
			return false
		})
		if found == "" {
			continue
		}

		ref, err := url.Parse(found)
		if err != nil {
			continue
		}
		if base == nil {
			return ref.String(), nil
		}
		return base.ResolveReference(ref).String(), nil
	}

	return "", ErrNoImage
}
