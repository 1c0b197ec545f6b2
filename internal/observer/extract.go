package observer

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Extraction is one bounded sample of visible page text plus origin metadata.
type Extraction struct {
	Content string
	Label   string
	URL     string
	Domain  string
}

// Collaborator-specific extraction rules: known surfaces expose a tighter
// container than the whole page.
var collaboratorRules = []struct {
	host     string
	selector string
	label    string
}{
	{"mail.google.com", ".adn.ads", "Gmail"},
	{"meet.google.com", ".iT388c", "Meeting Caption"},
}

// Extract pulls the currently visible text out of an HTML document, applying
// collaborator rules when the host matches and falling back to whole-page
// visible text otherwise. The sample is hard-capped at limit characters.
func Extract(pageURL string, body io.Reader, limit int) (*Extraction, error) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("invalid page url %q", pageURL)
	}
	host := strings.ToLower(u.Hostname())

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	doc.Find("script, style, noscript, template").Remove()

	label := "Webpage"
	var text string
	for _, rule := range collaboratorRules {
		if host != rule.host {
			continue
		}
		label = rule.label
		if sel := doc.Find(rule.selector); sel.Length() > 0 {
			text = sel.Text()
		}
		break
	}
	if text == "" {
		text = doc.Find("body").Text()
		if text == "" {
			text = doc.Text()
		}
	}

	return &Extraction{
		Content: capRunes(normalizeWhitespace(text), limit),
		Label:   label,
		URL:     pageURL,
		Domain:  host,
	}, nil
}

// normalizeWhitespace collapses runs of whitespace the way rendered text
// would, so two loads of the same page compare equal.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func capRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
