package observer

import (
	"bytes"
	"context"
	"fmt"
)

// PageFetcher downloads a page body.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// PageSource loads one fixed URL and extracts its visible text.
type PageSource struct {
	URL     string
	Fetcher PageFetcher
	Limit   int
}

func (p *PageSource) Load(ctx context.Context) (*Extraction, error) {
	body, _, err := p.Fetcher.Fetch(ctx, p.URL)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", p.URL, err)
	}
	return Extract(p.URL, bytes.NewReader(body), p.Limit)
}
