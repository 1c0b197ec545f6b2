// Package fetch retrieves remote artifacts (context-menu images, observed
// pages) with bounded size and retries.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/vigil-sec/vigil/internal/domain/faults"
)

// maxBody caps any single fetch.
const maxBody = 15 << 20

type Fetcher struct {
	http *retryablehttp.Client
}

func New(timeout time.Duration) *Fetcher {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.Logger = nil
	rc.HTTPClient.Timeout = timeout
	return &Fetcher{http: rc}
}

// Fetch downloads a URL and returns its bytes plus the reported content type.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", faults.ErrValidation, err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: fetch %s: %v", faults.ErrRemoteUnavailable, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: fetch %s: status %d", faults.ErrRemoteUnavailable, url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read %s: %v", faults.ErrRemoteUnavailable, url, err)
	}
	if len(data) > maxBody {
		return nil, "", fmt.Errorf("%w: artifact exceeds %d bytes", faults.ErrValidation, maxBody)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
