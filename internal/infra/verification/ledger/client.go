// Package ledger talks to the remote evidence-verification service. The
// ledger itself is opaque; this client only ships a digest and reads back a
// verdict.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/vigil-sec/vigil/internal/domain/faults"
	"github.com/vigil-sec/vigil/internal/domain/verification"
)

type Client struct {
	endpoint string
	http     *retryablehttp.Client
}

func New(endpoint string, timeout time.Duration) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.Logger = nil
	rc.HTTPClient.Timeout = timeout
	return &Client{endpoint: endpoint, http: rc}
}

func (c *Client) Verify(ctx context.Context, evidenceDigest string) (*verification.Result, error) {
	body, err := json.Marshal(map[string]string{"evidenceDigest": evidenceDigest})
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: verification call: %v", faults.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: verification service returned %d", faults.ErrRemoteUnavailable, resp.StatusCode)
	}

	var res verification.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("%w: malformed verification response: %v", faults.ErrRemoteUnavailable, err)
	}
	if res.Status != verification.StatusVerified && res.Status != verification.StatusFailed {
		return nil, fmt.Errorf("%w: unknown verification status %q", faults.ErrRemoteUnavailable, res.Status)
	}
	return &res, nil
}
