// Package client is the presentation surface's view of the coordinator API.
// It holds no scan state; every call reads or mutates the coordinator's
// durable record set.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vigil-sec/vigil/internal/application/aggregate"
	appblock "github.com/vigil-sec/vigil/internal/application/blocklist"
	"github.com/vigil-sec/vigil/internal/domain/alerts"
	"github.com/vigil-sec/vigil/internal/domain/blocklist"
	"github.com/vigil-sec/vigil/internal/domain/scans"
)

type Client struct {
	BaseURL string
}

func NewClient(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/")}
}

func (c *Client) Snapshot() (*aggregate.Snapshot, error) {
	var snap aggregate.Snapshot
	if err := c.get("/v1/snapshot", &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

type SubmitScanRequest struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Label   string `json:"label,omitempty"`
	Source  string `json:"source,omitempty"`
}

func (c *Client) SubmitScan(req SubmitScanRequest) (*scans.ScanRecord, error) {
	var rec scans.ScanRecord
	if err := c.post("/v1/scans", req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

type ScanArtifactRequest struct {
	URL   string `json:"url"`
	Label string `json:"label,omitempty"`
}

func (c *Client) ScanArtifact(req ScanArtifactRequest) (*scans.ScanRecord, error) {
	var rec scans.ScanRecord
	if err := c.post("/v1/scans/artifact", req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) ListScans(limit int) ([]*scans.ScanRecord, error) {
	path := "/v1/scans"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var list []*scans.ScanRecord
	if err := c.get(path, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) GetScan(id string) (*scans.ScanRecord, error) {
	var rec scans.ScanRecord
	if err := c.get("/v1/scans/"+id, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) Verify(id string) (*scans.ScanRecord, error) {
	var rec scans.ScanRecord
	if err := c.post("/v1/scans/"+id+"/verify", nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// PendingResult pops the context-menu result awaiting display. It returns
// (nil, nil) when nothing is pending.
func (c *Client) PendingResult() (*scans.ScanRecord, error) {
	resp, err := http.Get(c.BaseURL + "/v1/scans/pending-result")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}
	var rec scans.ScanRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) ListAlerts(limit int) ([]*alerts.AlertRecord, error) {
	path := "/v1/alerts"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var list []*alerts.AlertRecord
	if err := c.get(path, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) MarkAlertRead(id string) error {
	return c.post("/v1/alerts/"+id+"/read", nil, nil)
}

// TriggerEmergency raises a user-initiated SOS alert on the coordinator.
func (c *Client) TriggerEmergency() (*alerts.AlertRecord, error) {
	var alert alerts.AlertRecord
	if err := c.post("/v1/alerts/emergency", nil, &alert); err != nil {
		return nil, err
	}
	return &alert, nil
}

func (c *Client) Block(target string) (*blocklist.Entry, error) {
	var entry blocklist.Entry
	if err := c.post("/v1/blocklist", map[string]string{"target": target}, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *Client) Unblock(domain string) error {
	req, err := http.NewRequest(http.MethodDelete, c.BaseURL+"/v1/blocklist/"+domain, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return parseError(resp)
	}
	return nil
}

func (c *Client) ListBlocked() ([]*blocklist.Entry, error) {
	var list []*blocklist.Entry
	if err := c.get("/v1/blocklist", &list); err != nil {
		return nil, err
	}
	return list, nil
}

type CheckNavigationRequest struct {
	URL      string `json:"url"`
	TopLevel bool   `json:"top_level"`
}

func (c *Client) CheckNavigation(rawURL string, topLevel bool) (*appblock.Decision, error) {
	var d appblock.Decision
	if err := c.post("/v1/navigate/check", CheckNavigationRequest{URL: rawURL, TopLevel: topLevel}, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) get(path string, out any) error {
	resp, err := http.Get(c.BaseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
