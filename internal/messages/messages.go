// Package messages defines the wire protocol between observer agents and the
// coordinator. Envelopes are request/response keyed by id; completion order
// across in-flight requests is not guaranteed, so consumers match replies by
// id, never by arrival order.
package messages

import (
	"encoding/json"

	"github.com/vigil-sec/vigil/internal/domain/scans"
)

// Actions carried over the observer channel.
const (
	ActionAutoScanText     = "autoScanText"
	ActionGetLatestContent = "getLatestContent"
	ActionHello            = "hello"
)

// Envelope wraps every frame on the channel. KeepOpen signals that the
// responder performs a suspending operation before replying; a request
// without it must be answered synchronously or not at all.
type Envelope struct {
	ID       int64           `json:"id"`
	Action   string          `json:"action,omitempty"`
	Reply    bool            `json:"reply,omitempty"`
	KeepOpen bool            `json:"keep_open,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Hello registers an observer with the coordinator.
type Hello struct {
	PageURL string `json:"page_url"`
	Label   string `json:"label,omitempty"`
}

// AutoScanText is emitted by the observer's periodic extraction loop.
type AutoScanText struct {
	Content string `json:"content"`
	Label   string `json:"label"`
}

// AutoScanResult answers an AutoScanText request.
type AutoScanResult struct {
	Success bool              `json:"success"`
	Result  *scans.ScanRecord `json:"result,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// LatestContent answers a getLatestContent request with the freshest
// extraction plus page origin metadata.
type LatestContent struct {
	Content string `json:"content"`
	Label   string `json:"label"`
	URL     string `json:"url"`
	Domain  string `json:"domain"`
}

// Marshal encodes a payload into an envelope.
func Marshal(id int64, action string, keepOpen bool, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{ID: id, Action: action, KeepOpen: keepOpen, Payload: raw}, nil
}

// MarshalReply encodes a reply to a previously received envelope.
func MarshalReply(id int64, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{ID: id, Reply: true, Payload: raw}, nil
}
