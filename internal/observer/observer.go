// Package observer runs the per-page content observer: a periodic extraction
// loop that samples visible page text and forwards changed samples to the
// coordinator for analysis. The observer holds no scan state of its own; every
// record lives with the coordinator.
package observer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vigil-sec/vigil/internal/logging"
	"github.com/vigil-sec/vigil/internal/messages"
)

// Source produces a fresh extraction of the observed page.
type Source interface {
	Load(ctx context.Context) (*Extraction, error)
}

// Channel is the observer's side of the coordinator link.
type Channel interface {
	AutoScan(ctx context.Context, msg messages.AutoScanText) (*messages.AutoScanResult, error)
}

// Observer drives the auto-scan schedule. The first sample fires after
// InitialDelay, then every Interval. Samples shorter than MinSample or
// identical to the previous submission are skipped.
type Observer struct {
	Source       Source
	Channel      Channel
	Interval     time.Duration
	InitialDelay time.Duration
	MinSample    int
	Log          *zap.Logger

	mu         sync.Mutex
	lastSample string
}

// Run blocks until ctx is cancelled, scanning on the configured schedule.
func (o *Observer) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(o.InitialDelay):
	}
	o.ScanOnce(ctx)

	ticker := time.NewTicker(o.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.ScanOnce(ctx)
		}
	}
}

// ScanOnce takes one sample and submits it when it clears the debounce. It
// reports whether a submission was made.
func (o *Observer) ScanOnce(ctx context.Context) bool {
	ext, err := o.Source.Load(ctx)
	if err != nil {
		o.Log.Warn("extraction failed", zap.Error(err))
		return false
	}
	if !o.shouldSubmit(ext.Content) {
		return false
	}

	// Commit the sample before the round-trip so an in-flight failure does
	// not cause the same text to be resubmitted forever.
	o.mu.Lock()
	o.lastSample = ext.Content
	o.mu.Unlock()

	res, err := o.Channel.AutoScan(ctx, messages.AutoScanText{
		Content: ext.Content,
		Label:   ext.Label,
	})
	if err != nil {
		o.Log.Warn("auto-scan submission failed", zap.Error(err))
		return false
	}
	if !res.Success {
		o.Log.Warn("auto-scan rejected", zap.String("reason", res.Error))
		return false
	}
	if res.Result != nil {
		o.Log.Info("auto-scan recorded",
			logging.ScanID(string(res.Result.ID)),
			logging.Label(ext.Label),
			zap.String("category", string(res.Result.RiskCategory)),
			zap.Int("risk_score", res.Result.RiskScore))
	}
	return true
}

func (o *Observer) shouldSubmit(content string) bool {
	if len([]rune(content)) < o.MinSample {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return content != o.lastSample
}

// LatestContent serves an on-demand read from the coordinator. It always
// re-extracts and never touches the debounce state, so an on-demand read
// cannot suppress the next scheduled scan.
func (o *Observer) LatestContent(ctx context.Context) (*messages.LatestContent, error) {
	ext, err := o.Source.Load(ctx)
	if err != nil {
		return nil, err
	}
	return &messages.LatestContent{
		Content: ext.Content,
		Label:   ext.Label,
		URL:     ext.URL,
		Domain:  ext.Domain,
	}, nil
}
