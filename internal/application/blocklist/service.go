package blocklist

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/vigil-sec/vigil/internal/application"
	domain "github.com/vigil-sec/vigil/internal/domain/blocklist"
	"github.com/vigil-sec/vigil/internal/domain/faults"
	"github.com/vigil-sec/vigil/internal/logging"
)

// BlockedPath is the local surface a blocked navigation is redirected to.
const BlockedPath = "/blocked"

// Service owns the user-maintained domain blocklist and the navigation
// interception check.
type Service struct {
	Repo  domain.Repository
	Clock application.Clock
	Log   *zap.Logger
}

// Block adds the domain of the given URL (or a bare domain) to the blocklist.
// At most one entry per domain; re-blocking is a no-op.
func (s *Service) Block(ctx context.Context, raw string) (*domain.Entry, error) {
	host := domain.Normalize(raw)
	if host == "" {
		return nil, fmt.Errorf("%w: no domain in %q", faults.ErrValidation, raw)
	}
	e := &domain.Entry{Domain: host, AddedAt: s.Clock.Now()}
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" {
		e.OriginURL = raw
	}
	if err := s.Repo.Add(ctx, e); err != nil {
		return nil, err
	}
	s.Log.Info("domain blocked", logging.Domain(host))
	return e, nil
}

// Unblock removes a domain from the blocklist.
func (s *Service) Unblock(ctx context.Context, rawDomain string) error {
	host := domain.Normalize(rawDomain)
	if host == "" {
		return fmt.Errorf("%w: no domain in %q", faults.ErrValidation, rawDomain)
	}
	return s.Repo.Remove(ctx, host)
}

// List returns the current blocklist entries.
func (s *Service) List(ctx context.Context) ([]*domain.Entry, error) {
	return s.Repo.List(ctx)
}

// Decision is the outcome of a navigation check.
type Decision struct {
	Allowed    bool   `json:"allowed"`
	Domain     string `json:"domain"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

// Authorize tests the target domain against the blocklist before a top-level
// navigation completes. A hit returns ErrNavigationBlocked (the expected
// outcome of interception, not a failure) along with the normalized host.
// Sub-frame navigations are never intercepted. Membership is checked on the
// exact hostname and on its registrable domain, so subdomains of a blocked
// site are caught; path and query are ignored.
func (s *Service) Authorize(ctx context.Context, rawURL string, topLevel bool) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("%w: unparseable navigation target %q", faults.ErrValidation, rawURL)
	}
	host := domain.Normalize(u.Hostname())

	if !topLevel {
		return host, nil
	}

	blocked, err := s.Repo.Contains(ctx, host)
	if err != nil {
		return host, err
	}
	if !blocked {
		if reg := domain.Registrable(host); reg != host {
			blocked, err = s.Repo.Contains(ctx, reg)
			if err != nil {
				return host, err
			}
		}
	}
	if !blocked {
		return host, nil
	}
	return host, fmt.Errorf("%w: %s", faults.ErrNavigationBlocked, host)
}

// CheckNavigation folds the Authorize outcome into the decision handed back
// to the navigating context, carrying the redirect target on a hit.
func (s *Service) CheckNavigation(ctx context.Context, rawURL string, topLevel bool) (*Decision, error) {
	host, err := s.Authorize(ctx, rawURL, topLevel)
	if errors.Is(err, faults.ErrNavigationBlocked) {
		s.Log.Info("navigation intercepted", logging.Domain(host))
		return &Decision{Allowed: false, Domain: host, RedirectTo: BlockedPath}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Decision{Allowed: true, Domain: host}, nil
}
