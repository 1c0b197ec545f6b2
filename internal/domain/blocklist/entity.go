package blocklist

import (
	"net/url"
	"strings"
	"time"

	"github.com/weppos/publicsuffix-go/publicsuffix"
)

// Entry is one user-maintained blocked domain. At most one entry per domain;
// enforcement is a membership test on the domain only, path and query are
// ignored.
type Entry struct {
	Domain    string    `json:"domain"`
	OriginURL string    `json:"origin_url,omitempty"`
	AddedAt   time.Time `json:"added_at"`
}

// Normalize lowercases a hostname and strips any port. Accepts either a bare
// host or a full URL.
func Normalize(raw string) string {
	host := strings.TrimSpace(raw)
	if strings.Contains(host, "://") {
		if u, err := url.Parse(host); err == nil && u.Hostname() != "" {
			host = u.Hostname()
		}
	}
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	return strings.ToLower(strings.TrimSuffix(host, "."))
}

// Registrable returns the registered (eTLD+1) domain for a host, so that
// subdomains of a blocked domain are intercepted too. Falls back to the
// normalized host when the public suffix list cannot resolve it.
func Registrable(host string) string {
	host = Normalize(host)
	d, err := publicsuffix.Domain(host)
	if err != nil || d == "" {
		return host
	}
	return strings.ToLower(d)
}
