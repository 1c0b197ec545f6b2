package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	appblock "github.com/vigil-sec/vigil/internal/application/blocklist"
	appscans "github.com/vigil-sec/vigil/internal/application/scans"
	"github.com/vigil-sec/vigil/internal/domain/faults"
	domain "github.com/vigil-sec/vigil/internal/domain/scans"
	"github.com/vigil-sec/vigil/internal/middleware"
)

type Router struct {
	scansSvc *appscans.Service
	blockSvc *appblock.Service
	hub      *Hub
	log      *zap.Logger
}

// Options carries the cross-cutting knobs for the HTTP surface.
type Options struct {
	RateLimitCapacity int
	RateLimitRefill   int
	HealthCheckers    map[string]middleware.HealthChecker
}

func NewRouter(scansSvc *appscans.Service, blockSvc *appblock.Service, hub *Hub, log *zap.Logger, opts Options) http.Handler {
	r := &Router{scansSvc: scansSvc, blockSvc: blockSvc, hub: hub, log: log}
	mux := chi.NewRouter()

	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	mux.Use(middleware.LoggingMiddleware(log))
	mux.Use(middleware.MetricsMiddleware)
	if opts.RateLimitCapacity > 0 {
		mux.Use(middleware.RateLimitMiddleware(opts.RateLimitCapacity, opts.RateLimitRefill))
	}

	mux.Get("/health", middleware.HealthHandler(opts.HealthCheckers))
	mux.Get("/metrics", middleware.MetricsHandler)
	mux.Get("/blocked", r.handleBlockedPage)
	mux.Get("/ws/observer", hub.Handle)

	mux.Route("/v1", func(rt chi.Router) {
		rt.Get("/snapshot", r.wrap(r.handleSnapshot))

		rt.Post("/scans", r.wrap(r.handleSubmitScan))
		rt.Get("/scans", r.wrap(r.handleListScans))
		rt.Get("/scans/pending-result", r.wrap(r.handlePendingResult))
		rt.Post("/scans/artifact", r.wrap(r.handleScanArtifact))
		rt.Get("/scans/{id}", r.wrap(r.handleGetScan))
		rt.Post("/scans/{id}/verify", r.wrap(r.handleVerify))

		rt.Get("/alerts", r.wrap(r.handleListAlerts))
		rt.Post("/alerts/emergency", r.wrap(r.handleEmergency))
		rt.Post("/alerts/{id}/read", r.wrap(r.handleMarkAlertRead))

		rt.Get("/blocklist", r.wrap(r.handleListBlocked))
		rt.Post("/blocklist", r.wrap(r.handleBlock))
		rt.Delete("/blocklist/{domain}", r.wrap(r.handleUnblock))

		rt.Post("/navigate/check", r.wrap(r.handleCheckNavigation))

		rt.Get("/observers", r.wrap(r.handleListObservers))
		rt.Get("/observers/{id}/content", r.wrap(r.handleObserverContent))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			switch {
			case errors.Is(err, faults.ErrValidation):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, faults.ErrNotFound):
				http.Error(w, err.Error(), http.StatusNotFound)
			case errors.Is(err, faults.ErrRemoteUnavailable):
				http.Error(w, err.Error(), http.StatusBadGateway)
			case errors.Is(err, faults.ErrStorageUnavailable):
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
			default:
				r.log.Error("handler error", zap.String("path", req.URL.Path), zap.Error(err))
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

// GET /v1/snapshot
func (r *Router) handleSnapshot(w http.ResponseWriter, req *http.Request) error {
	snap, err := r.scansSvc.Snapshot(req.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, snap)
}

// POST /v1/scans
// Body: {"type": "text", "content": "...", "label": "..."}
func (r *Router) handleSubmitScan(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Type    string `json:"type"`
		Content string `json:"content"`
		Label   string `json:"label"`
		Source  string `json:"source"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return fmt.Errorf("%w: %v", faults.ErrValidation, err)
	}
	if err := middleware.ValidateContentType(body.Type); err != nil {
		return fmt.Errorf("%w: %v", faults.ErrValidation, err)
	}
	if body.Source == "" {
		body.Source = "manual"
	}

	rec, err := r.scansSvc.SubmitScan(req.Context(), appscans.SubmitScanCommand{
		Type:    domain.ContentType(body.Type),
		Content: body.Content,
		Label:   middleware.SanitizeString(body.Label),
		Source:  body.Source,
	})
	if err != nil {
		middleware.IncrementScansFailed()
		return err
	}
	middleware.IncrementScans()
	if rec.RiskCategory.IsThreat() {
		middleware.IncrementAlerts()
	}
	return writeJSON(w, rec)
}

// GET /v1/scans?limit=20
func (r *Router) handleListScans(w http.ResponseWriter, req *http.Request) error {
	limit := 0
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%w: bad limit %q", faults.ErrValidation, raw)
		}
		limit = middleware.ValidateLimit(n)
	}

	list, err := r.scansSvc.List(req.Context(), limit)
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// GET /v1/scans/{id}
func (r *Router) handleGetScan(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateScanID(id); err != nil {
		return fmt.Errorf("%w: %v", faults.ErrValidation, err)
	}
	rec, err := r.scansSvc.Get(req.Context(), domain.ScanID(id))
	if err != nil {
		return err
	}
	return writeJSON(w, rec)
}

// POST /v1/scans/{id}/verify
func (r *Router) handleVerify(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateScanID(id); err != nil {
		return fmt.Errorf("%w: %v", faults.ErrValidation, err)
	}
	rec, err := r.scansSvc.Verify(req.Context(), domain.ScanID(id))
	if err != nil {
		return err
	}
	return writeJSON(w, rec)
}

// POST /v1/scans/artifact
// Body: {"url": "https://...", "label": "..."}
func (r *Router) handleScanArtifact(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		URL   string `json:"url"`
		Label string `json:"label"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return fmt.Errorf("%w: %v", faults.ErrValidation, err)
	}
	if err := middleware.ValidateURL(body.URL); err != nil {
		return fmt.Errorf("%w: %v", faults.ErrValidation, err)
	}

	rec, err := r.scansSvc.ScanArtifact(req.Context(), body.URL, middleware.SanitizeString(body.Label))
	if err != nil {
		middleware.IncrementScansFailed()
		return err
	}
	middleware.IncrementScans()
	return writeJSON(w, rec)
}

// GET /v1/scans/pending-result
// Pops the context-menu result; a second call finds nothing.
func (r *Router) handlePendingResult(w http.ResponseWriter, req *http.Request) error {
	rec, err := r.scansSvc.PopPendingResult(req.Context())
	if err != nil {
		if errors.Is(err, faults.ErrNotFound) {
			w.WriteHeader(http.StatusNoContent)
			return nil
		}
		return err
	}
	if rec == nil {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	return writeJSON(w, rec)
}

// GET /v1/alerts?limit=20
func (r *Router) handleListAlerts(w http.ResponseWriter, req *http.Request) error {
	limit := 0
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%w: bad limit %q", faults.ErrValidation, raw)
		}
		limit = middleware.ValidateLimit(n)
	}

	list, err := r.scansSvc.ListAlerts(req.Context(), limit)
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// POST /v1/alerts/emergency
// User-initiated SOS: raises a CRITICAL alert and a forensic scan record.
func (r *Router) handleEmergency(w http.ResponseWriter, req *http.Request) error {
	alert, err := r.scansSvc.TriggerEmergency(req.Context())
	if err != nil {
		return err
	}
	middleware.IncrementAlerts()
	return writeJSON(w, alert)
}

// POST /v1/alerts/{id}/read
func (r *Router) handleMarkAlertRead(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if id == "" {
		return fmt.Errorf("%w: alert id required", faults.ErrValidation)
	}
	if err := r.scansSvc.MarkAlertRead(req.Context(), id); err != nil {
		return err
	}
	return writeJSON(w, map[string]string{"status": "ok"})
}

// GET /v1/blocklist
func (r *Router) handleListBlocked(w http.ResponseWriter, req *http.Request) error {
	list, err := r.blockSvc.List(req.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// POST /v1/blocklist
// Body: {"target": "https://bad.example/phish"} or {"target": "bad.example"}
func (r *Router) handleBlock(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Target string `json:"target"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return fmt.Errorf("%w: %v", faults.ErrValidation, err)
	}

	entry, err := r.blockSvc.Block(req.Context(), body.Target)
	if err != nil {
		return err
	}
	return writeJSON(w, entry)
}

// DELETE /v1/blocklist/{domain}
func (r *Router) handleUnblock(w http.ResponseWriter, req *http.Request) error {
	dom := chi.URLParam(req, "domain")
	if err := middleware.ValidateDomain(dom); err != nil {
		return fmt.Errorf("%w: %v", faults.ErrValidation, err)
	}
	if err := r.blockSvc.Unblock(req.Context(), dom); err != nil {
		return err
	}
	return writeJSON(w, map[string]string{"status": "ok"})
}

// POST /v1/navigate/check
// Body: {"url": "https://...", "top_level": true}
func (r *Router) handleCheckNavigation(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		URL      string `json:"url"`
		TopLevel bool   `json:"top_level"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return fmt.Errorf("%w: %v", faults.ErrValidation, err)
	}

	decision, err := r.blockSvc.CheckNavigation(req.Context(), body.URL, body.TopLevel)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		middleware.IncrementBlockedNavigations()
	}
	return writeJSON(w, decision)
}

// GET /v1/observers
func (r *Router) handleListObservers(w http.ResponseWriter, req *http.Request) error {
	return writeJSON(w, r.hub.Observers())
}

// GET /v1/observers/{id}/content
func (r *Router) handleObserverContent(w http.ResponseWriter, req *http.Request) error {
	latest, err := r.hub.LatestContent(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		return err
	}
	return writeJSON(w, latest)
}

// GET /blocked
func (r *Router) handleBlockedPage(w http.ResponseWriter, req *http.Request) {
	dom := req.URL.Query().Get("domain")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, blockedPage, html.EscapeString(dom))
}

const blockedPage = `<!doctype html>
<html>
<head><title>Navigation blocked</title></head>
<body>
<h1>Navigation blocked</h1>
<p>The site <strong>%s</strong> is on your blocklist and this navigation was stopped.</p>
<p>Remove the domain from your blocklist to visit it again.</p>
</body>
</html>
`
