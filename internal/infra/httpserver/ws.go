package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	appscans "github.com/vigil-sec/vigil/internal/application/scans"
	"github.com/vigil-sec/vigil/internal/domain/faults"
	domain "github.com/vigil-sec/vigil/internal/domain/scans"
	"github.com/vigil-sec/vigil/internal/logging"
	"github.com/vigil-sec/vigil/internal/messages"
)

const (
	helloTimeout    = 10 * time.Second
	wsWriteTimeout  = 10 * time.Second
	latestWait      = 15 * time.Second
	autoScanTimeout = 60 * time.Second
)

// Hub keeps one connection per live observer. Each scan request arriving on a
// connection is handled in its own goroutine; replies go back keyed by the
// request id, so slow analyses never block later submissions.
type Hub struct {
	scans    *appscans.Service
	log      *zap.Logger
	upgrader websocket.Upgrader
	nextReq  atomic.Int64

	mu    sync.Mutex
	conns map[string]*observerConn
}

// ObserverInfo describes a registered observer.
type ObserverInfo struct {
	ID          string    `json:"id"`
	PageURL     string    `json:"page_url"`
	Label       string    `json:"label,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

type observerConn struct {
	info ObserverInfo
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan *messages.Envelope
}

func NewHub(scansSvc *appscans.Service, log *zap.Logger) *Hub {
	return &Hub{
		scans: scansSvc,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[string]*observerConn),
	}
}

// Handle upgrades the request and serves the observer channel until it drops.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("observer upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	oc, err := h.register(conn)
	if err != nil {
		h.log.Warn("observer rejected", zap.Error(err))
		return
	}
	defer h.unregister(oc)

	h.log.Info("observer connected",
		logging.Observer(oc.info.ID),
		zap.String("page_url", oc.info.PageURL))

	h.readLoop(r.Context(), oc)
}

// register expects a hello frame as the first envelope.
func (h *Hub) register(conn *websocket.Conn) (*observerConn, error) {
	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	var env messages.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	if env.Action != messages.ActionHello {
		return nil, fmt.Errorf("expected hello, got %q", env.Action)
	}
	var hello messages.Hello
	if err := json.Unmarshal(env.Payload, &hello); err != nil {
		return nil, fmt.Errorf("malformed hello: %w", err)
	}

	oc := &observerConn{
		info: ObserverInfo{
			ID:          uuid.New().String(),
			PageURL:     hello.PageURL,
			Label:       hello.Label,
			ConnectedAt: time.Now(),
		},
		conn:    conn,
		pending: make(map[int64]chan *messages.Envelope),
	}
	h.mu.Lock()
	h.conns[oc.info.ID] = oc
	h.mu.Unlock()
	return oc, nil
}

func (h *Hub) unregister(oc *observerConn) {
	h.mu.Lock()
	delete(h.conns, oc.info.ID)
	h.mu.Unlock()

	oc.mu.Lock()
	for id, ch := range oc.pending {
		close(ch)
		delete(oc.pending, id)
	}
	oc.mu.Unlock()

	h.log.Info("observer disconnected", logging.Observer(oc.info.ID))
}

func (h *Hub) readLoop(ctx context.Context, oc *observerConn) {
	for {
		var env messages.Envelope
		if err := oc.conn.ReadJSON(&env); err != nil {
			return
		}

		if env.Reply {
			oc.mu.Lock()
			ch, ok := oc.pending[env.ID]
			oc.mu.Unlock()
			if ok {
				ch <- &env
			}
			continue
		}

		switch env.Action {
		case messages.ActionAutoScanText:
			// keep-open request: answer from a worker so the read loop
			// stays free for the next frame
			go h.handleAutoScan(ctx, oc, env)
		default:
			h.log.Warn("unknown observer action",
				logging.Observer(oc.info.ID),
				zap.String("action", env.Action))
		}
	}
}

func (h *Hub) handleAutoScan(ctx context.Context, oc *observerConn, env messages.Envelope) {
	ctx, cancel := context.WithTimeout(ctx, autoScanTimeout)
	defer cancel()

	var msg messages.AutoScanText
	result := messages.AutoScanResult{}
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		result.Error = fmt.Sprintf("malformed auto-scan payload: %v", err)
	} else {
		rec, err := h.scans.SubmitScan(ctx, appscans.SubmitScanCommand{
			Type:    domain.TypeText,
			Content: msg.Content,
			Label:   msg.Label,
			Source:  "observer",
		})
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Success = true
			result.Result = rec
		}
	}

	reply, err := messages.MarshalReply(env.ID, result)
	if err != nil {
		h.log.Warn("auto-scan reply encode failed", zap.Error(err))
		return
	}
	if err := oc.write(reply); err != nil {
		h.log.Warn("auto-scan reply failed",
			logging.Observer(oc.info.ID), zap.Error(err))
	}
}

// Observers lists the currently connected observers.
func (h *Hub) Observers() []ObserverInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ObserverInfo, 0, len(h.conns))
	for _, oc := range h.conns {
		out = append(out, oc.info)
	}
	return out
}

// LatestContent asks one observer for a fresh extraction and waits for the
// keyed reply.
func (h *Hub) LatestContent(ctx context.Context, observerID string) (*messages.LatestContent, error) {
	h.mu.Lock()
	oc, ok := h.conns[observerID]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: observer %s", faults.ErrNotFound, observerID)
	}

	id := h.nextReq.Add(1)
	env := &messages.Envelope{ID: id, Action: messages.ActionGetLatestContent}

	ch := make(chan *messages.Envelope, 1)
	oc.mu.Lock()
	oc.pending[id] = ch
	oc.mu.Unlock()
	defer func() {
		oc.mu.Lock()
		delete(oc.pending, id)
		oc.mu.Unlock()
	}()

	if err := oc.write(env); err != nil {
		return nil, fmt.Errorf("%w: observer request: %v", faults.ErrRemoteUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, latestWait)
	defer cancel()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: observer did not answer", faults.ErrRemoteUnavailable)
	case reply, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: observer disconnected", faults.ErrRemoteUnavailable)
		}
		if reply.Error != "" {
			return nil, fmt.Errorf("%w: %s", faults.ErrRemoteUnavailable, reply.Error)
		}
		var latest messages.LatestContent
		if err := json.Unmarshal(reply.Payload, &latest); err != nil {
			return nil, fmt.Errorf("%w: malformed observer reply: %v", faults.ErrRemoteUnavailable, err)
		}
		return &latest, nil
	}
}

func (oc *observerConn) write(env *messages.Envelope) error {
	oc.writeMu.Lock()
	defer oc.writeMu.Unlock()
	oc.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return oc.conn.WriteJSON(env)
}
