package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vigil-sec/vigil/internal/domain/faults"
	"github.com/vigil-sec/vigil/internal/messages"
)

const writeTimeout = 10 * time.Second

// Link is the observer end of the coordinator channel: a single websocket
// carrying keyed request/reply envelopes in both directions.
type Link struct {
	conn *websocket.Conn
	log  *zap.Logger

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan *messages.Envelope
	closed  bool
}

// Dial connects to the coordinator and registers with a hello frame.
func Dial(ctx context.Context, wsURL string, hello messages.Hello, log *zap.Logger) (*Link, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial coordinator: %v", faults.ErrRemoteUnavailable, err)
	}

	l := &Link{
		conn:    conn,
		log:     log,
		pending: make(map[int64]chan *messages.Envelope),
	}
	env, err := messages.Marshal(l.nextID.Add(1), messages.ActionHello, false, hello)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := l.write(env); err != nil {
		conn.Close()
		return nil, err
	}
	return l, nil
}

// Run pumps the read side until ctx is cancelled or the connection drops.
// Replies are routed to their waiting caller; pushed getLatestContent
// requests are answered from the observer.
func (l *Link) Run(ctx context.Context, o *Observer) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			l.Close()
		case <-done:
		}
	}()

	for {
		var env messages.Envelope
		if err := l.conn.ReadJSON(&env); err != nil {
			l.failPending()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: coordinator link lost: %v", faults.ErrRemoteUnavailable, err)
		}

		if env.Reply {
			l.deliver(&env)
			continue
		}

		switch env.Action {
		case messages.ActionGetLatestContent:
			go l.answerLatestContent(ctx, env.ID, o)
		default:
			l.log.Warn("unknown action from coordinator", zap.String("action", env.Action))
		}
	}
}

func (l *Link) answerLatestContent(ctx context.Context, id int64, o *Observer) {
	latest, err := o.LatestContent(ctx)
	var reply *messages.Envelope
	if err != nil {
		reply = &messages.Envelope{ID: id, Reply: true, Error: err.Error()}
	} else {
		reply, err = messages.MarshalReply(id, latest)
		if err != nil {
			reply = &messages.Envelope{ID: id, Reply: true, Error: err.Error()}
		}
	}
	if err := l.write(reply); err != nil {
		l.log.Warn("latest-content reply failed", zap.Error(err))
	}
}

// AutoScan submits one sample and waits for the keyed reply. The request is
// marked keep-open: the coordinator suspends on remote analysis before
// answering.
func (l *Link) AutoScan(ctx context.Context, msg messages.AutoScanText) (*messages.AutoScanResult, error) {
	id := l.nextID.Add(1)
	env, err := messages.Marshal(id, messages.ActionAutoScanText, true, msg)
	if err != nil {
		return nil, err
	}

	ch := make(chan *messages.Envelope, 1)
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: link closed", faults.ErrRemoteUnavailable)
	}
	l.pending[id] = ch
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.pending, id)
		l.mu.Unlock()
	}()

	if err := l.write(env); err != nil {
		return nil, fmt.Errorf("%w: submit auto-scan: %v", faults.ErrRemoteUnavailable, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case reply, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: link closed before reply", faults.ErrRemoteUnavailable)
		}
		if reply.Error != "" {
			return nil, fmt.Errorf("%w: %s", faults.ErrRemoteUnavailable, reply.Error)
		}
		var res messages.AutoScanResult
		if err := json.Unmarshal(reply.Payload, &res); err != nil {
			return nil, fmt.Errorf("%w: malformed reply: %v", faults.ErrRemoteUnavailable, err)
		}
		return &res, nil
	}
}

func (l *Link) deliver(env *messages.Envelope) {
	l.mu.Lock()
	ch, ok := l.pending[env.ID]
	l.mu.Unlock()
	if !ok {
		l.log.Debug("reply for unknown request", zap.Int64("id", env.ID))
		return
	}
	ch <- env
}

// failPending wakes every waiter after the connection drops.
func (l *Link) failPending() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for id, ch := range l.pending {
		close(ch)
		delete(l.pending, id)
	}
}

func (l *Link) write(env *messages.Envelope) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return l.conn.WriteJSON(env)
}

func (l *Link) Close() error {
	return l.conn.Close()
}
