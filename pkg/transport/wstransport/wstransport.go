// Package wstransport implements transport.Transport over a WebSocket connection
// carrying one JSON envelope per text frame.
package wstransport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/lightforgemedia/go-ledgerclient/pkg/envelope"
	"github.com/lightforgemedia/go-ledgerclient/pkg/rpcerr"
	"github.com/lightforgemedia/go-ledgerclient/pkg/transport"
)

// Transport is a WebSocket transport. Each Connect starts a new generation; events
// from a superseded or disconnected generation are never delivered.
type Transport struct {
	cfg config

	mu       sync.Mutex
	handler  transport.EventSink
	gen      uint64
	cur      *session
	dialStop context.CancelFunc

	emitMu sync.Mutex
}

type session struct {
	gen    uint64
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	send   chan *envelope.Envelope
	wg     sync.WaitGroup
}

var _ transport.Transport = (*Transport)(nil)

// New returns a disconnected Transport.
func New(opts ...Option) *Transport {
	return &Transport{cfg: newConfig(opts)}
}

// SetHandler installs the sink for lifecycle events and inbound messages.
func (t *Transport) SetHandler(h transport.EventSink) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Connect starts dialing address in the background, replacing any current connection.
// attempt is echoed in OnConnecting.
func (t *Transport) Connect(address string, attempt int) {
	t.mu.Lock()
	t.gen++
	g := t.gen
	old := t.cur
	t.cur = nil
	if t.dialStop != nil {
		t.dialStop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.dialStop = cancel
	t.mu.Unlock()

	if old != nil {
		old.close(websocket.StatusNormalClosure, "replaced by new connection")
	}

	t.emit(g, func(h transport.EventSink) { h.OnConnecting(attempt) })
	go t.dial(ctx, g, address)
}

func (t *Transport) dial(ctx context.Context, g uint64, address string) {
	dialCtx, dialCancel := context.WithTimeout(ctx, t.cfg.dialTimeout)
	conn, httpResp, err := websocket.Dial(dialCtx, address, t.cfg.dialOptions)
	dialCancel()
	if err != nil {
		if httpResp != nil {
			err = fmt.Errorf("%w (status: %s)", err, httpResp.Status)
		}
		t.cfg.logger.Info("wstransport: dial failed", "address", address, "error", err)
		t.emit(g, func(h transport.EventSink) { h.OnError(&rpcerr.TransportError{Op: "dial", Err: err}) })
		return
	}
	conn.SetReadLimit(t.cfg.readLimit)

	sctx, scancel := context.WithCancel(context.Background())
	s := &session{
		gen:    g,
		conn:   conn,
		ctx:    sctx,
		cancel: scancel,
		send:   make(chan *envelope.Envelope, t.cfg.sendBuffer),
	}

	t.mu.Lock()
	if t.gen != g {
		t.mu.Unlock()
		s.close(websocket.StatusNormalClosure, "superseded")
		return
	}
	t.cur = s
	t.mu.Unlock()

	t.cfg.logger.Info("wstransport: connected", "address", address)
	t.emit(g, func(h transport.EventSink) { h.OnConnected() })

	s.wg.Add(2)
	go t.readPump(s)
	go t.writePump(s)
	if t.cfg.pingInterval > 0 {
		s.wg.Add(1)
		go t.pingLoop(s)
	}
}

// Disconnect closes the current connection or cancels a dial in flight. It emits
// nothing and is safe to call repeatedly.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.gen++
	s := t.cur
	t.cur = nil
	if t.dialStop != nil {
		t.dialStop()
		t.dialStop = nil
	}
	t.mu.Unlock()

	if s != nil {
		s.close(websocket.StatusNormalClosure, "client initiated close")
		t.cfg.logger.Info("wstransport: disconnected")
	}
}

// Send queues env for the write pump. It drops the envelope when no connection is
// open or the send buffer is full.
func (t *Transport) Send(env *envelope.Envelope) {
	t.mu.Lock()
	s := t.cur
	t.mu.Unlock()
	if s == nil {
		t.cfg.logger.Warn("wstransport: not connected, message dropped", "type", env.Type, "command", env.Command)
		return
	}
	select {
	case s.send <- env:
	case <-s.ctx.Done():
		t.cfg.logger.Warn("wstransport: connection closing, message dropped", "type", env.Type, "command", env.Command)
	default:
		t.cfg.logger.Warn("wstransport: send buffer full, message dropped", "type", env.Type, "command", env.Command)
	}
}

func (t *Transport) emit(g uint64, fn func(h transport.EventSink)) {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	t.mu.Lock()
	h := t.handler
	current := t.gen == g
	t.mu.Unlock()
	if !current || h == nil {
		return
	}
	fn(h)
}

// lost is called by a pump that found the connection broken.
func (t *Transport) lost(s *session, err error) {
	t.mu.Lock()
	owned := t.cur == s
	if owned {
		t.cur = nil
	}
	t.mu.Unlock()

	s.close(websocket.StatusAbnormalClosure, "connection lost")
	if !owned {
		return
	}
	t.cfg.logger.Info("wstransport: connection lost", "error", err)
	t.emit(s.gen, func(h transport.EventSink) { h.OnDisconnected(true) })
}

func (t *Transport) readPump(s *session) {
	defer s.wg.Done()
	for {
		var env envelope.Envelope
		if err := wsjson.Read(s.ctx, s.conn, &env); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				t.cfg.logger.Info("wstransport: server closed connection", "status", status)
			}
			t.lost(s, &rpcerr.TransportError{Op: "read", Err: err})
			return
		}
		t.emit(s.gen, func(h transport.EventSink) { h.OnMessage(&env) })
	}
}

func (t *Transport) writePump(s *session) {
	defer s.wg.Done()
	for {
		select {
		case env := <-s.send:
			writeCtx, writeCancel := context.WithTimeout(s.ctx, t.cfg.writeTimeout)
			err := wsjson.Write(writeCtx, s.conn, env)
			writeCancel()
			if err != nil {
				if s.ctx.Err() != nil {
					return
				}
				terr := &rpcerr.TransportError{Op: "write", Err: err}
				t.emit(s.gen, func(h transport.EventSink) { h.OnError(terr) })
				t.lost(s, terr)
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (t *Transport) pingLoop(s *session) {
	defer s.wg.Done()
	ticker := time.NewTicker(t.cfg.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(s.ctx, t.cfg.pingInterval/2)
			err := s.conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				if s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				t.lost(s, &rpcerr.TransportError{Op: "ping", Err: err})
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// close stops the pumps and runs the close handshake in the background so callers on
// the client loop never wait on the peer.
func (s *session) close(code websocket.StatusCode, reason string) {
	s.cancel()
	go s.conn.Close(code, reason)
}
