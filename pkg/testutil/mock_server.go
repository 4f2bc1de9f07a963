package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/lightforgemedia/go-ledgerclient/pkg/envelope"
)

// MockServer represents a mock WebSocket ledger node for testing transports and clients.
type MockServer struct {
	T          *testing.T
	Server     *httptest.Server
	WsURL      string
	Conn       *websocket.Conn
	ConnMu     sync.Mutex
	Handler    func(conn *websocket.Conn, ms *MockServer)
	ActiveConn context.CancelFunc // signals the handler of the current connection to stop

	accepted chan struct{}
}

// NewMockServer creates a new mock WebSocket server. handlerFunc runs once per
// accepted connection; a nil handler keeps the connection open until closed.
func NewMockServer(t *testing.T, handlerFunc func(conn *websocket.Conn, ms *MockServer)) *MockServer {
	t.Helper()
	ms := &MockServer{T: t, Handler: handlerFunc, accepted: make(chan struct{}, 16)}

	ms.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		connCtx, connCancel := context.WithCancel(context.Background())

		wsconn, err := websocket.Accept(w, r, nil)
		if err != nil {
			ms.T.Logf("MockServer: Accept error: %v", err)
			connCancel()
			return
		}

		ms.ConnMu.Lock()
		ms.Conn = wsconn
		ms.ActiveConn = connCancel
		handler := ms.Handler
		ms.ConnMu.Unlock()

		select {
		case ms.accepted <- struct{}{}:
		default:
		}

		go func() {
			defer connCancel()
			if handler != nil {
				handler(wsconn, ms)
				return
			}
			// Keep reading so control frames are answered.
			for {
				if _, _, err := wsconn.Read(connCtx); err != nil {
					return
				}
			}
		}()

		<-connCtx.Done()
	}))

	ms.WsURL = "ws" + ms.Server.URL[4:] // http:// -> ws://

	t.Cleanup(func() {
		ms.Close()
	})

	return ms
}

// Accepted receives once per accepted connection.
func (ms *MockServer) Accepted() <-chan struct{} {
	return ms.accepted
}

// Send writes an envelope to the connected client.
func (ms *MockServer) Send(env *envelope.Envelope) error {
	ms.ConnMu.Lock()
	defer ms.ConnMu.Unlock()

	if ms.Conn == nil {
		return nil // no connection, silently ignore
	}
	return wsjson.Write(context.Background(), ms.Conn, env)
}

// Handle sets a handler that answers each inbound envelope. A nil reply sends nothing.
func (ms *MockServer) Handle(handler func(env *envelope.Envelope) *envelope.Envelope) {
	ms.ConnMu.Lock()
	defer ms.ConnMu.Unlock()
	ms.Handler = func(conn *websocket.Conn, srv *MockServer) {
		for {
			var reqEnv envelope.Envelope
			if err := wsjson.Read(context.Background(), conn, &reqEnv); err != nil {
				return
			}
			if respEnv := handler(&reqEnv); respEnv != nil {
				if err := srv.Send(respEnv); err != nil {
					srv.T.Logf("MockServer: send error: %v", err)
				}
			}
		}
	}
}

// CloseCurrentConnection closes the current WebSocket connection.
func (ms *MockServer) CloseCurrentConnection() {
	ms.ConnMu.Lock()
	defer ms.ConnMu.Unlock()

	if ms.Conn != nil {
		ms.Conn.Close(websocket.StatusGoingAway, "Test closing connection")
		ms.Conn = nil
	}

	if ms.ActiveConn != nil {
		ms.ActiveConn()
		ms.ActiveConn = nil
	}
}

// Close closes the mock server.
func (ms *MockServer) Close() {
	ms.CloseCurrentConnection()
	if ms.Server != nil {
		ms.Server.Close()
	}
}
