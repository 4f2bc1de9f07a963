package ledgerclient_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/lightforgemedia/go-ledgerclient"
	"github.com/lightforgemedia/go-ledgerclient/pkg/client"
	"github.com/lightforgemedia/go-ledgerclient/pkg/envelope"
	"github.com/lightforgemedia/go-ledgerclient/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEndToEnd drives a client over a real WebSocket: subscribe, receive a
// ledgerClosed push, make a request, then fail fast once disconnected.
func TestEndToEnd(t *testing.T) {
	ms := testutil.NewMockServer(t, nil)
	ms.Handle(func(env *envelope.Envelope) *envelope.Envelope {
		id, _ := env.IDValue()
		switch env.Command {
		case "subscribe":
			ev, _ := envelope.NewEvent(envelope.KindLedgerClosed, envelope.LedgerClosed{Index: 5, FeeBase: 10, FeeRef: 10})
			defer func() { _ = ms.Send(ev) }()
		case "ping":
		default:
			resp, _ := envelope.NewResponse(id, envelope.StatusError, nil)
			resp.Error = &envelope.ErrorPayload{Code: "unknownCmd"}
			return resp
		}
		resp, _ := envelope.NewResponse(id, envelope.StatusSuccess, map[string]any{})
		return resp
	})

	ledgers := make(chan uint64, 4)
	connected := make(chan struct{})
	c, err := ledgerclient.Dial(ms.WsURL, func(*ledgerclient.Client) { close(connected) },
		client.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		client.WithDefaultRequestTimeout(2*time.Second),
	)
	require.NoError(t, err)
	defer c.Close()

	c.OnLedgerClosed(func(ev ledgerclient.LedgerClosed) { ledgers <- ev.Index })

	select {
	case <-connected:
	case <-time.After(3 * time.Second):
		t.Fatal("not connected")
	}
	assert.Equal(t, ledgerclient.Connected, c.State())

	idx, ok := testutil.Recv(t, ledgers, 3*time.Second)
	require.True(t, ok)
	assert.Equal(t, uint64(5), idx)
	assert.True(t, c.ServerInfo().Primed())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := ledgerclient.Call[map[string]any](ctx, c, "ping", nil)
	require.NoError(t, err)
	assert.Empty(t, *res)

	_, err = c.Request("nope", nil).Wait(ctx)
	var remote *ledgerclient.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "unknownCmd", remote.Code)

	c.Disconnect()
	require.NoError(t, testutil.WaitFor(t, "disconnected", time.Second, func() bool {
		return c.State() == ledgerclient.Disconnected
	}))
	_, err = c.Request("ping", nil).Wait(ctx)
	assert.ErrorIs(t, err, ledgerclient.ErrDisconnected)
}

func TestNewDoesNotConnect(t *testing.T) {
	c, err := ledgerclient.New(client.WithoutAutoReconnect())
	require.NoError(t, err)
	assert.Equal(t, ledgerclient.Disconnected, c.State())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Close(), ledgerclient.ErrClientClosed)
}
