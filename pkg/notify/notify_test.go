package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan Notice) Notice {
	t.Helper()
	select {
	case n, ok := <-ch:
		require.True(t, ok, "channel closed")
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("no notice received")
		return Notice{}
	}
}

func TestSubscribeByKind(t *testing.T) {
	bus := New(8)
	defer bus.Close()

	states, cancelStates := bus.Subscribe(KindState)
	defer cancelStates()
	all, cancelAll := bus.Subscribe()
	defer cancelAll()

	bus.Publish(Notice{Kind: KindState, From: "disconnected", To: "connecting"})
	bus.Publish(Notice{Kind: KindError, Err: errors.New("dial refused")})

	n := recv(t, states)
	assert.Equal(t, "connecting", n.To)

	first := recv(t, all)
	second := recv(t, all)
	assert.Equal(t, KindState, first.Kind)
	assert.Equal(t, KindError, second.Kind)
	assert.EqualError(t, second.Err, "dial refused")

	select {
	case n := <-states:
		t.Fatalf("state subscriber got %v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := New(1)
	defer bus.Close()
	_, cancel := bus.Subscribe(KindError)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(Notice{Kind: KindError})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	bus := New(4)
	ch, cancel := bus.Subscribe()
	bus.Close()
	bus.Close()
	bus.Publish(Notice{Kind: KindState})

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after Close")
	}
	cancel()

	late, _ := bus.Subscribe()
	_, ok := <-late
	assert.False(t, ok)
}
