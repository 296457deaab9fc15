package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpasse/patine/internal/common"
	"github.com/bpasse/patine/internal/interfaces"
)

func TestPublishReachesSubscribers(t *testing.T) {
	s := NewService(common.GetLogger())

	var mu sync.Mutex
	var received []interfaces.Event
	done := make(chan struct{}, 2)

	handler := func(_ context.Context, e interfaces.Event) error {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}
	require.NoError(t, s.Subscribe(interfaces.EventJobStatus, handler))
	require.NoError(t, s.Subscribe(interfaces.EventJobStatus, handler))

	require.NoError(t, s.Publish(context.Background(), interfaces.Event{
		Type:    interfaces.EventJobStatus,
		Payload: "payload",
	}))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("handler never ran")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, "payload", received[0].Payload)
}

func TestPublishWithoutSubscribersIsHarmless(t *testing.T) {
	s := NewService(common.GetLogger())

	assert.NoError(t, s.Publish(context.Background(), interfaces.Event{
		Type: interfaces.EventQueueChanged,
	}))
}

func TestSubscribeRejectsNilHandler(t *testing.T) {
	s := NewService(common.GetLogger())
	assert.Error(t, s.Subscribe(interfaces.EventJobStatus, nil))
}

func TestCloseDropsSubscribers(t *testing.T) {
	s := NewService(common.GetLogger())

	fired := make(chan struct{}, 1)
	require.NoError(t, s.Subscribe(interfaces.EventJobStatus, func(context.Context, interfaces.Event) error {
		fired <- struct{}{}
		return nil
	}))
	require.NoError(t, s.Close())

	require.NoError(t, s.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobStatus}))
	select {
	case <-fired:
		t.Fatal("handler survived Close")
	case <-time.After(50 * time.Millisecond):
	}
}
