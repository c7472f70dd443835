package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startTestBus(t *testing.T) *Bus {
	t.Helper()
	embedded, err := StartEmbedded(0)
	require.NoError(t, err)
	t.Cleanup(embedded.Stop)

	b, err := Connect(embedded.ClientURL())
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

type workerRegisteredEvent struct {
	AgentID string `json:"agent_id"`
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	b := startTestBus(t)

	var mu sync.Mutex
	var got []string

	unsub, err := Subscribe(b, context.Background(), SubjectWorkerRegistered, func(_ context.Context, e workerRegisteredEvent) {
		mu.Lock()
		got = append(got, e.AgentID)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, b.Publish(SubjectWorkerRegistered, workerRegisteredEvent{AgentID: "agent-1"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == "agent-1"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := startTestBus(t)

	var count int
	var mu sync.Mutex
	unsub, err := Subscribe(b, context.Background(), SubjectProcessExited, func(_ context.Context, _ workerRegisteredEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	unsub()
	unsub() // idempotent

	require.NoError(t, b.Publish(SubjectProcessExited, workerRegisteredEvent{AgentID: "x"}))
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 0, count)
}
