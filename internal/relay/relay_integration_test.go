package relay

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/Janar2510/AgentFlow/internal/realtime"
)

var (
	testRedisURL string
	redContainer testcontainers.Container
)

func TestMain(m *testing.M) {
	// Parse flags to check for -short
	flag.Parse()

	// Skip container setup if running in short mode
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	var err error
	redContainer, err = redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	endpoint, err := redContainer.Endpoint(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get redis endpoint: %v\n", err)
		os.Exit(1)
	}
	testRedisURL = "redis://" + endpoint

	defer func() {
		if err := redContainer.Terminate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to terminate redis container: %v\n", err)
		}
	}()
	os.Exit(m.Run())
}

func setupTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	client, err := Connect(context.Background(), testRedisURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// recordingBroadcaster captures local broadcasts.
type recordingBroadcaster struct {
	mu    sync.Mutex
	calls []struct {
		channel string
		payload realtime.Payload
	}
}

func (r *recordingBroadcaster) Broadcast(channel string, payload realtime.Payload, _ uuid.UUID) (realtime.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, struct {
		channel string
		payload realtime.Payload
	}{channel, payload})
	return realtime.Report{Attempted: 1}, nil
}

func (r *recordingBroadcaster) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func waitForBroadcasts(t *testing.T, b *recordingBroadcaster, expected int) {
	t.Helper()
	for range 200 {
		if b.count() >= expected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d broadcasts, got %d", expected, b.count())
}

func TestRelay_ForwardsToPeers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	localManager := &recordingBroadcaster{}
	peerManager := &recordingBroadcaster{}

	local := New(setupTestClient(t), localManager)
	peer := New(setupTestClient(t), peerManager)

	go local.Run(ctx)
	go peer.Run(ctx)

	// Give both subscriptions time to establish
	time.Sleep(200 * time.Millisecond)

	err := local.Publish(ctx, "workflow:w1", realtime.Payload{"type": "execution_started"})
	require.NoError(t, err)

	// Local delivery is synchronous, peer delivery arrives via Redis
	waitForBroadcasts(t, localManager, 1)
	waitForBroadcasts(t, peerManager, 1)

	peerManager.mu.Lock()
	call := peerManager.calls[0]
	peerManager.mu.Unlock()
	assert.Equal(t, "workflow:w1", call.channel)
	assert.Equal(t, "execution_started", call.payload["type"])
}

func TestRelay_IgnoresOwnEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	localManager := &recordingBroadcaster{}
	relay := New(setupTestClient(t), localManager)
	go relay.Run(ctx)
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, relay.Publish(ctx, "room", realtime.Payload{"type": "x"}))

	// Exactly one broadcast (the synchronous local one); the echoed Redis
	// message from our own origin must be dropped.
	waitForBroadcasts(t, localManager, 1)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, localManager.count())
}

func TestRelay_IgnoresMalformedMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	localManager := &recordingBroadcaster{}
	client := setupTestClient(t)
	relay := New(client, localManager)
	go relay.Run(ctx)
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, client.Publish(ctx, "agentflow:realtime", "not-json").Err())
	require.NoError(t, client.Publish(ctx, "agentflow:realtime", `{"origin":"not-a-uuid"}`).Err())

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 0, localManager.count())
}

func TestConnect_InvalidURL(t *testing.T) {
	_, err := Connect(context.Background(), "not-a-redis-url")
	assert.Error(t, err)
}
