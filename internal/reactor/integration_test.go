package reactor

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"arcade-presence/internal/logger"
	"arcade-presence/internal/models"
	presenceredis "arcade-presence/internal/presence/redis"
)

// TestExpiryIntegration runs the whole expiry path against a real Redis:
// check-in, TTL eviction, keyspace notification, shadow read, archive write.
func TestExpiryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis integration test in short mode")
	}

	ctx := context.Background()
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:latest",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	defer redisContainer.Terminate(ctx)

	host, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	port, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)
	addr := host + ":" + port.Port()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, EnsureExpiryNotifications(ctx, client, logger.NewLogger()))

	// The merged flags must actually enable keyevent expiry notifications.
	val, err := client.ConfigGet(ctx, "notify-keyspace-events").Result()
	require.NoError(t, err)
	require.Len(t, val, 2)
	flags, _ := val[1].(string)
	assert.Contains(t, flags, "E")

	subscriber := redis.NewClient(&redis.Options{Addr: addr})
	defer subscriber.Close()

	store := presenceredis.NewStore(client, logger.NewLogger())
	archive := &fakeArchive{}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r := New(subscriber, store, archive, nil, logger.NewLogger(), 0)
	go r.Run(runCtx)

	// Give the subscription a moment to establish before the key expires.
	time.Sleep(500 * time.Millisecond)

	rec := models.PresenceRecord{
		VenueKey:    models.VenueKey{Source: "bemani", ID: 12},
		VisitorID:   "visitor-integration",
		Games:       []models.GameEntry{{GameID: 1, GameVersion: "31"}},
		CheckedInAt: time.Now().UTC(),
	}
	require.NoError(t, store.PutPresence(ctx, rec, time.Second))

	// Redis evicts expired keys lazily; allow a generous window.
	require.Eventually(t, func() bool {
		return len(archive.all()) == 1
	}, 15*time.Second, 200*time.Millisecond, "expiry was never archived")

	got := archive.all()[0]
	assert.Equal(t, "visitor-integration", got.VisitorID)
	assert.Equal(t, models.LeaveReasonExpired, got.Reason)
	require.Len(t, got.Games, 1, "shadow payload must survive the live key's eviction")
	assert.Equal(t, int64(1), got.Games[0].GameID)
}
