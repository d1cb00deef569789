package ledger

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Runs only when ARGOS_TEST_REDIS_ADDR points at a disposable Redis.
func TestRedisRecorderRoundTrip(t *testing.T) {
	addr := os.Getenv("ARGOS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ARGOS_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	key := "argos:test:" + uuid.NewString()
	t.Cleanup(func() {
		client.Del(ctx, key)
		client.Close()
	})

	r := NewRedisRecorderWithClient(client, key, 2)
	for i, agent := range []string{"crypto", "news", "sports"} {
		if err := r.Record(ctx, sampleEntry(agent, uint64(i))); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	entries, err := r.ListLatest(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].Agent != "sports" || entries[1].Agent != "news" {
		t.Fatalf("expected capped newest-first list, got %+v", entries)
	}
}
