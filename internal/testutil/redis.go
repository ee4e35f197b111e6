package testutil

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// SetupTestRedis connects to TEST_REDIS_ADDR (default localhost:56379) on TEST_REDIS_DB
// (default 15), flushes that DB, and closes the client when the test ends.
func SetupTestRedis(t TestingTB) *redis.Client {
	t.Helper()

	addr := getEnvOrDefault("TEST_REDIS_ADDR", "localhost:56379")
	db, err := strconv.Atoi(getEnvOrDefault("TEST_REDIS_DB", "15"))
	if err != nil || db < 0 {
		t.Logf("invalid TEST_REDIS_DB, using 15")
		db = 15
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		closeAndLog(t, "redis client", client)
		if requireInfra("TEST_REQUIRE_REDIS") {
			t.Fatalf("redis not available at %s: %v", addr, err)
		}
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Logf("warning: flush redis db %d: %v", db, err)
	}
	t.Cleanup(func() { closeAndLog(t, "redis client", client) })
	return client
}
