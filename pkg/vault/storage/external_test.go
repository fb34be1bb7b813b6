package storage

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"campuscore/keygate/pkg/vault"
)

// Backends that need a running server are exercised only when the matching
// environment variable points at one.

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("KEYGATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("KEYGATE_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(pool.Close)

	runStoreSuite(t, func(t *testing.T) vault.Store {
		store := NewPostgresStore(pool, WithTablePrefix(uniquePrefix("keygate_test_")))
		if err := store.EnsureSchema(ctx); err != nil {
			t.Fatalf("EnsureSchema failed: %v", err)
		}
		return store
	})
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("KEYGATE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KEYGATE_TEST_REDIS_ADDR not set")
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("Failed to ping redis: %v", err)
	}

	runStoreSuite(t, func(t *testing.T) vault.Store {
		return &RedisStore{client: client, keyPrefix: uniquePrefix("keygate:test:")}
	})
}
