package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"strings"
	"testing"
	"time"

	"chatsync/cmd/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Integration tests are enabled when CHATSYNC_DATABASE_URL / CHATSYNC_REDIS_ADDR are set.
// This keeps local "go test ./..." fast & deterministic without external services.

func TestPostgresReadModel_PutGetRemove(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := "chatsync_it_" + randomHex(t, 6)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})

	rm, err := NewPostgresReadModel(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresReadModel: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := rm.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	exerciseReadModel(ctx, t, rm)
}

func TestRedisReadModel_PutGetRemove(t *testing.T) {
	t.Parallel()

	addr := strings.TrimSpace(os.Getenv("CHATSYNC_REDIS_ADDR"))
	if addr == "" {
		t.Skip("integration test skipped: CHATSYNC_REDIS_ADDR is not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	rm, err := NewRedisReadModel(rdb, "chatsync_it:"+randomHex(t, 6)+":")
	if err != nil {
		t.Fatalf("NewRedisReadModel: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exerciseReadModel(ctx, t, rm)
}

func TestPostgresReadModel_RejectsBadSchema(t *testing.T) {
	t.Parallel()

	cases := []string{"", "  ", "bad-name", "1abc", `x"; drop`}
	for _, in := range cases {
		rm := &PostgresReadModel{}
		if err := WithSchema(in)(rm); err == nil {
			t.Fatalf("WithSchema(%q) accepted", in)
		}
	}
}

func exerciseReadModel(ctx context.Context, t *testing.T, rm ReadModel) {
	t.Helper()

	if err := rm.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	msg := &model.Message{ID: 8192, ServerID: 2, PeerID: 5, Text: "hello", Flags: model.FlagOut | model.FlagUnread}
	if err := rm.Put(ctx, "5_history", msg.ID, msg); err != nil {
		t.Fatalf("Put: %v", err)
	}
	msg.Text = "hello again"
	if err := rm.Put(ctx, "5_history", msg.ID, msg); err != nil {
		t.Fatalf("Put (upsert): %v", err)
	}

	got, err := rm.Get(ctx, "5_history", msg.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Text != "hello again" || got.Flags != msg.Flags || got.PeerID != msg.PeerID {
		t.Fatalf("Get()=%+v want text=%q flags=%d peer=%d", got, msg.Text, msg.Flags, msg.PeerID)
	}

	if err := rm.Remove(ctx, "5_history", msg.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := rm.Remove(ctx, "5_history", msg.ID); err != nil {
		t.Fatalf("Remove (missing): %v", err)
	}
	if _, err := rm.Get(ctx, "5_history", msg.ID); err != ErrNotFound {
		t.Fatalf("Get after Remove err=%v want=%v", err, ErrNotFound)
	}
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("CHATSYNC_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: CHATSYNC_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse CHATSYNC_DATABASE_URL: %v", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Fatalf("ping: %v", err)
	}
	return pool
}

func randomHex(t *testing.T, n int) string {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return hex.EncodeToString(b)
}
