package auth

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"docbrief/internal/config"
	"docbrief/internal/redis"
	"docbrief/internal/storage"
)

func TestIssueValidateRevokeToken(t *testing.T) {
	db := newAuthTestDB(t)
	defer db.Close()
	seedUser(t, db, 1)

	svc := NewService(db, nil, time.Hour)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, 1)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}
	uid, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if uid != 1 {
		t.Fatalf("validated as user %d, want 1", uid)
	}

	if err := svc.RevokeToken(ctx, token); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, token); err == nil {
		t.Fatal("revoked token still validates")
	}
}

func TestRevokeUserTokensInvalidatesAll(t *testing.T) {
	db := newAuthTestDB(t)
	defer db.Close()
	seedUser(t, db, 3)

	svc := NewService(db, nil, time.Hour)
	ctx := context.Background()

	first, err := svc.IssueToken(ctx, 3)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	second, err := svc.IssueToken(ctx, 3)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if err := svc.RevokeUserTokens(ctx, 3); err != nil {
		t.Fatalf("RevokeUserTokens: %v", err)
	}
	for _, tok := range []string{first, second} {
		if _, err := svc.ValidateToken(ctx, tok); err == nil {
			t.Fatal("token survives RevokeUserTokens")
		}
	}
}

func TestExpiredTokenIsPurged(t *testing.T) {
	db := newAuthTestDB(t)
	defer db.Close()
	seedUser(t, db, 2)

	svc := NewService(db, nil, 10*time.Millisecond)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, 2)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := svc.ValidateToken(ctx, token); err == nil {
		t.Fatal("expected expiration error")
	}

	// validation of an expired token deletes its row
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM user_tokens WHERE token = ?`, token).Scan(&count); err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	if count != 0 {
		t.Fatal("expired token row not removed")
	}
}

func TestTokenCacheBackedByRedis(t *testing.T) {
	db := newAuthTestDB(t)
	defer db.Close()
	seedUser(t, db, 10)

	cache, cleanup := newTestCache(t)
	defer cleanup()

	svc := NewService(db, cache, time.Hour)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, 10)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	raw := cache.Raw()
	if raw == nil {
		t.Fatal("redis raw client nil")
	}
	key := redisTokenPrefix + token
	got, err := raw.Get(ctx, key).Result()
	if err != nil {
		t.Fatalf("get cached token: %v", err)
	}
	if got != "10" {
		t.Fatalf("cached owner = %s, want 10", got)
	}

	// cache answers even after the DB row is gone
	_, _ = db.Exec(`DELETE FROM user_tokens WHERE token = ?`, token)
	uid, err := svc.ValidateToken(ctx, token)
	if err != nil || uid != 10 {
		t.Fatalf("cache-backed validation failed: id=%d err=%v", uid, err)
	}

	if err := svc.RevokeToken(ctx, token); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if _, err := raw.Get(ctx, key).Result(); err == nil {
		t.Fatal("cache entry survives revoke")
	}
	if _, err := svc.ValidateToken(ctx, token); err == nil {
		t.Fatal("token validates after revoke")
	}
}

func newAuthTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *sql.DB, id int64) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, '', ?)`,
		id, fmt.Sprintf("reader%d", id), time.Now().UTC())
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func newTestCache(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed auth tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	dbIndex := 0
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			dbIndex = parsed
		}
	}
	cfg := &config.Config{
		Redis: config.RedisConfig{Host: host, Port: port, DB: dbIndex},
	}
	client, err := redis.NewRedisClient(cfg)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if raw := client.Raw(); raw != nil {
		if err := raw.FlushDB(ctx).Err(); err != nil {
			t.Fatalf("flush db: %v", err)
		}
	}
	return client, func() { client.Close() }
}
