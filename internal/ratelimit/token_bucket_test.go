package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBucket(t *testing.T, capacity int, refill float64) (*TokenBucket, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTokenBucket(client, capacity, refill, time.Minute), mr
}

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	bucket, _ := newTestBucket(t, 2, 1)

	allowed, _, err := bucket.Allow(ctx, "ratelimit:transcription")
	if err != nil || !allowed {
		t.Fatalf("expected first token allowed got allowed=%v err=%v", allowed, err)
	}
	allowed, _, _ = bucket.Allow(ctx, "ratelimit:transcription")
	if !allowed {
		t.Fatalf("expected second token allowed")
	}
	allowed, _, _ = bucket.Allow(ctx, "ratelimit:transcription")
	if allowed {
		t.Fatalf("expected third token to be rejected")
	}

	allowed, _, _ = bucket.Allow(ctx, "ratelimit:analysis")
	if !allowed {
		t.Fatalf("expected separate key to have its own bucket")
	}
}

func TestWaitRefills(t *testing.T) {
	ctx := context.Background()
	bucket, _ := newTestBucket(t, 1, 20)

	if err := bucket.Wait(ctx, "k"); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	start := time.Now()
	if err := bucket.Wait(ctx, "k"); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("expected second wait to block for a refill, took %s", elapsed)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	bucket, _ := newTestBucket(t, 1, 0.01)
	_ = bucket.Wait(context.Background(), "k")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := bucket.Wait(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestWaitReportsRedisErrors(t *testing.T) {
	bucket, mr := newTestBucket(t, 1, 1)
	mr.Close()
	if err := bucket.Wait(context.Background(), "k"); err == nil {
		t.Fatalf("expected error when redis is down")
	}
}
