package cost

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestSpendTracker_NilRedis_FailOpen(t *testing.T) {
	s := NewSpendTracker(nil)
	if err := s.RecordSpend(context.Background(), 1.23); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spend := s.DailySpend(context.Background()); spend != 0 {
		t.Errorf("expected 0 spend with nil redis, got %f", spend)
	}
}

func TestSpendTracker_RecordAndRead(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	s := NewSpendTracker(rdb)
	ctx := context.Background()

	if err := s.RecordSpend(ctx, 0.25); err != nil {
		t.Fatalf("RecordSpend failed: %v", err)
	}
	if err := s.RecordSpend(ctx, 0.50); err != nil {
		t.Fatalf("RecordSpend failed: %v", err)
	}

	if spend := s.DailySpend(ctx); spend != 0.75 {
		t.Errorf("expected 0.75, got %f", spend)
	}
}

func TestSpendTracker_IgnoresNonPositive(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	s := NewSpendTracker(rdb)
	ctx := context.Background()

	if err := s.RecordSpend(ctx, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.RecordSpend(ctx, -3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spend := s.DailySpend(ctx); spend != 0 {
		t.Errorf("expected 0 spend, got %f", spend)
	}
}
