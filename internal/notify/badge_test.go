package notify

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func setupBadge(t *testing.T) (*BadgeCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	badge, err := NewBadgeCache("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create badge cache: %v", err)
	}
	return badge, s
}

func TestBadgeSetGet(t *testing.T) {
	badge, s := setupBadge(t)
	defer badge.Close()
	defer s.Close()
	ctx := context.Background()

	if _, ok, err := badge.Get(ctx, "u1"); err != nil || ok {
		t.Fatalf("Get on empty cache = ok=%v err=%v, want miss", ok, err)
	}

	if err := badge.Set(ctx, "u1", 7); err != nil {
		t.Fatalf("Set: %v", err)
	}
	count, ok, err := badge.Get(ctx, "u1")
	if err != nil || !ok || count != 7 {
		t.Fatalf("Get = %d,%v,%v, want 7,true,nil", count, ok, err)
	}
}

func TestBadgeInvalidate(t *testing.T) {
	badge, s := setupBadge(t)
	defer badge.Close()
	defer s.Close()
	ctx := context.Background()

	if err := badge.Set(ctx, "u1", 3); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := badge.Invalidate(ctx, "u1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok, _ := badge.Get(ctx, "u1"); ok {
		t.Fatal("badge still cached after Invalidate")
	}
}

func TestBadgeExpiry(t *testing.T) {
	badge, s := setupBadge(t)
	defer badge.Close()
	defer s.Close()
	ctx := context.Background()

	if err := badge.Set(ctx, "u1", 2); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s.FastForward(badgeTTL * 2)
	if _, ok, _ := badge.Get(ctx, "u1"); ok {
		t.Fatal("badge survived TTL expiry")
	}
}
