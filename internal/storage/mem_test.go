package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/quickoh/relay/internal/ntp"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestBackend(t *testing.T) (*MemBackend, *ntp.ManualTimeProvider) {
	clock := ntp.NewManualTimeProvider(epoch)
	s := NewMemBackend(clock)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func TestMemBackend_HIncrBy(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		deltas []int64
		want   map[string]string
		last   int64
	}{
		{name: "single add", deltas: []int64{2}, want: map[string]string{"p1": "2"}, last: 2},
		{name: "add then reduce", deltas: []int64{2, -1}, want: map[string]string{"p1": "1"}, last: 1},
		{name: "reduce to zero removes field", deltas: []int64{1, -1}, want: map[string]string{}, last: 0},
		{name: "reduce below zero removes field", deltas: []int64{1, -5}, want: map[string]string{}, last: -4},
		{name: "reduce missing field", deltas: []int64{-1}, want: map[string]string{}, last: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestBackend(t)
			var last int64
			for _, d := range tt.deltas {
				v, err := s.HIncrBy(ctx, "cart:u1", "p1", d, time.Hour)
				if err != nil {
					t.Fatalf("HIncrBy() error = %v", err)
				}
				last = v
			}
			if last != tt.last {
				t.Errorf("last value = %d, want %d", last, tt.last)
			}
			got, _ := s.HGetAll(ctx, "cart:u1")
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("HGetAll() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMemBackend_TTLRefreshedOnWrite(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestBackend(t)

	if _, err := s.HIncrBy(ctx, "k", "a", 1, 24*time.Hour); err != nil {
		t.Fatal(err)
	}
	clock.Advance(23 * time.Hour)
	if _, err := s.HIncrBy(ctx, "k", "b", 1, 24*time.Hour); err != nil {
		t.Fatal(err)
	}
	clock.Advance(24 * time.Hour)
	got, _ := s.HGetAll(ctx, "k")
	if len(got) != 2 {
		t.Fatalf("expected key alive at exactly its expiry, got %v", got)
	}
	clock.Advance(time.Millisecond)
	got, _ = s.HGetAll(ctx, "k")
	if len(got) != 0 {
		t.Errorf("expected key expired, got %v", got)
	}
}

func TestMemBackend_SetGetDel(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestBackend(t)

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.Set(ctx, "k", []byte("v1"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "k", []byte("v2"), time.Minute); err != nil {
		t.Fatal(err)
	}
	v, err := s.Get(ctx, "k")
	if err != nil || string(v) != "v2" {
		t.Errorf("Get() = %q, %v; want v2", v, err)
	}
	clock.Advance(time.Minute + time.Millisecond)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected expired key, got %v", err)
	}

	_ = s.Set(ctx, "a", []byte("1"), time.Minute)
	_ = s.Set(ctx, "b", []byte("2"), time.Minute)
	if err := s.Del(ctx, "a", "b", "c"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected a deleted, got %v", err)
	}
}

func TestMemBackend_HDel(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestBackend(t)

	_ = s.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"}, time.Hour)
	if err := s.HDel(ctx, "h", time.Hour, "a"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.HGetAll(ctx, "h")
	if !reflect.DeepEqual(got, map[string]string{"b": "2"}) {
		t.Errorf("HGetAll() = %v", got)
	}
	_ = s.HDel(ctx, "h", time.Hour, "b")
	s.lock.Lock()
	_, exists := s.db["h"]
	s.lock.Unlock()
	if exists {
		t.Error("expected empty hash to be removed")
	}
}

func TestMemBackend_IncrWindow(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestBackend(t)

	for i := int64(1); i <= 3; i++ {
		c, err := s.IncrWindow(ctx, "rate:x:u1", time.Minute)
		if err != nil || c != i {
			t.Fatalf("IncrWindow() = %d, %v; want %d", c, err, i)
		}
		// later increments never push the window forward
		clock.Advance(20 * time.Second)
	}
	c, _ := s.IncrWindow(ctx, "rate:x:u1", time.Minute)
	if c != 4 {
		t.Fatalf("expected window still open at its boundary, got %d", c)
	}
	clock.Advance(time.Millisecond)
	c, _ = s.IncrWindow(ctx, "rate:x:u1", time.Minute)
	if c != 1 {
		t.Errorf("expected fresh window after expiry, got %d", c)
	}
}

func TestMemBackend_watcher(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestBackend(t)

	_ = s.Set(ctx, "short", []byte("1"), time.Second)
	_ = s.Set(ctx, "long", []byte("1"), time.Hour)
	clock.Advance(2 * time.Second)

	time.Sleep(1500 * time.Millisecond)

	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.db["short"]; ok {
		t.Error("expected sweeper to remove expired key")
	}
	if _, ok := s.db["long"]; !ok {
		t.Error("expected live key to survive the sweep")
	}
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend("memory", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if _, ok := b.(*MemBackend); !ok {
		t.Errorf("expected *MemBackend, got %T", b)
	}
	if _, err := NewBackend("etcd", "", nil); err == nil {
		t.Error("expected error for unsupported storage type")
	}
}
