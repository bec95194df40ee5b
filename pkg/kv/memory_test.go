package kv_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/calque-ai/go-counsel/pkg/kv"
	"github.com/calque-ai/go-counsel/pkg/kv/kvtest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	kvtest.Run(t, kvtest.Harness{
		New: func(*testing.T) kv.Store {
			return kv.NewMemoryStore(kv.WithClock(clock.Now))
		},
		Advance: clock.Advance,
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	t.Parallel()
	s := kv.NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	in := []byte("original")
	_ = s.Set(ctx, "k", in, 0)
	in[0] = 'X'

	out, _ := s.Get(ctx, "k")
	if string(out) != "original" {
		t.Errorf("stored value mutated through input slice: %q", out)
	}
	out[0] = 'Y'
	again, _ := s.Get(ctx, "k")
	if string(again) != "original" {
		t.Errorf("stored value mutated through output slice: %q", again)
	}
}

func TestMemoryStore_ConcurrentAppend(t *testing.T) {
	t.Parallel()
	s := kv.NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.AppendList(ctx, "L", 10, time.Hour, []byte("u"), []byte("a"))
		}()
	}
	wg.Wait()

	items, _ := s.List(ctx, "L")
	if len(items) != 10 {
		t.Fatalf("len(List) = %d, want 10", len(items))
	}
	for i := 0; i < len(items); i += 2 {
		if string(items[i]) != "u" || string(items[i+1]) != "a" {
			t.Fatalf("pairs interleaved at %d: %q %q", i, items[i], items[i+1])
		}
	}
}

func TestMemoryStore_BadPattern(t *testing.T) {
	t.Parallel()
	s := kv.NewMemoryStore()
	defer s.Close()
	_ = s.Set(context.Background(), "k", []byte("v"), 0)
	if _, err := s.Keys(context.Background(), "[unterminated"); err == nil {
		t.Error("Keys() with malformed pattern should fail")
	}
}
