// Package kvtest holds a behavioural test suite that every kv.Store
// implementation must pass.
package kvtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/calque-ai/go-counsel/pkg/kv"
)

// Harness describes a store under test.
type Harness struct {
	// New returns an empty store. The suite closes it.
	New func(t *testing.T) kv.Store
	// Advance moves the store's clock forward. When nil, expiry cases are skipped.
	Advance func(d time.Duration)
}

// Run executes the suite. Subtests run sequentially since Advance is shared.
func Run(t *testing.T, h Harness) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, ctx context.Context, s kv.Store, h Harness)
	}{
		{"get missing", testGetMissing},
		{"set get delete", testSetGetDelete},
		{"exists", testExists},
		{"keys pattern", testKeysPattern},
		{"list append and trim", testListAppendTrim},
		{"list missing is empty", testListMissing},
		{"ttl expiry", testTTLExpiry},
		{"expire refresh", testExpireRefresh},
		{"ping", testPing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := h.New(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, context.Background(), s, h)
		})
	}
}

func testGetMissing(t *testing.T, ctx context.Context, s kv.Store, _ Harness) {
	_, err := s.Get(ctx, "missing")
	if !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func testSetGetDelete(t *testing.T, ctx context.Context, s kv.Store, _ Harness) {
	if err := s.Set(ctx, "embedding:abc", []byte{0x00, 0x01, 0x02}, time.Hour); err != nil {
		t.Fatalf("Set() = %v", err)
	}
	got, err := s.Get(ctx, "embedding:abc")
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if !bytes.Equal(got, []byte{0x00, 0x01, 0x02}) {
		t.Errorf("Get() = %v", got)
	}

	_ = s.Set(ctx, "a", []byte("1"), 0)
	_ = s.Set(ctx, "b", []byte("2"), 0)
	if err := s.Delete(ctx, "a", "b", "never-set"); err != nil {
		t.Fatalf("Delete() = %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("Get(a) after delete = %v", err)
	}
}

func testExists(t *testing.T, ctx context.Context, s kv.Store, _ Harness) {
	ok, err := s.Exists(ctx, "session:s1:metadata")
	if err != nil || ok {
		t.Fatalf("Exists(missing) = %v, %v", ok, err)
	}
	_ = s.Set(ctx, "session:s1:metadata", []byte("{}"), time.Hour)
	ok, err = s.Exists(ctx, "session:s1:metadata")
	if err != nil || !ok {
		t.Fatalf("Exists(present) = %v, %v", ok, err)
	}
}

func testKeysPattern(t *testing.T, ctx context.Context, s kv.Store, _ Harness) {
	for _, k := range []string{"cache:query:1", "cache:query:2", "session:u:current", "cache:other"} {
		if err := s.Set(ctx, k, []byte("x"), time.Hour); err != nil {
			t.Fatal(err)
		}
	}
	keys, err := s.Keys(ctx, "cache:query:*")
	if err != nil {
		t.Fatalf("Keys() = %v", err)
	}
	sort.Strings(keys)
	if fmt.Sprint(keys) != "[cache:query:1 cache:query:2]" {
		t.Errorf("Keys() = %v", keys)
	}
}

func testListAppendTrim(t *testing.T, ctx context.Context, s kv.Store, _ Harness) {
	for i := 1; i <= 5; i++ {
		if err := s.AppendList(ctx, "L", 3, time.Hour, []byte(fmt.Sprint(i))); err != nil {
			t.Fatalf("AppendList() = %v", err)
		}
	}
	if err := s.AppendList(ctx, "L", 3, time.Hour, []byte("6"), []byte("7")); err != nil {
		t.Fatalf("AppendList(pair) = %v", err)
	}
	items, err := s.List(ctx, "L")
	if err != nil {
		t.Fatalf("List() = %v", err)
	}
	var got []string
	for _, it := range items {
		got = append(got, string(it))
	}
	if fmt.Sprint(got) != "[5 6 7]" {
		t.Errorf("List() = %v, want [5 6 7]", got)
	}
}

func testListMissing(t *testing.T, ctx context.Context, s kv.Store, _ Harness) {
	items, err := s.List(ctx, "nope")
	if err != nil {
		t.Fatalf("List() = %v", err)
	}
	if len(items) != 0 {
		t.Errorf("List() = %v, want empty", items)
	}
}

func testTTLExpiry(t *testing.T, ctx context.Context, s kv.Store, h Harness) {
	if h.Advance == nil {
		t.Skip("store clock cannot be advanced")
	}
	_ = s.Set(ctx, "short", []byte("x"), time.Minute)
	_ = s.Set(ctx, "forever", []byte("y"), 0)
	_ = s.AppendList(ctx, "list", 0, time.Minute, []byte("z"))

	h.Advance(2 * time.Minute)

	if _, err := s.Get(ctx, "short"); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("Get(short) after ttl = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, "forever"); err != nil {
		t.Errorf("Get(forever) = %v", err)
	}
	if items, _ := s.List(ctx, "list"); len(items) != 0 {
		t.Errorf("List(list) after ttl = %v", items)
	}
	keys, _ := s.Keys(ctx, "*")
	if len(keys) != 1 || keys[0] != "forever" {
		t.Errorf("Keys(*) after ttl = %v", keys)
	}
}

func testExpireRefresh(t *testing.T, ctx context.Context, s kv.Store, h Harness) {
	if err := s.Expire(ctx, "missing", time.Hour); !errors.Is(err, kv.ErrNotFound) {
		t.Errorf("Expire(missing) = %v, want ErrNotFound", err)
	}
	_ = s.Set(ctx, "k", []byte("v"), time.Minute)
	if err := s.Expire(ctx, "k", time.Hour); err != nil {
		t.Fatalf("Expire() = %v", err)
	}
	if h.Advance == nil {
		return
	}
	h.Advance(30 * time.Minute)
	if _, err := s.Get(ctx, "k"); err != nil {
		t.Errorf("Get(k) after refresh = %v", err)
	}
}

func testPing(t *testing.T, ctx context.Context, s kv.Store, _ Harness) {
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping() = %v", err)
	}
}
