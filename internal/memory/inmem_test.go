package memory

import (
	"context"
	"testing"
	"time"
)

func TestInMemSetGet(t *testing.T) {
	ctx := context.Background()
	s := NewInMemStore()

	if err := s.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || value != "v" {
		t.Fatalf("get = (%q, %v, %v), want (v, true, nil)", value, ok, err)
	}

	_, ok, _ = s.Get(ctx, "missing")
	if ok {
		t.Fatal("missing key reported present")
	}
}

func TestInMemExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewInMemStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	s.Set(ctx, "k", "v", time.Minute)
	now = now.Add(2 * time.Minute)

	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("expired key still present")
	}
}

func TestInMemAppendListMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	s := NewInMemStore()

	for _, v := range []string{"a", "b", "c"} {
		if err := s.Append(ctx, "list", v, time.Minute); err != nil {
			t.Fatalf("append %q: %v", v, err)
		}
	}

	got, err := s.List(ctx, "list", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0] != "c" || got[1] != "b" {
		t.Fatalf("list = %v, want [c b]", got)
	}

	all, _ := s.List(ctx, "list", 10)
	if len(all) != 3 {
		t.Fatalf("list overflow n = %v, want 3 entries", all)
	}
}

func TestKeyNamespacing(t *testing.T) {
	k := Key("t1", "c1", "facts")
	if k != "mem:t1:c1:facts" {
		t.Fatalf("key = %q", k)
	}
	if k == Key("t2", "c1", "facts") {
		t.Fatal("keys for different tenants collide")
	}
}
