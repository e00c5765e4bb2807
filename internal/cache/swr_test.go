package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestCachedFetch_MissRunsLoaderAndCaches(t *testing.T) {
	c := New[int]()
	var calls int32
	loader := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 42, nil
	}

	v, err := c.CachedFetch(context.Background(), "k", time.Minute, loader)
	if err != nil || v != 42 {
		t.Fatalf("unexpected result %v %v", v, err)
	}
	v2, err := c.CachedFetch(context.Background(), "k", time.Minute, loader)
	if err != nil || v2 != 42 {
		t.Fatalf("unexpected cached result %v %v", v2, err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected loader to run once within TTL, ran %d times", calls)
	}
}

func TestCachedFetch_LoaderErrorNotMemoized(t *testing.T) {
	c := New[int]()
	attempt := 0
	loader := func(ctx context.Context) (int, error) {
		attempt++
		if attempt == 1 {
			return 0, errors.New("boom")
		}
		return 7, nil
	}

	if _, err := c.CachedFetch(context.Background(), "k", time.Minute, loader); err == nil {
		t.Fatal("expected first call to propagate loader error")
	}
	v, err := c.CachedFetch(context.Background(), "k", time.Minute, loader)
	if err != nil || v != 7 {
		t.Fatalf("expected retry to succeed and not reuse the failed attempt, got %v %v", v, err)
	}
}

func TestCachedFetchSWR_StaleServedWhileRefreshing(t *testing.T) {
	c := New[int]()
	var calls int32
	loader := func(ctx context.Context) (int, error) {
		n := atomic.AddInt32(&calls, 1)
		return int(n), nil
	}

	v, err := c.CachedFetchSWR(context.Background(), "k", time.Millisecond, loader)
	if err != nil || v != 1 {
		t.Fatalf("unexpected initial load %v %v", v, err)
	}

	time.Sleep(5 * time.Millisecond)

	v2, err := c.CachedFetchSWR(context.Background(), "k", time.Millisecond, loader)
	if err != nil {
		t.Fatal(err)
	}
	if v2 != 1 {
		t.Fatalf("expected stale value served synchronously, got %d", v2)
	}
}

func TestKey_HierarchicalJoin(t *testing.T) {
	if got := Key("containers", "42"); got != "containers:42" {
		t.Fatalf("unexpected key: %s", got)
	}
	if got := Key("endpoints"); got != "endpoints" {
		t.Fatalf("unexpected bare key: %s", got)
	}
}
