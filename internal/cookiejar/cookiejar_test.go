package cookiejar

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
)

func TestParseSetCookieHeaders(t *testing.T) {
	got := ParseSetCookieHeaders([]string{
		"session=abc123; Path=/; HttpOnly; Secure",
		"theme=dark; Domain=.example.com",
		"malformed-no-equals",
	})
	want := map[string]string{"session": "abc123", "theme": "dark"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestParseCookieHeader(t *testing.T) {
	got := ParseCookieHeader("a=1; b=2 ;c=3")
	want := map[string]string{"a": "1", "b": "2", "c": "3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestParseCookieHeader_Empty(t *testing.T) {
	if got := ParseCookieHeader(""); len(got) != 0 {
		t.Errorf("expected empty map, got %v", got)
	}
}

func TestBuildCookieHeader_RoundTrips(t *testing.T) {
	cookies := map[string]string{"a": "1"}
	header := BuildCookieHeader(cookies)
	if header != "a=1" {
		t.Errorf("got %q", header)
	}
	if BuildCookieHeader(nil) != "" {
		t.Error("expected empty header for nil map")
	}
}

func TestMemoryStore_MergeIsLastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	key := Key{SiteID: "s1", SessionID: "sess1", OriginHost: "origin.com"}

	if err := store.Merge(ctx, key, map[string]string{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := store.Merge(ctx, key, map[string]string{"b": "3", "c": "4"}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := map[string]string{"a": "1", "b": "3", "c": "4"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestMemoryStore_KeyIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	k1 := Key{SiteID: "s1", SessionID: "sess1", OriginHost: "a.com"}
	k2 := Key{SiteID: "s1", SessionID: "sess1", OriginHost: "b.com"}

	store.Merge(ctx, k1, map[string]string{"x": "1"})
	got, _ := store.Get(ctx, k2)
	if len(got) != 0 {
		t.Errorf("expected no cross-origin leakage, got %v", got)
	}
}

func TestSQLiteStore_MergeAndGet(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cookies.db")
	store, err := Open(dbPath, slog.Default())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	key := Key{SiteID: "site-1", SessionID: "sess-1", OriginHost: "origin.com"}

	if err := store.Merge(ctx, key, map[string]string{"a": "1"}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := store.Merge(ctx, key, map[string]string{"a": "2", "b": "3"}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := map[string]string{"a": "2", "b": "3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestSQLiteStore_ConcurrentMergeDoesNotLoseUpdates(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cookies.db")
	store, err := Open(dbPath, slog.Default())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	key := Key{SiteID: "site-1", SessionID: "sess-1", OriginHost: "origin.com"}

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("cookie-%d", i)
			if err := store.Merge(ctx, key, map[string]string{name: "1"}); err != nil {
				t.Errorf("merge %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != n {
		t.Errorf("expected %d distinct cookies after concurrent merges, got %d: %v", n, len(got), got)
	}
}

func TestSQLiteStore_GetMissingKeyReturnsEmpty(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cookies.db")
	store, err := Open(dbPath, slog.Default())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	got, err := store.Get(context.Background(), Key{SiteID: "none", SessionID: "none", OriginHost: "none"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty map, got %v", got)
	}
}
