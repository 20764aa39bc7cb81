// Package cookiejar implements the per-(site, session, origin-host)
// cookie store (spec.md §4.E), ported from the original cookie_manager.py:
// only the name=value pair of each Set-Cookie header survives, merged
// last-write-wins into a JSON blob keyed by the same three-part identity
// the teacher's sqlite tables use for their own composite lookups.
package cookiejar

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Key identifies one cookie jar row.
type Key struct {
	SiteID     string
	SessionID  string
	OriginHost string
}

// Store persists and retrieves cookie jars.
type Store interface {
	Get(ctx context.Context, key Key) (map[string]string, error)
	Merge(ctx context.Context, key Key, cookies map[string]string) error
}

// ParseSetCookieHeaders extracts the name=value pair from each Set-Cookie
// header value, discarding attributes (Path, Domain, Secure, ...), exactly
// as the original store_cookies does before persisting.
func ParseSetCookieHeaders(values []string) map[string]string {
	cookies := make(map[string]string)
	for _, raw := range values {
		pair := strings.SplitN(raw, ";", 2)[0]
		pair = strings.TrimSpace(pair)
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		cookies[name] = strings.TrimSpace(value)
	}
	return cookies
}

// ParseCookieHeader parses an incoming "Cookie: a=1; b=2" header into a map.
func ParseCookieHeader(cookieHeader string) map[string]string {
	cookies := make(map[string]string)
	if cookieHeader == "" {
		return cookies
	}
	for _, part := range strings.Split(cookieHeader, ";") {
		part = strings.TrimSpace(part)
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		cookies[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return cookies
}

// BuildCookieHeader renders a cookie map back into "a=1; b=2" form. Map
// iteration order is non-deterministic, which is harmless here since
// Cookie header semantics don't depend on pair ordering.
func BuildCookieHeader(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	parts := make([]string, 0, len(cookies))
	for name, value := range cookies {
		parts = append(parts, name+"="+value)
	}
	return strings.Join(parts, "; ")
}

// SQLiteStore is a sqlite-backed Store, following the teacher's db.Init
// connection pattern (WAL mode, foreign keys on, busy timeout).
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	keyLocks keyLockTable
}

// Open creates (or reuses) the sqlite file at dbPath and ensures the
// cookie_jars table exists.
func Open(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cookie jar directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening cookie jar database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("configuring sqlite: %w", err)
		}
	}

	const schema = `CREATE TABLE IF NOT EXISTS cookie_jars (
		site_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		origin_host TEXT NOT NULL,
		cookie_data TEXT NOT NULL DEFAULT '{}',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (site_id, session_id, origin_host)
	)`
	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("creating cookie_jars table: %w", err)
	}

	return &SQLiteStore{db: sqlDB, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get returns the stored cookies for key, or an empty map if no row exists.
func (s *SQLiteStore) Get(ctx context.Context, key Key) (map[string]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT cookie_data FROM cookie_jars WHERE site_id = ? AND session_id = ? AND origin_host = ?`,
		key.SiteID, key.SessionID, key.OriginHost,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying cookie jar: %w", err)
	}

	var cookies map[string]string
	if err := json.Unmarshal([]byte(raw), &cookies); err != nil {
		s.logger.Warn("cookie jar row has invalid json, treating as empty", "site_id", key.SiteID)
		return map[string]string{}, nil
	}
	return cookies, nil
}

// Merge upserts cookies into the row for key, with new values overwriting
// existing ones of the same name (last write wins, matching the original's
// dict.update semantics). The read-modify-write is serialized per key so
// two concurrent requests sharing a (site, session, origin host) can't race
// and silently drop one another's update.
func (s *SQLiteStore) Merge(ctx context.Context, key Key, cookies map[string]string) error {
	if len(cookies) == 0 {
		return nil
	}

	unlock := s.keyLocks.lock(key)
	defer unlock()

	existing, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	for name, value := range cookies {
		existing[name] = value
	}

	encoded, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("encoding cookie jar: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cookie_jars (site_id, session_id, origin_host, cookie_data, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (site_id, session_id, origin_host)
		DO UPDATE SET cookie_data = excluded.cookie_data, updated_at = excluded.updated_at
	`, key.SiteID, key.SessionID, key.OriginHost, string(encoded), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("storing cookie jar: %w", err)
	}
	return nil
}

// keyLockTable hands out one mutex per Key, so Merge calls for different
// rows run concurrently while calls for the same row serialize. The zero
// value is ready to use.
type keyLockTable struct {
	mu    sync.Mutex
	locks map[Key]*sync.Mutex
}

func (t *keyLockTable) lock(key Key) (unlock func()) {
	t.mu.Lock()
	if t.locks == nil {
		t.locks = make(map[Key]*sync.Mutex)
	}
	l, ok := t.locks[key]
	if !ok {
		l = &sync.Mutex{}
		t.locks[key] = l
	}
	t.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// MemoryStore is an in-process Store for tests and single-request tools
// that don't want a sqlite file on disk.
type MemoryStore struct {
	data map[Key]map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[Key]map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key Key) (map[string]string, error) {
	cookies, ok := m.data[key]
	if !ok {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(cookies))
	for k, v := range cookies {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) Merge(_ context.Context, key Key, cookies map[string]string) error {
	if len(cookies) == 0 {
		return nil
	}
	existing, ok := m.data[key]
	if !ok {
		existing = make(map[string]string)
	}
	for k, v := range cookies {
		existing[k] = v
	}
	m.data[key] = existing
	return nil
}
