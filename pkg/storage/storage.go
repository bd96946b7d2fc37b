// Package storage persists Anima state in a single SQLite file.
//
// State is kept as a small set of logical keys, each holding one blob that is
// replaced as a unit (the accounts map, the category list, the share-link
// map, ...). Callers that must change several keys together, or a key and the
// audit log, do so inside WithTx.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/anima-vault/anima/internal/logging"
)

// Logical keys.
const (
	KeyUsers      = "users"
	KeyCategories = "categories"
	KeyMFASecrets = "mfaSecrets"
	KeyShareLinks = "shareLinks"
	KeyLastUser   = "lastUser"
	KeyTheme      = "theme"

	// QuarantinePrefix holds vault blobs that failed to open.
	QuarantinePrefix = "quarantine/"
)

const (
	DBFileName = "anima.db"
	FileMode   = 0600
	DirMode    = 0700

	// MinDiskSpaceBytes is the free space required before a write transaction.
	MinDiskSpaceBytes = 10 * 1024 * 1024
)

var (
	ErrInsufficientDisk = errors.New("storage: insufficient disk space")
	ErrClosed           = errors.New("storage: store is closed")
)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	dir    string
	logger logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for non-fatal storage warnings.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// diskSpace reports free space for the write guard.
var diskSpace = CheckDiskSpace

// Open opens (creating if needed) the database in dir. An empty dir opens a
// private in-memory database.
func Open(dir string, opts ...Option) (*Store, error) {
	s := &Store{dir: dir, logger: logging.Nop()}
	for _, opt := range opts {
		opt(s)
	}

	dsn := ":memory:"
	if dir != "" {
		if err := os.MkdirAll(dir, DirMode); err != nil {
			return nil, fmt.Errorf("storage: failed to create directory: %w", err)
		}
		dsn = filepath.Join(dir, DBFileName) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to open database: %w", err)
	}
	// One connection: writes to a key are serialized and :memory: stays a
	// single database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	if dir != "" {
		if err := os.Chmod(filepath.Join(dir, DBFileName), FileMode); err != nil {
			s.logger.Warn(context.Background(), "failed to set database permissions", "error", err)
		}
	}

	s.db = db
	return s, nil
}

// DB returns the underlying handle for packages that keep their own tables.
func (s *Store) DB() *sql.DB { return s.db }

// Dir returns the data directory, empty for in-memory stores.
func (s *Store) Dir() string { return s.dir }

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// WithTx runs fn inside a transaction. It commits when fn returns nil and
// rolls back on error or panic; panics are rethrown.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) (err error) {
	if s.db == nil {
		return ErrClosed
	}
	if err := s.checkDiskSpaceForWrite(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("storage: failed to commit: %w", cerr)
		}
	}()

	return fn(ctx, tx)
}

// Get returns the value stored at key, or (nil, nil) when absent.
func Get(ctx context.Context, q DBTX, key string) ([]byte, error) {
	var value []byte
	err := q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: failed to get %s: %w", key, err)
	}
	return value, nil
}

// Put replaces the value stored at key.
func Put(ctx context.Context, q DBTX, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("storage: failed to put %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func Delete(ctx context.Context, q DBTX, key string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("storage: failed to delete %s: %w", key, err)
	}
	return nil
}

// KeyInfo describes a stored key without its value.
type KeyInfo struct {
	Key       string
	Size      int
	UpdatedAt time.Time
}

// Stat returns size and last-write time for key. ok is false when absent.
func Stat(ctx context.Context, q DBTX, key string) (info KeyInfo, ok bool, err error) {
	var updated string
	err = q.QueryRowContext(ctx,
		`SELECT length(value), updated_at FROM kv WHERE key = ?`, key).Scan(&info.Size, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return KeyInfo{}, false, nil
	}
	if err != nil {
		return KeyInfo{}, false, fmt.Errorf("storage: failed to stat %s: %w", key, err)
	}
	info.Key = key
	if updated != "" {
		info.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	}
	return info, true, nil
}

// GetJSON decodes the value at key into v. It reports false when the key is
// absent, leaving v untouched.
func GetJSON(ctx context.Context, q DBTX, key string, v any) (bool, error) {
	raw, err := Get(ctx, q, key)
	if err != nil || raw == nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("storage: failed to decode %s: %w", key, err)
	}
	return true, nil
}

// PutJSON encodes v and stores it at key.
func PutJSON(ctx context.Context, q DBTX, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: failed to encode %s: %w", key, err)
	}
	return Put(ctx, q, key, raw)
}

// InsecurePermissions reports the data directory or database file when
// they are readable by group or others.
func (s *Store) InsecurePermissions() []string {
	if s.dir == "" {
		return nil
	}
	var warnings []string
	if info, err := os.Stat(s.dir); err == nil {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			warnings = append(warnings, fmt.Sprintf("data directory has insecure permissions %04o (expected %04o)", perm, DirMode))
		}
	}
	if info, err := os.Stat(filepath.Join(s.dir, DBFileName)); err == nil {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			warnings = append(warnings, fmt.Sprintf("%s has insecure permissions %04o (expected %04o)", DBFileName, perm, FileMode))
		}
	}
	return warnings
}

// DiskSpaceInfo contains disk usage information.
type DiskSpaceInfo struct {
	Total     uint64 `json:"total"`
	Free      uint64 `json:"free"`
	Available uint64 `json:"available"`
	UsedPct   int    `json:"used_pct"`
}

func (s *Store) checkDiskSpaceForWrite(ctx context.Context) error {
	if s.dir == "" {
		return nil
	}
	info, err := diskSpace(s.dir)
	if err != nil {
		s.logger.Warn(ctx, "failed to check disk space", "dir", s.dir, "error", err)
		return nil
	}
	if info.Available < MinDiskSpaceBytes {
		return fmt.Errorf("%w: only %d MB available, need at least %d MB",
			ErrInsufficientDisk, info.Available/(1024*1024), MinDiskSpaceBytes/(1024*1024))
	}
	return nil
}
