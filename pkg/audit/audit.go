// Package audit keeps the append-only log of security-relevant actions.
//
// Entries live in the audit_log table next to the vault state, so a mutating
// operation can persist its change and its audit entry in one transaction.
// Each entry carries an HMAC-SHA256 over its content and the previous entry's
// hash, keyed from a random seed kept in the store; Verify walks the chain to
// detect edits or deletions.
package audit

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/anima-vault/anima/pkg/storage"
)

const (
	// GenesisHash is the PrevHash of the first entry.
	GenesisHash = "genesis"

	// KeySeed is the kv key holding the chain key seed.
	KeySeed = "auditKeySeed"

	seedSize = 32
	hkdfInfo = "anima-audit-log-v1"
)

var (
	ErrEmptyAction       = errors.New("audit: action must not be empty")
	ErrUnsupportedFormat = errors.New("audit: unsupported export format")
	ErrInvalidSeed       = errors.New("audit: stored key seed is invalid")
)

// Entry is one audit record.
type Entry struct {
	Seq       int64     `json:"seq"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

// Log appends to and reads the audit table.
type Log struct {
	store *storage.Store
	key   []byte
	now   func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New prepares the audit table in store.
func New(ctx context.Context, store *storage.Store, opts ...Option) (*Log, error) {
	_, err := store.DB().ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_log (
			seq       INTEGER PRIMARY KEY,
			action    TEXT NOT NULL,
			ts        TEXT NOT NULL,
			prev_hash TEXT NOT NULL,
			hash      TEXT NOT NULL
		)`)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to create table: %w", err)
	}

	key, err := loadKey(ctx, store)
	if err != nil {
		return nil, err
	}

	l := &Log{store: store, key: key, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// loadKey derives the chain key from the stored seed, creating the seed on
// first use.
func loadKey(ctx context.Context, store *storage.Store) ([]byte, error) {
	var seed []byte
	err := store.WithTx(ctx, func(ctx context.Context, tx storage.DBTX) error {
		var err error
		seed, err = storage.Get(ctx, tx, KeySeed)
		if err != nil || seed != nil {
			return err
		}
		seed = make([]byte, seedSize)
		if _, err := rand.Read(seed); err != nil {
			return fmt.Errorf("audit: failed to generate key seed: %w", err)
		}
		return storage.Put(ctx, tx, KeySeed, seed)
	})
	if err != nil {
		return nil, err
	}
	if len(seed) != seedSize {
		return nil, ErrInvalidSeed
	}

	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("audit: failed to derive chain key: %w", err)
	}
	return key, nil
}

// Record appends action in its own transaction. Use it only after the
// operation it describes has committed.
func (l *Log) Record(ctx context.Context, action string) (Entry, error) {
	var e Entry
	err := l.store.WithTx(ctx, func(ctx context.Context, tx storage.DBTX) error {
		var err error
		e, err = l.RecordTx(ctx, tx, action)
		return err
	})
	return e, err
}

// RecordTx appends action inside the caller's transaction, so the entry
// commits or rolls back together with the change it documents.
func (l *Log) RecordTx(ctx context.Context, tx storage.DBTX, action string) (Entry, error) {
	if strings.TrimSpace(action) == "" {
		return Entry{}, ErrEmptyAction
	}

	prevSeq, prevHash := int64(0), GenesisHash
	err := tx.QueryRowContext(ctx,
		`SELECT seq, hash FROM audit_log ORDER BY seq DESC LIMIT 1`).Scan(&prevSeq, &prevHash)
	if err != nil && !isNoRows(err) {
		return Entry{}, fmt.Errorf("audit: failed to read chain head: %w", err)
	}

	e := Entry{
		Seq:       prevSeq + 1,
		Action:    action,
		Timestamp: l.now().UTC(),
		PrevHash:  prevHash,
	}
	e.Hash = l.chainHash(e)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_log (seq, action, ts, prev_hash, hash) VALUES (?, ?, ?, ?, ?)`,
		e.Seq, e.Action, e.Timestamp.Format(time.RFC3339Nano), e.PrevHash, e.Hash)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: failed to append entry: %w", err)
	}
	return e, nil
}

func (l *Log) chainHash(e Entry) string {
	h := hmac.New(sha256.New, l.key)
	h.Write([]byte(e.PrevHash))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(e.Seq, 10)))
	h.Write([]byte{0})
	h.Write([]byte(e.Timestamp.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{0})
	h.Write([]byte(e.Action))
	return hex.EncodeToString(h.Sum(nil))
}

// ListOptions filters List. Zero values mean no filter.
type ListOptions struct {
	// Limit keeps only the most recent Limit entries.
	Limit int
	Since time.Time
	Until time.Time
}

// List returns entries oldest first.
func (l *Log) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	rows, err := l.store.DB().QueryContext(ctx,
		`SELECT seq, action, ts, prev_hash, hash FROM audit_log ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.Seq, &e.Action, &ts, &e.PrevHash, &e.Hash); err != nil {
			return nil, fmt.Errorf("audit: failed to scan entry: %w", err)
		}
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("audit: invalid timestamp at seq %d: %w", e.Seq, err)
		}
		if !opts.Since.IsZero() && e.Timestamp.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && e.Timestamp.After(opts.Until) {
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: failed to iterate entries: %w", err)
	}

	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[len(entries)-opts.Limit:]
	}
	return entries, nil
}

// Count returns the number of entries.
func (l *Log) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("audit: failed to count entries: %w", err)
	}
	return n, nil
}

// VerifyResult contains the results of chain verification.
type VerifyResult struct {
	Valid           bool     `json:"valid"`
	RecordsTotal    int      `json:"records_total"`
	RecordsVerified int      `json:"records_verified"`
	Errors          []string `json:"errors,omitempty"`
}

// Verify recomputes the hash chain.
func (l *Log) Verify(ctx context.Context) (*VerifyResult, error) {
	entries, err := l.List(ctx, ListOptions{})
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true, RecordsTotal: len(entries)}
	expectedPrev := GenesisHash
	var expectedSeq int64 = 1

	for _, e := range entries {
		ok := true
		if e.Seq != expectedSeq {
			ok = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"sequence gap: expected %d, got %d", expectedSeq, e.Seq))
		}
		if e.PrevHash != expectedPrev {
			ok = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"chain broken at seq %d: expected prev %s, got %s", e.Seq, expectedPrev, e.PrevHash))
		}
		if !hmac.Equal([]byte(l.chainHash(e)), []byte(e.Hash)) {
			ok = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"hash mismatch at seq %d: possible tampering", e.Seq))
		}
		if ok {
			result.RecordsVerified++
		} else {
			result.Valid = false
		}
		expectedPrev = e.Hash
		expectedSeq = e.Seq + 1
	}
	return result, nil
}

// Export writes entries in "json" or "csv" format.
func (l *Log) Export(ctx context.Context, w io.Writer, format string, opts ListOptions) error {
	if format != "json" && format != "csv" {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	entries, err := l.List(ctx, opts)
	if err != nil {
		return err
	}

	if format == "json" {
		if entries == nil {
			entries = []Entry{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if _, err := io.WriteString(w, "seq,timestamp,action\n"); err != nil {
		return err
	}
	for _, e := range entries {
		line := fmt.Sprintf("%d,%s,%s\n",
			e.Seq, e.Timestamp.Format(time.RFC3339), csvEscape(e.Action))
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
	}
	return nil
}

// csvEscape quotes a field when it contains CSV syntax, and also when it
// starts with a formula trigger so spreadsheets do not evaluate it.
func csvEscape(field string) string {
	if field == "" {
		return field
	}

	needsQuoting := strings.ContainsAny(field[:1], "=+-@") ||
		strings.ContainsAny(field, ",\"\n\r")
	if !needsQuoting {
		return field
	}
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}

// WipeTx removes every entry inside the caller's transaction. The next
// entry starts a new chain from GenesisHash. Only a full data wipe calls this.
func (l *Log) WipeTx(ctx context.Context, tx storage.DBTX) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM audit_log`); err != nil {
		return fmt.Errorf("audit: failed to wipe log: %w", err)
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
