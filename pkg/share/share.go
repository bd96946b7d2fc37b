// Package share issues time-limited links to copies of single records.
//
// Links live in the same local store as the vault; a link URL only resolves
// inside an instance reading that store. A link is usable any number of
// times until it expires, and expiry is checked lazily when it is resolved.
package share

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/anima-vault/anima/pkg/model"
	"github.com/anima-vault/anima/pkg/storage"
)

const (
	// IDLength is the number of base36 characters in a link id.
	IDLength = 8

	// MaxValidityDays bounds how long a link may live.
	MaxValidityDays = 365

	// DefaultBaseURL prefixes link ids when none is configured.
	DefaultBaseURL = "anima://share"

	idAlphabet  = "0123456789abcdefghijklmnopqrstuvwxyz"
	maxAttempts = 16
)

var (
	ErrNotFound        = errors.New("share: link not found")
	ErrExpired         = errors.New("share: link has expired")
	ErrInvalidValidity = errors.New("share: validity must be between 0 and 365 days")
	ErrInvalidURL      = errors.New("share: not a share link")
	ErrIDSpace         = errors.New("share: could not allocate a unique link id")
)

// Link holds a copy of a record's displayable fields and its secret.
type Link struct {
	ID        string     `json:"id"`
	Site      string     `json:"site"`
	Username  string     `json:"user"`
	Note      string     `json:"email,omitempty"`
	Category  string     `json:"category"`
	Secret    string     `json:"password"`
	Kind      model.Kind `json:"type,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// Expired reports whether the link is no longer valid at now.
func (l Link) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Options configures a Manager.
type Options struct {
	BaseURL string
	// Now overrides the clock.
	Now func() time.Time
}

// Manager creates and resolves links.
type Manager struct {
	store   *storage.Store
	baseURL string
	now     func() time.Time
}

// New returns a Manager over store.
func New(store *storage.Store, opts Options) *Manager {
	m := &Manager{store: store, baseURL: opts.BaseURL, now: opts.Now}
	if m.baseURL == "" {
		m.baseURL = DefaultBaseURL
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Create stores a link to a copy of rec valid for validityDays.
func (m *Manager) Create(ctx context.Context, rec model.Record, validityDays int) (Link, error) {
	var link Link
	err := m.store.WithTx(ctx, func(ctx context.Context, tx storage.DBTX) error {
		var err error
		link, err = m.CreateTx(ctx, tx, rec, validityDays)
		return err
	})
	return link, err
}

// CreateTx is Create inside the caller's transaction.
func (m *Manager) CreateTx(ctx context.Context, tx storage.DBTX, rec model.Record, validityDays int) (Link, error) {
	if validityDays < 0 || validityDays > MaxValidityDays {
		return Link{}, ErrInvalidValidity
	}

	links, err := load(ctx, tx)
	if err != nil {
		return Link{}, err
	}

	id, err := newID(links)
	if err != nil {
		return Link{}, err
	}

	now := m.now()
	link := Link{
		ID:        id,
		Site:      rec.Site,
		Username:  rec.Username,
		Note:      rec.Note,
		Category:  rec.Category,
		Secret:    rec.Secret,
		Kind:      rec.Kind,
		CreatedAt: now,
		ExpiresAt: now.AddDate(0, 0, validityDays),
	}
	links[id] = link
	if err := storage.PutJSON(ctx, tx, storage.KeyShareLinks, links); err != nil {
		return Link{}, err
	}
	return link, nil
}

// Resolve returns the link with id. An expired link is deleted and
// ErrExpired returned; asking again then yields ErrNotFound.
func (m *Manager) Resolve(ctx context.Context, id string) (Link, error) {
	var (
		link    Link
		expired bool
	)
	err := m.store.WithTx(ctx, func(ctx context.Context, tx storage.DBTX) error {
		links, err := load(ctx, tx)
		if err != nil {
			return err
		}
		l, ok := links[id]
		if !ok {
			return ErrNotFound
		}
		if l.Expired(m.now()) {
			expired = true
			delete(links, id)
			return storage.PutJSON(ctx, tx, storage.KeyShareLinks, links)
		}
		link = l
		return nil
	})
	if err != nil {
		return Link{}, err
	}
	if expired {
		return Link{}, ErrExpired
	}
	return link, nil
}

// List returns all stored links, soonest expiry first.
func (m *Manager) List(ctx context.Context) ([]Link, error) {
	links, err := load(ctx, m.store.DB())
	if err != nil {
		return nil, err
	}
	out := make([]Link, 0, len(links))
	for _, l := range links {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// Purge deletes every expired link and returns how many were removed.
func (m *Manager) Purge(ctx context.Context) (int, error) {
	removed := 0
	err := m.store.WithTx(ctx, func(ctx context.Context, tx storage.DBTX) error {
		links, err := load(ctx, tx)
		if err != nil {
			return err
		}
		now := m.now()
		for id, l := range links {
			if l.Expired(now) {
				delete(links, id)
				removed++
			}
		}
		if removed == 0 {
			return nil
		}
		return storage.PutJSON(ctx, tx, storage.KeyShareLinks, links)
	})
	return removed, err
}

// URL renders the link for id.
func (m *Manager) URL(id string) string {
	return m.baseURL + "#" + id
}

// ParseURL extracts the link id from a URL or accepts a bare id.
func ParseURL(s string) (string, error) {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '#'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) != IDLength {
		return "", ErrInvalidURL
	}
	for _, r := range s {
		if !strings.ContainsRune(idAlphabet, r) {
			return "", ErrInvalidURL
		}
	}
	return s, nil
}

func load(ctx context.Context, q storage.DBTX) (map[string]Link, error) {
	links := make(map[string]Link)
	if _, err := storage.GetJSON(ctx, q, storage.KeyShareLinks, &links); err != nil {
		return nil, err
	}
	return links, nil
}

// newID draws random ids until one is not already in use.
func newID(existing map[string]Link) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		id, err := randomID()
		if err != nil {
			return "", err
		}
		if _, taken := existing[id]; !taken {
			return id, nil
		}
	}
	return "", ErrIDSpace
}

var alphabetSize = big.NewInt(int64(len(idAlphabet)))

func randomID() (string, error) {
	b := make([]byte, IDLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("share: failed to generate id: %w", err)
		}
		b[i] = idAlphabet[n.Int64()]
	}
	return string(b), nil
}
