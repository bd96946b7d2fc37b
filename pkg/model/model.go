// Package model defines the credential record shared by the vault, importer,
// share and backup packages.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates record types.
type Kind string

const (
	KindPassword Kind = "password"
	KindWifi     Kind = "wifi"
)

// Category names with special meaning.
const (
	CategoryWifi     = "WiFi"
	CategoryImported = "Imported"
)

// DefaultCategories seed the category list on first use.
var DefaultCategories = []string{"Social", "Work", "Finance", "Shopping", "Other", CategoryWifi, CategoryImported}

// ErrInvalidRecord is returned by Record.Validate.
var ErrInvalidRecord = errors.New("model: invalid record")

// Record is one credential in a vault.
type Record struct {
	ID       string `json:"id"`
	Site     string `json:"site"`
	Username string `json:"user"`
	// Note holds an e-mail address for passwords and free notes for Wi-Fi.
	Note     string `json:"email,omitempty"`
	Category string `json:"category"`
	Secret   string `json:"password"`
	// ExpirationDays is the rotation period; 0 means the record never expires.
	ExpirationDays int       `json:"expiration,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	Kind           Kind      `json:"type,omitempty"`
}

// NewID returns a fresh record identifier.
func NewID() string {
	return uuid.NewString()
}

// Validate checks the invariants every stored record satisfies. The username
// is checked by the add and edit paths only, since CSV imports may omit it.
func (r Record) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	case strings.TrimSpace(r.Site) == "":
		return fmt.Errorf("%w: missing site", ErrInvalidRecord)
	case r.Secret == "":
		return fmt.Errorf("%w: missing password", ErrInvalidRecord)
	case r.ExpirationDays < 0:
		return fmt.Errorf("%w: negative expiration", ErrInvalidRecord)
	}
	switch r.Kind {
	case "", KindPassword, KindWifi:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, r.Kind)
	}
	return nil
}

// IsWifi reports whether r is a Wi-Fi network entry.
func (r Record) IsWifi() bool { return r.Kind == KindWifi }

// Clone returns a copy of records.
func Clone(records []Record) []Record {
	if records == nil {
		return nil
	}
	out := make([]Record, len(records))
	copy(out, records)
	return out
}
