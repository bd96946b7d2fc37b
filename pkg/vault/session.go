package vault

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/anima-vault/anima/pkg/backup"
	"github.com/anima-vault/anima/pkg/crypto"
	"github.com/anima-vault/anima/pkg/importer"
	"github.com/anima-vault/anima/pkg/mfa"
	"github.com/anima-vault/anima/pkg/model"
	"github.com/anima-vault/anima/pkg/security"
	"github.com/anima-vault/anima/pkg/share"
	"github.com/anima-vault/anima/pkg/storage"
)

// DefaultCategory is used when a record is added without one.
const DefaultCategory = "Other"

// DefaultWifiSecurity labels Wi-Fi entries without a security type.
const DefaultWifiSecurity = "WPA2"

// RecordInput is the user-editable part of a password record.
type RecordInput struct {
	Site           string
	Username       string
	Note           string
	Category       string
	Secret         string
	ExpirationDays int
}

func (in *RecordInput) normalize() error {
	in.Site = strings.TrimSpace(in.Site)
	in.Username = strings.TrimSpace(in.Username)
	in.Note = strings.TrimSpace(in.Note)
	in.Category = strings.TrimSpace(in.Category)
	if in.Site == "" || in.Username == "" || strings.TrimSpace(in.Secret) == "" {
		return ErrMissingField
	}
	if in.ExpirationDays < 0 {
		return ErrInvalidExpiration
	}
	if in.Category == "" {
		in.Category = DefaultCategory
	}
	return nil
}

// WifiInput describes a Wi-Fi network entry.
type WifiInput struct {
	SSID     string
	Password string
	Security string
	Notes    string
}

// Session is one logged-in account. It is safe for concurrent use; after
// Logout every method returns ErrLocked.
type Session struct {
	store *Store

	mu       sync.RWMutex
	username string
	password []byte
	records  []model.Record
	outcome  Outcome
	open     bool
}

func newSession(s *Store, u *Unlocked, password []byte) *Session {
	return &Session{
		store:    s,
		username: u.Account.Username,
		password: password,
		records:  u.Records,
		outcome:  u.Outcome,
		open:     true,
	}
}

// Username returns the account name.
func (s *Session) Username() string { return s.username }

// Outcome reports what was found when the vault was opened, or after the
// first save, whether the vault now holds records.
func (s *Session) Outcome() Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outcome
}

// IsOpen reports whether the session has not been logged out.
func (s *Session) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open
}

// Account returns the public view of the session's account.
func (s *Session) Account(ctx context.Context) (AccountInfo, error) {
	if !s.IsOpen() {
		return AccountInfo{}, ErrLocked
	}
	return s.store.Account(ctx, s.username)
}

// Records returns a copy of the records in vault order.
func (s *Session) Records() ([]model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.open {
		return nil, ErrLocked
	}
	return model.Clone(s.records), nil
}

// Record returns the record with id.
func (s *Session) Record(id string) (model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.open {
		return model.Record{}, ErrLocked
	}
	i := s.indexOf(id)
	if i < 0 {
		return model.Record{}, ErrRecordNotFound
	}
	return s.records[i], nil
}

// Add appends a password record.
func (s *Session) Add(ctx context.Context, in RecordInput) (model.Record, error) {
	if err := in.normalize(); err != nil {
		return model.Record{}, err
	}
	if err := s.requireCategory(ctx, in.Category); err != nil {
		return model.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return model.Record{}, ErrLocked
	}

	rec := model.Record{
		ID:             model.NewID(),
		Site:           in.Site,
		Username:       in.Username,
		Note:           in.Note,
		Category:       in.Category,
		Secret:         in.Secret,
		ExpirationDays: in.ExpirationDays,
		CreatedAt:      s.store.now().UTC(),
		Kind:           model.KindPassword,
	}
	next := append(model.Clone(s.records), rec)
	if err := s.commit(ctx, next, "Added password for "+rec.Site, nil); err != nil {
		return model.Record{}, err
	}
	return rec, nil
}

// AddWifi appends a Wi-Fi network entry. The security type is stored as the
// username and the entry never expires.
func (s *Session) AddWifi(ctx context.Context, in WifiInput) (model.Record, error) {
	ssid := strings.TrimSpace(in.SSID)
	if ssid == "" || strings.TrimSpace(in.Password) == "" {
		return model.Record{}, ErrMissingSSID
	}
	sec := strings.TrimSpace(in.Security)
	if sec == "" {
		sec = DefaultWifiSecurity
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return model.Record{}, ErrLocked
	}

	rec := model.Record{
		ID:        model.NewID(),
		Site:      "WiFi: " + ssid,
		Username:  sec,
		Note:      strings.TrimSpace(in.Notes),
		Category:  model.CategoryWifi,
		Secret:    in.Password,
		CreatedAt: s.store.now().UTC(),
		Kind:      model.KindWifi,
	}
	next := append(model.Clone(s.records), rec)
	if err := s.commit(ctx, next, "Added WiFi: "+ssid, ensureCategories(next)); err != nil {
		return model.Record{}, err
	}
	return rec, nil
}

// Edit replaces the editable fields of record id. Changing the secret
// restarts its rotation period.
func (s *Session) Edit(ctx context.Context, id string, in RecordInput) (model.Record, error) {
	if err := in.normalize(); err != nil {
		return model.Record{}, err
	}
	if err := s.requireCategory(ctx, in.Category); err != nil {
		return model.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return model.Record{}, ErrLocked
	}
	i := s.indexOf(id)
	if i < 0 {
		return model.Record{}, ErrRecordNotFound
	}

	next := model.Clone(s.records)
	rec := next[i]
	if rec.Secret != in.Secret {
		rec.CreatedAt = s.store.now().UTC()
	}
	rec.Site = in.Site
	rec.Username = in.Username
	rec.Note = in.Note
	rec.Category = in.Category
	rec.Secret = in.Secret
	rec.ExpirationDays = in.ExpirationDays
	next[i] = rec

	if err := s.commit(ctx, next, "Edited password for "+rec.Site, nil); err != nil {
		return model.Record{}, err
	}
	return rec, nil
}

// Delete removes record id.
func (s *Session) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrLocked
	}
	i := s.indexOf(id)
	if i < 0 {
		return ErrRecordNotFound
	}
	site := s.records[i].Site
	next := append(model.Clone(s.records[:i]), s.records[i+1:]...)
	return s.commit(ctx, next, "Deleted password for "+site, nil)
}

// DeleteAll removes every record.
func (s *Session) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrLocked
	}
	return s.commit(ctx, []model.Record{}, "Deleted all passwords", nil)
}

// Move places record id at index, shifting the records in between.
func (s *Session) Move(ctx context.Context, id string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrLocked
	}
	from := s.indexOf(id)
	if from < 0 {
		return ErrRecordNotFound
	}
	if index < 0 || index >= len(s.records) {
		return ErrInvalidIndex
	}

	next := model.Clone(s.records)
	rec := next[from]
	next = append(next[:from], next[from+1:]...)
	next = append(next[:index], append([]model.Record{rec}, next[index:]...)...)
	return s.commit(ctx, next, "Reordered passwords", nil)
}

// Categories returns the shared category list.
func (s *Session) Categories(ctx context.Context) ([]string, error) {
	if !s.IsOpen() {
		return nil, ErrLocked
	}
	return s.store.Categories(ctx)
}

// AddCategory appends name to the shared category list.
func (s *Session) AddCategory(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidCategory
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrLocked
	}
	return s.store.db.WithTx(ctx, func(ctx context.Context, tx storage.DBTX) error {
		categories, err := loadCategories(ctx, tx)
		if err != nil {
			return err
		}
		if indexFold(categories, name) >= 0 {
			return ErrDuplicateCategory
		}
		if err := storage.PutJSON(ctx, tx, storage.KeyCategories, append(categories, name)); err != nil {
			return err
		}
		_, err = s.store.audit.RecordTx(ctx, tx, "Added category "+name)
		return err
	})
}

// DeleteCategory removes name from the shared list. It refuses while any
// record in this session's vault uses it; other accounts are not checked.
func (s *Session) DeleteCategory(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrLocked
	}
	for _, r := range s.records {
		if r.Category == name {
			return ErrCannotDelete
		}
	}
	return s.store.db.WithTx(ctx, func(ctx context.Context, tx storage.DBTX) error {
		categories, err := loadCategories(ctx, tx)
		if err != nil {
			return err
		}
		i := indexOf(categories, name)
		if i < 0 {
			return ErrCategoryNotFound
		}
		categories = append(categories[:i], categories[i+1:]...)
		if err := storage.PutJSON(ctx, tx, storage.KeyCategories, categories); err != nil {
			return err
		}
		_, err = s.store.audit.RecordTx(ctx, tx, "Deleted category "+name)
		return err
	})
}

// ImportCSV reads r and appends the records the importer accepts. The input
// is read before the session is locked, so a Logout in the meantime makes
// the import fail with ErrLocked instead of writing to a closed vault.
func (s *Session) ImportCSV(ctx context.Context, r io.Reader, opts importer.Options) (*importer.Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read import: %w", err)
	}
	if opts.Now.IsZero() {
		opts.Now = s.store.now().UTC()
	}
	result, err := importer.Resolve(data, opts)
	if err != nil {
		return result, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, ErrLocked
	}

	next := append(model.Clone(s.records), result.Records...)
	action := fmt.Sprintf("Imported %d passwords from CSV", result.ImportedCount)
	if err := s.commit(ctx, next, action, ensureCategories(result.Records)); err != nil {
		return nil, err
	}
	return result, nil
}

// Backup exports the records encrypted under passphrase, or under the
// master password when passphrase is empty. It returns the file contents
// and a suggested file name.
func (s *Session) Backup(ctx context.Context, passphrase string) ([]byte, string, error) {
	s.mu.RLock()
	if !s.open {
		s.mu.RUnlock()
		return nil, "", ErrLocked
	}
	pass := []byte(passphrase)
	if len(pass) == 0 {
		pass = append([]byte(nil), s.password...)
	}
	records := model.Clone(s.records)
	s.mu.RUnlock()
	defer crypto.SecureWipe(pass)

	blob, err := backup.Export(records, pass,
		backup.WithParams(s.store.params),
		backup.WithClock(s.store.now),
		backup.WithUsername(s.username))
	if err != nil {
		return nil, "", err
	}
	if _, err := s.store.audit.Record(ctx, "Backed up vault"); err != nil {
		return nil, "", err
	}
	return blob, backup.FileName(s.username), nil
}

// Restore replaces the records with those in a backup. passphrase defaults
// to the master password as in Backup.
func (s *Session) Restore(ctx context.Context, blob []byte, passphrase string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return 0, ErrLocked
	}

	pass := []byte(passphrase)
	if len(pass) == 0 {
		pass = append([]byte(nil), s.password...)
	}
	defer crypto.SecureWipe(pass)

	records, err := backup.Import(blob, pass)
	if err != nil {
		return 0, err
	}
	if err := s.commit(ctx, records, "Restored vault", ensureCategories(records)); err != nil {
		return 0, err
	}
	return len(records), nil
}

// Share creates a link to a copy of record id valid for days and returns it
// with its URL.
func (s *Session) Share(ctx context.Context, id string, days int) (share.Link, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.open {
		return share.Link{}, "", ErrLocked
	}
	i := s.indexOf(id)
	if i < 0 {
		return share.Link{}, "", ErrRecordNotFound
	}
	rec := s.records[i]

	var link share.Link
	err := s.store.db.WithTx(ctx, func(ctx context.Context, tx storage.DBTX) error {
		var err error
		if link, err = s.store.shares.CreateTx(ctx, tx, rec, days); err != nil {
			return err
		}
		_, err = s.store.audit.RecordTx(ctx, tx, "Shared password for "+rec.Site)
		return err
	})
	if err != nil {
		return share.Link{}, "", err
	}
	return link, s.store.shares.URL(link.ID), nil
}

// Autofill returns the secret of record id and records that it was used.
func (s *Session) Autofill(ctx context.Context, id string) (string, error) {
	rec, err := s.Record(id)
	if err != nil {
		return "", err
	}
	if _, err := s.store.audit.Record(ctx, "Auto-filled password for "+rec.Site); err != nil {
		return "", err
	}
	return rec.Secret, nil
}

// Health summarises strength, reuse and expiry across the vault.
func (s *Session) Health() (security.Summary, error) {
	records, err := s.Records()
	if err != nil {
		return security.Summary{}, err
	}
	return security.HealthSummary(records, s.store.now())
}

// Report scores the vault and lists its issues.
func (s *Session) Report(warnDays int) (*security.Report, error) {
	records, err := s.Records()
	if err != nil {
		return nil, err
	}
	return security.Assess(records, s.store.now(), warnDays)
}

// Expiring lists bounded records with at most within days remaining,
// soonest first.
func (s *Session) Expiring(within int) ([]security.ExpiryStatus, error) {
	records, err := s.Records()
	if err != nil {
		return nil, err
	}
	return security.Expiring(records, s.store.now(), within), nil
}

// Rekey changes the master password and re-encrypts the vault.
func (s *Session) Rekey(ctx context.Context, newPassword, confirm string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrLocked
	}
	if err := s.store.Rekey(ctx, s.username, string(s.password), newPassword, confirm); err != nil {
		return err
	}
	crypto.SecureWipe(s.password)
	s.password = []byte(newPassword)
	return nil
}

// EnrollMFA starts MFA setup for the account.
func (s *Session) EnrollMFA(ctx context.Context) (*mfa.Enrollment, error) {
	if !s.IsOpen() {
		return nil, ErrLocked
	}
	return s.store.EnrollMFA(ctx, s.username)
}

// EnableMFA confirms MFA setup with a code from the authenticator.
func (s *Session) EnableMFA(ctx context.Context, code string) error {
	if !s.IsOpen() {
		return ErrLocked
	}
	return s.store.EnableMFA(ctx, s.username, code)
}

// SetProfilePicture changes the account avatar reference.
func (s *Session) SetProfilePicture(ctx context.Context, ref string) error {
	if !s.IsOpen() {
		return ErrLocked
	}
	return s.store.SetProfilePicture(ctx, s.username, ref)
}

// Logout records the logout and wipes the session's key material.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrLocked
	}
	_, err := s.store.audit.Record(ctx, "Logged out")

	crypto.SecureWipe(s.password)
	s.password = nil
	s.records = nil
	s.open = false
	return err
}

// commit persists next and appends action in one transaction, then makes
// next the session's records. extra runs inside the same transaction.
// Callers hold s.mu.
func (s *Session) commit(ctx context.Context, next []model.Record, action string, extra func(context.Context, storage.DBTX) error) error {
	err := s.store.db.WithTx(ctx, func(ctx context.Context, tx storage.DBTX) error {
		if err := s.store.saveTx(ctx, tx, s.username, s.password, next); err != nil {
			return err
		}
		if extra != nil {
			if err := extra(ctx, tx); err != nil {
				return err
			}
		}
		_, err := s.store.audit.RecordTx(ctx, tx, action)
		return err
	})
	if err != nil {
		return err
	}

	s.records = next
	if len(next) > 0 {
		s.outcome = OutcomeOK
	} else {
		s.outcome = OutcomeEmpty
	}
	return nil
}

func (s *Session) requireCategory(ctx context.Context, name string) error {
	categories, err := s.store.Categories(ctx)
	if err != nil {
		return err
	}
	if indexOf(categories, name) < 0 {
		return ErrUnknownCategory
	}
	return nil
}

func (s *Session) indexOf(id string) int {
	for i, r := range s.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// ensureCategories adds any category used by records that is missing from
// the shared list.
func ensureCategories(records []model.Record) func(context.Context, storage.DBTX) error {
	return func(ctx context.Context, tx storage.DBTX) error {
		categories, err := loadCategories(ctx, tx)
		if err != nil {
			return err
		}
		changed := false
		for _, r := range records {
			if r.Category != "" && indexOf(categories, r.Category) < 0 {
				categories = append(categories, r.Category)
				changed = true
			}
		}
		if !changed {
			return nil
		}
		return storage.PutJSON(ctx, tx, storage.KeyCategories, categories)
	}
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func indexFold(list []string, s string) int {
	for i, v := range list {
		if strings.EqualFold(v, s) {
			return i
		}
	}
	return -1
}
