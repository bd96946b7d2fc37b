// Package vault manages Anima accounts and their encrypted credential lists.
//
// A Store owns every account in a data directory. Each account's records
// are sealed into one blob under its master password and replaced whole on
// every save. Logging in yields a Session that holds the decrypted records
// and performs all record mutations; each mutation persists the new blob
// and appends its audit entry in a single storage transaction before the
// in-memory copy changes.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/anima-vault/anima/internal/logging"
	"github.com/anima-vault/anima/pkg/audit"
	"github.com/anima-vault/anima/pkg/crypto"
	"github.com/anima-vault/anima/pkg/mfa"
	"github.com/anima-vault/anima/pkg/model"
	"github.com/anima-vault/anima/pkg/share"
	"github.com/anima-vault/anima/pkg/storage"
)

// DefaultLoginDelay is the fixed pause before a login attempt is checked.
const DefaultLoginDelay = 500 * time.Millisecond

// DefaultTheme is returned when no theme has been chosen.
const DefaultTheme = "light"

// Unlocked is the result of a successful Unlock.
type Unlocked struct {
	Account AccountInfo
	Records []model.Record
	Outcome Outcome
}

// Store manages accounts in one storage database.
type Store struct {
	db         *storage.Store
	audit      *audit.Log
	shares     *share.Manager
	mfa        mfa.Store
	params     crypto.Params
	loginDelay time.Duration
	verifyMFA  func(secret, code string) bool
	logger     logging.Logger
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithParams sets the Argon2id parameters used for new blobs and verifiers.
func WithParams(p crypto.Params) Option {
	return func(s *Store) { s.params = p }
}

// WithLoginDelay sets the pause before each login check.
func WithLoginDelay(d time.Duration) Option {
	return func(s *Store) { s.loginDelay = d }
}

func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source for records, shares and MFA checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithShareManager replaces the default share manager.
func WithShareManager(m *share.Manager) Option {
	return func(s *Store) { s.shares = m }
}

// WithMFAVerifier replaces TOTP code verification.
func WithMFAVerifier(fn func(secret, code string) bool) Option {
	return func(s *Store) { s.verifyMFA = fn }
}

// NewStore returns a Store over db that appends to log.
func NewStore(db *storage.Store, log *audit.Log, opts ...Option) *Store {
	s := &Store{
		db:         db,
		audit:      log,
		params:     crypto.DefaultParams,
		loginDelay: DefaultLoginDelay,
		logger:     logging.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.shares == nil {
		s.shares = share.New(db, share.Options{Now: s.now})
	}
	if s.verifyMFA == nil {
		s.verifyMFA = func(secret, code string) bool {
			return mfa.VerifyAt(secret, code, s.now())
		}
	}
	return s
}

// Audit returns the audit log the store appends to.
func (s *Store) Audit() *audit.Log { return s.audit }

// Shares returns the share link manager.
func (s *Store) Shares() *share.Manager { return s.shares }

// CreateAccount registers username with an empty vault.
func (s *Store) CreateAccount(ctx context.Context, username, password, confirm string) error {
	username = strings.TrimSpace(username)
	if utf8.RuneCountInString(username) < MinUsernameLength {
		return ErrUsernameTooShort
	}
	if err := checkNewPassword(password, confirm); err != nil {
		return err
	}

	accounts, err := loadAccounts(ctx, s.db.DB())
	if err != nil {
		return err
	}
	if _, exists := accounts[username]; exists {
		return ErrAccountExists
	}

	pw := []byte(password)
	defer crypto.SecureWipe(pw)

	acct := &Account{
		Username:       username,
		ProfilePicture: DefaultProfilePicture,
		CreatedAt:      s.now().UTC(),
	}
	if err := acct.setPassword(pw, s.params); err != nil {
		return err
	}
	if acct.EncryptedVault, err = sealRecords(pw, []model.Record{}, s.params); err != nil {
		return err
	}

	return s.db.WithTx(ctx, func(ctx context.Context, tx storage.DBTX) error {
		accounts, err := loadAccounts(ctx, tx)
		if err != nil {
			return err
		}
		if _, exists := accounts[username]; exists {
			return ErrAccountExists
		}
		accounts[username] = acct
		if err := saveAccounts(ctx, tx, accounts); err != nil {
			return err
		}
		_, err = s.audit.RecordTx(ctx, tx, "Created account "+username)
		return err
	})
}

// Unlock verifies password and opens the account's vault. A blob that fails
// to open does not fail the call: the result has OutcomeCorrupted, no
// records, and the blob is copied to the account's quarantine key.
func (s *Store) Unlock(ctx context.Context, username, password string) (*Unlocked, error) {
	var u *Unlocked
	err := s.db.WithTx(ctx, func(ctx context.Context, tx storage.DBTX) error {
		var err error
		u, _, err = s.unlockTx(ctx, tx, username, []byte(password))
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) unlockTx(ctx context.Context, tx storage.DBTX, username string, password []byte) (*Unlocked, *Account, error) {
	accounts, err := loadAccounts(ctx, tx)
	if err != nil {
		return nil, nil, err
	}
	acct, ok := accounts[username]
	if !ok {
		return nil, nil, ErrAccountNotFound
	}
	if !acct.checkPassword(password) {
		return nil, nil, ErrInvalidPassword
	}

	u := &Unlocked{Account: acct.info(), Records: []model.Record{}, Outcome: OutcomeEmpty}
	if len(acct.EncryptedVault) == 0 {
		return u, acct, nil
	}

	records, err := openRecords(password, acct.EncryptedVault)
	if err != nil {
		u.Outcome = OutcomeCorrupted
		if err := storage.Put(ctx, tx, storage.QuarantinePrefix+username, acct.EncryptedVault); err != nil {
			return nil, nil, err
		}
		s.logger.Warn(ctx, "vault could not be opened, blob quarantined", "user", username, "error", err)
		return u, acct, nil
	}
	if len(records) > 0 {
		u.Records = records
		u.Outcome = OutcomeOK
	}
	return u, acct, nil
}

// Save seals records as username's vault, replacing the previous blob.
func (s *Store) Save(ctx context.Context, username, password string, records []model.Record) error {
	pw := []byte(password)
	return s.db.WithTx(ctx, func(ctx context.Context, tx storage.DBTX) error {
		accounts, err := loadAccounts(ctx, tx)
		if err != nil {
			return err
		}
		acct, ok := accounts[username]
		if !ok {
			return ErrAccountNotFound
		}
		if !acct.checkPassword(pw) {
			return ErrInvalidPassword
		}
		return s.saveTx(ctx, tx, username, pw, records)
	})
}

func (s *Store) saveTx(ctx context.Context, tx storage.DBTX, username string, password []byte, records []model.Record) error {
	accounts, err := loadAccounts(ctx, tx)
	if err != nil {
		return err
	}
	acct, ok := accounts[username]
	if !ok {
		return ErrAccountNotFound
	}
	if records == nil {
		records = []model.Record{}
	}
	blob, err := sealRecords(password, records, s.params)
	if err != nil {
		return err
	}
	acct.EncryptedVault = blob
	return saveAccounts(ctx, tx, accounts)
}

// Rekey re-encrypts username's vault under newPassword. It fails with
// ErrInvalidPassword when oldPassword is wrong or the vault cannot be opened
// with it.
func (s *Store) Rekey(ctx context.Context, username, oldPassword, newPassword, confirm string) error {
	if err := checkNewPassword(newPassword, confirm); err != nil {
		return err
	}
	oldPw, newPw := []byte(oldPassword), []byte(newPassword)
	defer crypto.SecureWipe(oldPw)
	defer crypto.SecureWipe(newPw)

	return s.db.WithTx(ctx, func(ctx context.Context, tx storage.DBTX) error {
		accounts, err := loadAccounts(ctx, tx)
		if err != nil {
			return err
		}
		acct, ok := accounts[username]
		if !ok {
			return ErrAccountNotFound
		}
		if !acct.checkPassword(oldPw) {
			return ErrInvalidPassword
		}

		records := []model.Record{}
		if len(acct.EncryptedVault) > 0 {
			if records, err = openRecords(oldPw, acct.EncryptedVault); err != nil {
				return ErrInvalidPassword
			}
		}

		if err := acct.setPassword(newPw, s.params); err != nil {
			return err
		}
		if acct.EncryptedVault, err = sealRecords(newPw, records, s.params); err != nil {
			return err
		}
		if err := saveAccounts(ctx, tx, accounts); err != nil {
			return err
		}
		_, err = s.audit.RecordTx(ctx, tx, "Reset master password")
		return err
	})
}

// DeleteAccount removes username after verifying password, together with
// its MFA secret, its quarantined blob and the last-user marker if it names
// the account.
func (s *Store) DeleteAccount(ctx context.Context, username, password string) error {
	pw := []byte(password)
	return s.db.WithTx(ctx, func(ctx context.Context, tx storage.DBTX) error {
		accounts, err := loadAccounts(ctx, tx)
		if err != nil {
			return err
		}
		acct, ok := accounts[username]
		if !ok {
			return ErrAccountNotFound
		}
		if !acct.checkPassword(pw) {
			return ErrInvalidPassword
		}

		delete(accounts, username)
		if err := saveAccounts(ctx, tx, accounts); err != nil {
			return err
		}
		if err := s.mfa.Delete(ctx, tx, username); err != nil {
			return err
		}
		if err := storage.Delete(ctx, tx, storage.QuarantinePrefix+username); err != nil {
			return err
		}
		last, err := storage.Get(ctx, tx, storage.KeyLastUser)
		if err != nil {
			return err
		}
		if string(last) == username {
			if err := storage.Delete(ctx, tx, storage.KeyLastUser); err != nil {
				return err
			}
		}
		_, err = s.audit.RecordTx(ctx, tx, "Deleted account "+username)
		return err
	})
}

// DeleteAllAccounts removes every account after verifying currentUser's
// password. Share links and the audit log are kept.
func (s *Store) DeleteAllAccounts(ctx context.Context, currentUser, password string) error {
	pw := []byte(password)
	return s.db.WithTx(ctx, func(ctx context.Context, tx storage.DBTX) error {
		accounts, err := loadAccounts(ctx, tx)
		if err != nil {
			return err
		}
		acct, ok := accounts[currentUser]
		if !ok {
			return ErrAccountNotFound
		}
		if !acct.checkPassword(pw) {
			return ErrInvalidPassword
		}

		for name := range accounts {
			if err := storage.Delete(ctx, tx, storage.QuarantinePrefix+name); err != nil {
				return err
			}
		}
		for _, key := range []string{storage.KeyUsers, storage.KeyLastUser} {
			if err := storage.Delete(ctx, tx, key); err != nil {
				return err
			}
		}
		if err := s.mfa.DeleteAll(ctx, tx); err != nil {
			return err
		}
		_, err = s.audit.RecordTx(ctx, tx, "Deleted all accounts")
		return err
	})
}

// Wipe erases all data after verifying currentUser's password: accounts,
// quarantined blobs, MFA secrets, categories, share links, preferences and
// the audit log. The audit log restarts with the wipe entry.
func (s *Store) Wipe(ctx context.Context, currentUser, password string) error {
	pw := []byte(password)
	return s.db.WithTx(ctx, func(ctx context.Context, tx storage.DBTX) error {
		accounts, err := loadAccounts(ctx, tx)
		if err != nil {
			return err
		}
		acct, ok := accounts[currentUser]
		if !ok {
			return ErrAccountNotFound
		}
		if !acct.checkPassword(pw) {
			return ErrInvalidPassword
		}

		for name := range accounts {
			if err := storage.Delete(ctx, tx, storage.QuarantinePrefix+name); err != nil {
				return err
			}
		}
		for _, key := range []string{
			storage.KeyUsers, storage.KeyLastUser, storage.KeyCategories,
			storage.KeyShareLinks, storage.KeyTheme,
		} {
			if err := storage.Delete(ctx, tx, key); err != nil {
				return err
			}
		}
		if err := s.mfa.DeleteAll(ctx, tx); err != nil {
			return err
		}
		if err := s.audit.WipeTx(ctx, tx); err != nil {
			return err
		}
		_, err = s.audit.RecordTx(ctx, tx, "Wiped all data")
		return err
	})
}

// SetProfilePicture stores an opaque avatar reference. An empty ref restores
// the default.
func (s *Store) SetProfilePicture(ctx context.Context, username, ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		ref = DefaultProfilePicture
	}
	return s.db.WithTx(ctx, func(ctx context.Context, tx storage.DBTX) error {
		accounts, err := loadAccounts(ctx, tx)
		if err != nil {
			return err
		}
		acct, ok := accounts[username]
		if !ok {
			return ErrAccountNotFound
		}
		acct.ProfilePicture = ref
		if err := saveAccounts(ctx, tx, accounts); err != nil {
			return err
		}
		_, err = s.audit.RecordTx(ctx, tx, "Changed profile picture")
		return err
	})
}

// Accounts lists all accounts ordered by username.
func (s *Store) Accounts(ctx context.Context) ([]AccountInfo, error) {
	accounts, err := loadAccounts(ctx, s.db.DB())
	if err != nil {
		return nil, err
	}
	out := make([]AccountInfo, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// Account returns the public view of username.
func (s *Store) Account(ctx context.Context, username string) (AccountInfo, error) {
	accounts, err := loadAccounts(ctx, s.db.DB())
	if err != nil {
		return AccountInfo{}, err
	}
	acct, ok := accounts[username]
	if !ok {
		return AccountInfo{}, ErrAccountNotFound
	}
	return acct.info(), nil
}

// VaultParams returns the KDF parameters username's vault blob was sealed
// with. They lag the configured parameters until the next save or rekey.
func (s *Store) VaultParams(ctx context.Context, username string) (crypto.Params, error) {
	accounts, err := loadAccounts(ctx, s.db.DB())
	if err != nil {
		return crypto.Params{}, err
	}
	acct, ok := accounts[username]
	if !ok {
		return crypto.Params{}, ErrAccountNotFound
	}
	p, err := crypto.BlobParams(acct.EncryptedVault)
	if err != nil {
		return crypto.Params{}, fmt.Errorf("vault: %s: %w", username, err)
	}
	return p, nil
}

// LastUser returns the most recently logged-in username, or "".
func (s *Store) LastUser(ctx context.Context) (string, error) {
	v, err := storage.Get(ctx, s.db.DB(), storage.KeyLastUser)
	return string(v), err
}

// Theme returns the stored theme preference.
func (s *Store) Theme(ctx context.Context) (string, error) {
	v, err := storage.Get(ctx, s.db.DB(), storage.KeyTheme)
	if err != nil || len(v) == 0 {
		return DefaultTheme, err
	}
	return string(v), nil
}

// SetTheme stores an opaque theme preference.
func (s *Store) SetTheme(ctx context.Context, theme string) error {
	theme = strings.TrimSpace(theme)
	if theme == "" {
		theme = DefaultTheme
	}
	return storage.Put(ctx, s.db.DB(), storage.KeyTheme, []byte(theme))
}

// Categories returns the category list shared by all accounts.
func (s *Store) Categories(ctx context.Context) ([]string, error) {
	return loadCategories(ctx, s.db.DB())
}

// EnrollMFA generates a TOTP secret for username and stores it pending
// confirmation. MFA stays disabled until EnableMFA accepts a code.
func (s *Store) EnrollMFA(ctx context.Context, username string) (*mfa.Enrollment, error) {
	enrollment, err := mfa.Enroll(username)
	if err != nil {
		return nil, err
	}
	err = s.db.WithTx(ctx, func(ctx context.Context, tx storage.DBTX) error {
		accounts, err := loadAccounts(ctx, tx)
		if err != nil {
			return err
		}
		acct, ok := accounts[username]
		if !ok {
			return ErrAccountNotFound
		}
		if acct.MFAEnabled {
			acct.MFAEnabled = false
			if err := saveAccounts(ctx, tx, accounts); err != nil {
				return err
			}
		}
		return s.mfa.Put(ctx, tx, username, enrollment.Secret)
	})
	if err != nil {
		return nil, err
	}
	return enrollment, nil
}

// EnableMFA turns on MFA for username once code matches the pending secret.
func (s *Store) EnableMFA(ctx context.Context, username, code string) error {
	return s.db.WithTx(ctx, func(ctx context.Context, tx storage.DBTX) error {
		accounts, err := loadAccounts(ctx, tx)
		if err != nil {
			return err
		}
		acct, ok := accounts[username]
		if !ok {
			return ErrAccountNotFound
		}
		secret, err := s.mfa.Get(ctx, tx, username)
		if errors.Is(err, mfa.ErrNoSecret) {
			return ErrMFANotEnrolled
		}
		if err != nil {
			return err
		}
		if !s.verifyMFA(secret, code) {
			return ErrInvalidMFACode
		}
		acct.MFAEnabled = true
		if err := saveAccounts(ctx, tx, accounts); err != nil {
			return err
		}
		_, err = s.audit.RecordTx(ctx, tx, "Enabled MFA")
		return err
	})
}

// Login waits the login delay, verifies the credentials and, for accounts
// with MFA, the one-time code, then opens a Session.
func (s *Store) Login(ctx context.Context, username, password, code string) (*Session, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	pw := []byte(password)
	var u *Unlocked
	err := s.db.WithTx(ctx, func(ctx context.Context, tx storage.DBTX) error {
		var (
			acct *Account
			err  error
		)
		u, acct, err = s.unlockTx(ctx, tx, username, pw)
		if err != nil {
			return err
		}
		if acct.MFAEnabled {
			if strings.TrimSpace(code) == "" {
				return ErrMFARequired
			}
			secret, err := s.mfa.Get(ctx, tx, username)
			if err != nil && !errors.Is(err, mfa.ErrNoSecret) {
				return err
			}
			if !s.verifyMFA(secret, code) {
				return ErrInvalidMFACode
			}
		}
		if err := storage.Put(ctx, tx, storage.KeyLastUser, []byte(username)); err != nil {
			return err
		}
		_, err = s.audit.RecordTx(ctx, tx, "Logged in as "+username)
		return err
	})
	if err != nil {
		crypto.SecureWipe(pw)
		if IsAuthError(err) {
			s.logger.Info(ctx, "login rejected", "user", username, "reason", err)
		}
		return nil, err
	}

	for _, w := range s.db.InsecurePermissions() {
		s.logger.Warn(ctx, w)
	}
	return newSession(s, u, pw), nil
}

func (s *Store) wait(ctx context.Context) error {
	if s.loginDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.loginDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func checkNewPassword(password, confirm string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if password != confirm {
		return ErrPasswordMismatch
	}
	return nil
}

func loadAccounts(ctx context.Context, q storage.DBTX) (map[string]*Account, error) {
	accounts := make(map[string]*Account)
	if _, err := storage.GetJSON(ctx, q, storage.KeyUsers, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func saveAccounts(ctx context.Context, q storage.DBTX, accounts map[string]*Account) error {
	return storage.PutJSON(ctx, q, storage.KeyUsers, accounts)
}

func loadCategories(ctx context.Context, q storage.DBTX) ([]string, error) {
	var categories []string
	found, err := storage.GetJSON(ctx, q, storage.KeyCategories, &categories)
	if err != nil {
		return nil, err
	}
	if !found {
		return append([]string(nil), model.DefaultCategories...), nil
	}
	return categories, nil
}

func sealRecords(password []byte, records []model.Record, p crypto.Params) ([]byte, error) {
	plaintext, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to encode records: %w", err)
	}
	defer crypto.SecureWipe(plaintext)
	return crypto.Seal(password, plaintext, p)
}

// openRecords decrypts and decodes a vault blob. Records written before ids
// existed are given one.
func openRecords(password, blob []byte) ([]model.Record, error) {
	plaintext, err := crypto.Open(password, blob)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(plaintext)

	var records []model.Record
	if err := json.Unmarshal(plaintext, &records); err != nil {
		return nil, fmt.Errorf("vault: failed to decode records: %w", err)
	}
	for i := range records {
		if records[i].ID == "" {
			records[i].ID = model.NewID()
		}
		if err := records[i].Validate(); err != nil {
			return nil, err
		}
	}
	return records, nil
}
