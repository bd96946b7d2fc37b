package vault

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anima-vault/anima/pkg/backup"
	"github.com/anima-vault/anima/pkg/importer"
	"github.com/anima-vault/anima/pkg/model"
	"github.com/anima-vault/anima/pkg/share"
)

func newSessionEnv(t *testing.T) (*testEnv, *Session) {
	t.Helper()
	env := newTestEnv(t)
	env.createAccount(t, testUser)
	return env, env.login(t, testUser)
}

func addRecord(t *testing.T, s *Session, site, secret string) model.Record {
	t.Helper()
	rec, err := s.Add(context.Background(), RecordInput{Site: site, Username: "user", Secret: secret, Category: "Work"})
	require.NoError(t, err)
	return rec
}

func TestSessionAdd(t *testing.T) {
	ctx := context.Background()
	env, s := newSessionEnv(t)
	before := env.auditCount(t)

	rec, err := s.Add(ctx, RecordInput{
		Site: " github.com ", Username: "octo", Note: "octo@example.com",
		Category: "Work", Secret: "Hunter2!", ExpirationDays: 90,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "github.com", rec.Site)
	assert.Equal(t, model.KindPassword, rec.Kind)
	assert.Equal(t, env.clock.Now(), rec.CreatedAt)
	assert.Equal(t, before+1, env.auditCount(t))
	assert.Equal(t, "Added password for github.com", env.lastAction(t))

	u, err := env.store.Unlock(ctx, testUser, testPass)
	require.NoError(t, err)
	require.Len(t, u.Records, 1)
	assert.Equal(t, rec.ID, u.Records[0].ID)
}

func TestSessionAddRejections(t *testing.T) {
	ctx := context.Background()
	env, s := newSessionEnv(t)
	before := env.auditCount(t)

	tests := []struct {
		name string
		in   RecordInput
		want error
	}{
		{"missing site", RecordInput{Username: "u", Secret: "p"}, ErrMissingField},
		{"missing username", RecordInput{Site: "a", Secret: "p"}, ErrMissingField},
		{"blank secret", RecordInput{Site: "a", Username: "u", Secret: "  "}, ErrMissingField},
		{"negative expiration", RecordInput{Site: "a", Username: "u", Secret: "p", ExpirationDays: -1}, ErrInvalidExpiration},
		{"unknown category", RecordInput{Site: "a", Username: "u", Secret: "p", Category: "Nope"}, ErrUnknownCategory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Add(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	records, err := s.Records()
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, before, env.auditCount(t))
}

func TestSessionAddWifi(t *testing.T) {
	ctx := context.Background()
	env, s := newSessionEnv(t)

	rec, err := s.AddWifi(ctx, WifiInput{SSID: "HomeNet", Password: "wifi-pass", Notes: "router upstairs"})
	require.NoError(t, err)
	assert.Equal(t, "WiFi: HomeNet", rec.Site)
	assert.Equal(t, DefaultWifiSecurity, rec.Username)
	assert.Equal(t, model.CategoryWifi, rec.Category)
	assert.Equal(t, model.KindWifi, rec.Kind)
	assert.Zero(t, rec.ExpirationDays)
	assert.Equal(t, "router upstairs", rec.Note)
	assert.Equal(t, "Added WiFi: HomeNet", env.lastAction(t))

	rec, err = s.AddWifi(ctx, WifiInput{SSID: "Office", Password: "x", Security: "WPA3"})
	require.NoError(t, err)
	assert.Equal(t, "WPA3", rec.Username)

	_, err = s.AddWifi(ctx, WifiInput{SSID: " ", Password: "x"})
	assert.ErrorIs(t, err, ErrMissingSSID)
}

func TestSessionEdit(t *testing.T) {
	ctx := context.Background()
	env, s := newSessionEnv(t)
	rec := addRecord(t, s, "a.com", "old-secret")

	env.clock.Advance(48 * time.Hour)
	edited, err := s.Edit(ctx, rec.ID, RecordInput{Site: "a.com", Username: "new-user", Secret: "old-secret", Category: "Work"})
	require.NoError(t, err)
	assert.Equal(t, "new-user", edited.Username)
	assert.Equal(t, rec.CreatedAt, edited.CreatedAt, "same secret keeps rotation age")
	assert.Equal(t, "Edited password for a.com", env.lastAction(t))

	edited, err = s.Edit(ctx, rec.ID, RecordInput{Site: "a.com", Username: "new-user", Secret: "new-secret", Category: "Work"})
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now(), edited.CreatedAt, "new secret restarts rotation")
	assert.Equal(t, rec.ID, edited.ID)

	before := env.auditCount(t)
	_, err = s.Edit(ctx, "missing", RecordInput{Site: "a", Username: "u", Secret: "p"})
	assert.ErrorIs(t, err, ErrRecordNotFound)
	_, err = s.Edit(ctx, rec.ID, RecordInput{Site: "", Username: "u", Secret: "p"})
	assert.ErrorIs(t, err, ErrMissingField)
	assert.Equal(t, before, env.auditCount(t))
}

func TestSessionDelete(t *testing.T) {
	ctx := context.Background()
	env, s := newSessionEnv(t)
	a := addRecord(t, s, "a.com", "p1")
	b := addRecord(t, s, "b.com", "p2")

	require.NoError(t, s.Delete(ctx, a.ID))
	assert.Equal(t, "Deleted password for a.com", env.lastAction(t))

	records, err := s.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, b.ID, records[0].ID)

	before := env.auditCount(t)
	assert.ErrorIs(t, s.Delete(ctx, a.ID), ErrRecordNotFound)
	assert.Equal(t, before, env.auditCount(t))

	require.NoError(t, s.DeleteAll(ctx))
	assert.Equal(t, "Deleted all passwords", env.lastAction(t))
	records, err = s.Records()
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, OutcomeEmpty, s.Outcome())
}

func TestSessionMove(t *testing.T) {
	ctx := context.Background()
	env, s := newSessionEnv(t)
	a := addRecord(t, s, "a.com", "p1")
	b := addRecord(t, s, "b.com", "p2")
	c := addRecord(t, s, "c.com", "p3")

	require.NoError(t, s.Move(ctx, c.ID, 0))
	assert.Equal(t, "Reordered passwords", env.lastAction(t))
	assertOrder(t, s, c.ID, a.ID, b.ID)

	require.NoError(t, s.Move(ctx, c.ID, 2))
	assertOrder(t, s, a.ID, b.ID, c.ID)

	u, err := env.store.Unlock(ctx, testUser, testPass)
	require.NoError(t, err)
	require.Len(t, u.Records, 3)
	assert.Equal(t, c.ID, u.Records[2].ID, "order is persisted")

	before := env.auditCount(t)
	assert.ErrorIs(t, s.Move(ctx, a.ID, 3), ErrInvalidIndex)
	assert.ErrorIs(t, s.Move(ctx, a.ID, -1), ErrInvalidIndex)
	assert.ErrorIs(t, s.Move(ctx, "missing", 0), ErrRecordNotFound)
	assert.Equal(t, before, env.auditCount(t))
}

func assertOrder(t *testing.T, s *Session, ids ...string) {
	t.Helper()
	records, err := s.Records()
	require.NoError(t, err)
	require.Len(t, records, len(ids))
	for i, id := range ids {
		assert.Equal(t, id, records[i].ID, "position %d", i)
	}
}

func TestSessionRecordsAreCopies(t *testing.T) {
	_, s := newSessionEnv(t)
	rec := addRecord(t, s, "a.com", "p1")

	records, err := s.Records()
	require.NoError(t, err)
	records[0].Secret = "tampered"

	got, err := s.Record(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "p1", got.Secret)
}

func TestSessionCategories(t *testing.T) {
	ctx := context.Background()
	env, s := newSessionEnv(t)

	categories, err := s.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultCategories, categories)

	require.NoError(t, s.AddCategory(ctx, "Travel"))
	assert.Equal(t, "Added category Travel", env.lastAction(t))

	before := env.auditCount(t)
	assert.ErrorIs(t, s.AddCategory(ctx, "travel"), ErrDuplicateCategory)
	assert.ErrorIs(t, s.AddCategory(ctx, " "), ErrInvalidCategory)
	assert.Equal(t, before, env.auditCount(t))

	_, err = s.Add(ctx, RecordInput{Site: "trip.com", Username: "u", Secret: "p", Category: "Travel"})
	require.NoError(t, err)

	before = env.auditCount(t)
	assert.ErrorIs(t, s.DeleteCategory(ctx, "Travel"), ErrCannotDelete)
	assert.ErrorIs(t, s.DeleteCategory(ctx, "Missing"), ErrCategoryNotFound)
	assert.Equal(t, before, env.auditCount(t))

	require.NoError(t, s.DeleteCategory(ctx, "Shopping"))
	assert.Equal(t, "Deleted category Shopping", env.lastAction(t))

	categories, err = s.Categories(ctx)
	require.NoError(t, err)
	assert.NotContains(t, categories, "Shopping")
	assert.Contains(t, categories, "Travel")
}

func TestCategoriesAreSharedAcrossAccounts(t *testing.T) {
	ctx := context.Background()
	env, alice := newSessionEnv(t)
	env.createAccount(t, "bob")
	bob := env.login(t, "bob")

	require.NoError(t, alice.AddCategory(ctx, "Gaming"))
	categories, err := bob.Categories(ctx)
	require.NoError(t, err)
	assert.Contains(t, categories, "Gaming")

	// Only the deleting session's vault is checked.
	_, err = alice.Add(ctx, RecordInput{Site: "steam", Username: "u", Secret: "p", Category: "Gaming"})
	require.NoError(t, err)
	require.NoError(t, bob.DeleteCategory(ctx, "Gaming"))
}

func TestSessionImportCSV(t *testing.T) {
	ctx := context.Background()
	env, s := newSessionEnv(t)
	before := env.auditCount(t)

	data := "name,url,username,password\n" +
		"GitHub,https://github.com,octo,pw1\n" +
		"NoPass,https://nopass.com,user,\n" +
		",,someone,pw3\n" +
		"Bank,,me,pw4\n"
	result, err := s.ImportCSV(ctx, strings.NewReader(data), importer.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.ImportedCount)
	assert.Equal(t, 2, result.SkippedCount)
	assert.Equal(t, []int{3, 4}, result.ProblemRows)

	assert.Equal(t, before+1, env.auditCount(t))
	assert.Equal(t, "Imported 2 passwords from CSV", env.lastAction(t))

	records, err := s.Records()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "GitHub", records[0].Site)
	assert.Equal(t, model.CategoryImported, records[0].Category)
	assert.Equal(t, 90, records[0].ExpirationDays)
	assert.Equal(t, env.clock.Now(), records[0].CreatedAt)
}

func TestSessionImportCSVNothingValid(t *testing.T) {
	ctx := context.Background()
	env, s := newSessionEnv(t)
	before := env.auditCount(t)

	result, err := s.ImportCSV(ctx, strings.NewReader("name,password\nA,\nB,\n"), importer.Options{})
	assert.ErrorIs(t, err, importer.ErrNoValidRows)
	require.NotNil(t, result)
	assert.Equal(t, 2, result.SkippedCount)

	result, err = s.ImportCSV(ctx, strings.NewReader("url,username,password\n"), importer.Options{})
	assert.ErrorIs(t, err, importer.ErrNoValidRows)
	require.NotNil(t, result)
	assert.Zero(t, result.ImportedCount)

	_, err = s.ImportCSV(ctx, strings.NewReader("\n  \n"), importer.Options{})
	assert.ErrorIs(t, err, importer.ErrNoData)

	assert.Equal(t, before, env.auditCount(t))
}

func TestSessionImportCSVAddsCategories(t *testing.T) {
	ctx := context.Background()
	_, s := newSessionEnv(t)

	_, err := s.ImportCSV(ctx, strings.NewReader("name,password,category\nSteam,pw,Gaming\n"), importer.Options{})
	require.NoError(t, err)

	categories, err := s.Categories(ctx)
	require.NoError(t, err)
	assert.Contains(t, categories, "Gaming")
}

// logoutReader logs the session out while its input is being read.
type logoutReader struct {
	s    *Session
	r    io.Reader
	done bool
}

func (l *logoutReader) Read(p []byte) (int, error) {
	if !l.done {
		l.done = true
		_ = l.s.Logout(context.Background())
	}
	return l.r.Read(p)
}

func TestSessionImportAfterLogout(t *testing.T) {
	ctx := context.Background()
	env, s := newSessionEnv(t)

	r := &logoutReader{s: s, r: strings.NewReader("name,password\nA,pw\n")}
	_, err := s.ImportCSV(ctx, r, importer.Options{})
	assert.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, "Logged out", env.lastAction(t))

	u, err := env.store.Unlock(ctx, testUser, testPass)
	require.NoError(t, err)
	assert.Empty(t, u.Records)
}

func TestSessionBackupRestore(t *testing.T) {
	ctx := context.Background()
	env, s := newSessionEnv(t)
	a := addRecord(t, s, "a.com", "p1")
	addRecord(t, s, "b.com", "p2")

	blob, name, err := s.Backup(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "anima_backup_alice.enc", name)
	assert.Equal(t, "Backed up vault", env.lastAction(t))

	h, err := backup.Inspect(blob)
	require.NoError(t, err)
	assert.Equal(t, 2, h.RecordCount)
	assert.Equal(t, testUser, h.Username)

	require.NoError(t, s.DeleteAll(ctx))

	before := env.auditCount(t)
	_, err = s.Restore(ctx, blob, "wrong-passphrase")
	assert.ErrorIs(t, err, backup.ErrImport)
	_, err = s.Restore(ctx, []byte("garbage"), "")
	assert.ErrorIs(t, err, backup.ErrImport)
	assert.Equal(t, before, env.auditCount(t))

	n, err := s.Restore(ctx, blob, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "Restored vault", env.lastAction(t))

	got, err := s.Record(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "p1", got.Secret)
}

func TestSessionBackupCustomPassphrase(t *testing.T) {
	ctx := context.Background()
	_, s := newSessionEnv(t)
	addRecord(t, s, "a.com", "p1")

	blob, _, err := s.Backup(ctx, "separate-passphrase")
	require.NoError(t, err)

	_, err = backup.Import(blob, []byte(testPass))
	assert.ErrorIs(t, err, backup.ErrImport)
	records, err := backup.Import(blob, []byte("separate-passphrase"))
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSessionShare(t *testing.T) {
	ctx := context.Background()
	env, s := newSessionEnv(t)
	rec := addRecord(t, s, "a.com", "shared-secret")

	link, url, err := s.Share(ctx, rec.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, "Shared password for a.com", env.lastAction(t))
	assert.Equal(t, share.DefaultBaseURL+"#"+link.ID, url)

	id, err := share.ParseURL(url)
	require.NoError(t, err)
	got, err := env.store.Shares().Resolve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "shared-secret", got.Secret)

	before := env.auditCount(t)
	_, _, err = s.Share(ctx, "missing", 7)
	assert.ErrorIs(t, err, ErrRecordNotFound)
	_, _, err = s.Share(ctx, rec.ID, -1)
	assert.ErrorIs(t, err, share.ErrInvalidValidity)
	assert.Equal(t, before, env.auditCount(t))
}

func TestSessionShareZeroDays(t *testing.T) {
	ctx := context.Background()
	env, s := newSessionEnv(t)
	rec := addRecord(t, s, "a.com", "p1")

	link, _, err := s.Share(ctx, rec.ID, 0)
	require.NoError(t, err)

	_, err = env.store.Shares().Resolve(ctx, link.ID)
	assert.ErrorIs(t, err, share.ErrExpired)
	_, err = env.store.Shares().Resolve(ctx, link.ID)
	assert.ErrorIs(t, err, share.ErrNotFound)
}

func TestSessionAutofill(t *testing.T) {
	ctx := context.Background()
	env, s := newSessionEnv(t)
	rec := addRecord(t, s, "a.com", "fill-me")

	secret, err := s.Autofill(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "fill-me", secret)
	assert.Equal(t, "Auto-filled password for a.com", env.lastAction(t))

	_, err = s.Autofill(ctx, "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestSessionHealthAndExpiring(t *testing.T) {
	ctx := context.Background()
	env, s := newSessionEnv(t)

	_, err := s.Add(ctx, RecordInput{Site: "a", Username: "u", Secret: "Passw0rd!", Category: "Work", ExpirationDays: 10})
	require.NoError(t, err)
	_, err = s.Add(ctx, RecordInput{Site: "b", Username: "u", Secret: "password", Category: "Work", ExpirationDays: 30})
	require.NoError(t, err)
	_, err = s.Add(ctx, RecordInput{Site: "c", Username: "u", Secret: "password", Category: "Work"})
	require.NoError(t, err)

	env.clock.Advance(12 * 24 * time.Hour)

	h, err := s.Health()
	require.NoError(t, err)
	assert.Equal(t, 3, h.Total)
	assert.Equal(t, 1, h.Strong)
	assert.Equal(t, 2, h.Weak)
	assert.Equal(t, 1, h.Reused)
	assert.Equal(t, 1, h.Expired)

	expiring, err := s.Expiring(30)
	require.NoError(t, err)
	require.Len(t, expiring, 2)
	assert.Equal(t, "a", expiring[0].Record.Site)
	assert.Equal(t, -2, expiring[0].DaysRemaining)

	report, err := s.Report(14)
	require.NoError(t, err)
	assert.NotEmpty(t, report.Issues)
}

func TestSessionRekey(t *testing.T) {
	ctx := context.Background()
	env, s := newSessionEnv(t)
	addRecord(t, s, "a.com", "p1")

	const newPass = "brand-new-pass"
	assert.ErrorIs(t, s.Rekey(ctx, "short", "short"), ErrPasswordTooShort)
	require.NoError(t, s.Rekey(ctx, newPass, newPass))

	// Later saves use the new password.
	addRecord(t, s, "b.com", "p2")
	u, err := env.store.Unlock(ctx, testUser, newPass)
	require.NoError(t, err)
	assert.Len(t, u.Records, 2)
}

func TestSessionProfileAndMFA(t *testing.T) {
	ctx := context.Background()
	_, s := newSessionEnv(t)

	require.NoError(t, s.SetProfilePicture(ctx, "pic.png"))
	info, err := s.Account(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pic.png", info.ProfilePicture)

	enrollment, err := s.EnrollMFA(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(enrollment.URI, "otpauth://totp/"))
	assert.ErrorIs(t, s.EnableMFA(ctx, "not-a-code"), ErrInvalidMFACode)
}

func TestSessionLogout(t *testing.T) {
	ctx := context.Background()
	env, s := newSessionEnv(t)
	rec := addRecord(t, s, "a.com", "p1")

	require.NoError(t, s.Logout(ctx))
	assert.Equal(t, "Logged out", env.lastAction(t))
	assert.False(t, s.IsOpen())
	before := env.auditCount(t)

	_, err := s.Records()
	assert.ErrorIs(t, err, ErrLocked)
	_, err = s.Record(rec.ID)
	assert.ErrorIs(t, err, ErrLocked)
	_, err = s.Add(ctx, RecordInput{Site: "b", Username: "u", Secret: "p"})
	assert.ErrorIs(t, err, ErrLocked)
	assert.ErrorIs(t, s.Delete(ctx, rec.ID), ErrLocked)
	assert.ErrorIs(t, s.Logout(ctx), ErrLocked)
	_, _, err = s.Backup(ctx, "")
	assert.ErrorIs(t, err, ErrLocked)
	_, err = s.Health()
	assert.ErrorIs(t, err, ErrLocked)

	assert.Equal(t, before, env.auditCount(t))
}
