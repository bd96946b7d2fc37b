package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/anima-vault/anima/internal/config"
	"github.com/anima-vault/anima/pkg/audit"
	"github.com/anima-vault/anima/pkg/importer"
	"github.com/anima-vault/anima/pkg/model"
	"github.com/anima-vault/anima/pkg/share"
	"github.com/anima-vault/anima/pkg/vault"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{vault.ErrInvalidPassword, "Invalid password"},
		{fmt.Errorf("wrapped: %w", vault.ErrAccountNotFound), "Username not found"},
		{share.ErrExpired, "Share link expired"},
		{share.ErrNotFound, "Share link not found"},
		{vault.ErrCannotDelete, "Category is in use and cannot be deleted"},
		{importer.ErrNoValidRows, "No valid passwords found in CSV"},
		{vault.ErrMissingField, "site, username and password are required"},
		{context.Canceled, "Cancelled"},
		{errors.New("something else"), "something else"},
	}
	for _, tt := range tests {
		if got := errorMessage(tt.err); got != tt.want {
			t.Errorf("errorMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestResolveRecord(t *testing.T) {
	records := []model.Record{
		{ID: "aaaa1111-0000", Site: "a"},
		{ID: "aaaa2222-0000", Site: "b"},
		{ID: "bbbb3333-0000", Site: "c"},
	}

	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr bool
	}{
		{"exact id", "aaaa2222-0000", "b", false},
		{"unique prefix", "bbbb", "c", false},
		{"ambiguous prefix", "aaaa", "", true},
		{"position", "2", "b", false},
		{"position out of range", "4", "", true},
		{"unknown", "zzzz", "", true},
		{"blank", " ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveRecord(records, tt.ref)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolveRecord(%q) error = %v, wantErr %v", tt.ref, err, tt.wantErr)
			}
			if !tt.wantErr && got.Site != tt.want {
				t.Errorf("resolveRecord(%q) = %s, want %s", tt.ref, got.Site, tt.want)
			}
		})
	}

	if _, err := resolveRecord(records, "zzzz"); !errors.Is(err, vault.ErrRecordNotFound) {
		t.Errorf("resolveRecord() error = %v, want ErrRecordNotFound", err)
	}
}

func TestFilterRecords(t *testing.T) {
	records := []model.Record{
		{ID: "1", Site: "GitHub", Username: "octo", Category: "Work"},
		{ID: "2", Site: "Bank", Username: "me", Category: "Finance"},
		{ID: "3", Site: "gitlab.com", Username: "octo", Category: "Work"},
		{ID: "4", Site: "bank-savings", Username: "me", Category: "Finance"},
	}

	tests := []struct {
		name     string
		category string
		query    string
		want     []string
		wantErr  bool
	}{
		{name: "no filter", want: []string{"1", "2", "3", "4"}},
		{name: "category", category: "Work", want: []string{"1", "3"}},
		{name: "substring of username", query: "ME", want: []string{"2", "4"}},
		{name: "substring of site", query: "git", want: []string{"1", "3"}},
		{name: "wildcard prefix", query: "bank*", want: []string{"2", "4"}},
		{name: "wildcard suffix", query: "*.com", want: []string{"3"}},
		{name: "question mark", query: "git???", want: []string{"1"}},
		{name: "glob matches whole site", query: "git*b", want: []string{"1"}},
		{name: "glob with category", category: "Finance", query: "*", want: []string{"2", "4"}},
		{name: "no match", query: "nothing*", want: nil},
		{name: "invalid pattern", query: "[", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := filterRecords(records, tt.category, tt.query)
			if (err != nil) != tt.wantErr {
				t.Fatalf("filterRecords() error = %v, wantErr %v", err, tt.wantErr)
			}
			var ids []string
			for _, r := range got {
				ids = append(ids, r.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
				t.Errorf("filterRecords(%q, %q) = %v, want %v", tt.category, tt.query, ids, tt.want)
			}
		})
	}
}

func TestMatchPrefix(t *testing.T) {
	names := []string{"Work", "Wifi", "Finance"}
	if got := matchPrefix(names, "w"); strings.Join(got, ",") != "Work,Wifi" {
		t.Errorf("matchPrefix(w) = %v", got)
	}
	if got := matchPrefix(names, ""); len(got) != 3 {
		t.Errorf("matchPrefix(\"\") = %v", got)
	}
	if got := matchPrefix(names, "x"); got != nil {
		t.Errorf("matchPrefix(x) = %v, want nil", got)
	}
}

func TestExpiryLabel(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		days int
		want string
	}{
		{0, "never"},
		{5, "expired"},
		{9, "expired"},
		{10, "1 day"},
		{30, "21 days"},
	}
	for _, tt := range tests {
		r := model.Record{CreatedAt: created, ExpirationDays: tt.days}
		if got := expiryLabel(r, now); got != tt.want {
			t.Errorf("expiryLabel(%d days) = %q, want %q", tt.days, got, tt.want)
		}
	}
}

func TestLoginLabel(t *testing.T) {
	wifi := model.Record{Site: "WiFi: Home", Username: "WPA2", Kind: model.KindWifi}
	if got := loginLabel(wifi); got != "security WPA2" {
		t.Errorf("loginLabel(wifi) = %q", got)
	}
	pw := model.Record{Site: "a.com", Username: "octo"}
	if got := loginLabel(pw); got != "octo" {
		t.Errorf("loginLabel(password) = %q", got)
	}
}

func TestParseMapping(t *testing.T) {
	m, err := parseMapping("")
	if err != nil || m != nil {
		t.Fatalf("parseMapping(\"\") = %v, %v; want nil, nil", m, err)
	}

	m, err = parseMapping("url=0, username=1,password=2,note=none")
	if err != nil {
		t.Fatalf("parseMapping() error = %v", err)
	}
	if m.URL != 0 || m.Username != 1 || m.Password != 2 {
		t.Errorf("parseMapping() = %+v", m)
	}
	if m.Note != importer.ColumnNone {
		t.Errorf("Note = %d, want ColumnNone", m.Note)
	}
	if m.Name != importer.ColumnAuto || m.Category != importer.ColumnAuto {
		t.Errorf("unmapped fields should stay auto: %+v", m)
	}

	for _, bad := range []string{"url", "colour=1", "url=-3", "url=x"} {
		if _, err := parseMapping(bad); err == nil {
			t.Errorf("parseMapping(%q) expected error", bad)
		}
	}
}

func TestParseDelimiter(t *testing.T) {
	tests := []struct {
		in      string
		want    rune
		wantErr bool
	}{
		{"", 0, false},
		{",", ',', false},
		{";", ';', false},
		{"tab", '\t', false},
		{"|", '|', false},
		{",,", 0, true},
	}
	for _, tt := range tests {
		got, err := parseDelimiter(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseDelimiter(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"24h", 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"90m", 90 * time.Minute, false},
		{"", 0, true},
		{"xd", 0, true},
		{"-1h", 0, true},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseDuration(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestReadLineAndConfirm(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("alice\r\nyes\nno\nlast"))

	line, err := readLine(r, "")
	if err != nil || line != "alice" {
		t.Fatalf("readLine() = %q, %v", line, err)
	}
	if ok, err := confirm(r, "sure?"); err != nil || !ok {
		t.Errorf("confirm(yes) = %v, %v", ok, err)
	}
	if ok, err := confirm(r, "sure?"); err != nil || ok {
		t.Errorf("confirm(no) = %v, %v", ok, err)
	}
	if line, err := readLine(r, ""); err != nil || line != "last" {
		t.Errorf("readLine() at EOF = %q, %v", line, err)
	}
	if _, err := readLine(r, ""); err == nil {
		t.Error("readLine() on exhausted input should fail")
	}
}

func TestNeedsVault(t *testing.T) {
	if needsVault(generateCmd) {
		t.Error("generate should not open the vault")
	}
	if needsVault(completionCmd) {
		t.Error("completion should not open the vault")
	}
	if !needsVault(listCmd) {
		t.Error("list should open the vault")
	}
}

// run executes the CLI against home, the way main does.
func run(t *testing.T, home string, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(append([]string{"--home", home}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	closeApp()
	return err
}

func TestCLIEndToEnd(t *testing.T) {
	home := t.TempDir()
	cfg := config.Default(home)
	cfg.LoginDelay = 0
	cfg.KDF.Time, cfg.KDF.Memory, cfg.KDF.Threads = 1, 8, 1
	if err := config.Save(cfg); err != nil {
		t.Fatalf("config.Save() error = %v", err)
	}

	t.Setenv(config.EnvPassword, "correct-horse-1")
	envPassword = nil
	t.Cleanup(func() {
		envPassword = nil
		userFlag = ""
	})

	if err := run(t, home, "account", "create", "alice"); err != nil {
		t.Fatalf("account create: %v", err)
	}
	if err := run(t, home, "add", "--user", "alice", "--site", "github.com", "--username", "octo", "--category", "Work", "--generate"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := run(t, home, "category", "add", "Travel"); err != nil {
		t.Fatalf("category add: %v", err)
	}
	if err := run(t, home, "category", "delete", "Work"); !errors.Is(err, vault.ErrCannotDelete) {
		t.Errorf("category delete in use: error = %v, want ErrCannotDelete", err)
	}
	if err := run(t, home, "add", "--site", "x", "--username", "y", "--category", "Nope", "--generate"); !errors.Is(err, vault.ErrUnknownCategory) {
		t.Errorf("add with unknown category: error = %v, want ErrUnknownCategory", err)
	}

	csvPath := filepath.Join(t.TempDir(), "export.csv")
	csv := "name,url,username,password\nBank,https://bank.example,me,pw1\nEmpty,https://e.example,u,\n"
	if err := os.WriteFile(csvPath, []byte(csv), 0600); err != nil {
		t.Fatal(err)
	}
	if err := run(t, home, "import", csvPath); err != nil {
		t.Fatalf("import: %v", err)
	}

	backupPath := filepath.Join(t.TempDir(), "vault.enc")
	if err := run(t, home, "backup", "-o", backupPath); err != nil {
		t.Fatalf("backup: %v", err)
	}
	if _, err := os.Stat(backupPath); err != nil {
		t.Fatalf("backup file missing: %v", err)
	}
	if err := run(t, home, "audit", "verify"); err != nil {
		t.Fatalf("audit verify: %v", err)
	}

	// Inspect the persisted state directly.
	if err := openApp(context.Background()); err != nil {
		t.Fatalf("openApp() error = %v", err)
	}
	defer closeApp()
	u, err := app.store.Unlock(context.Background(), "alice", "correct-horse-1")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if len(u.Records) != 2 {
		t.Fatalf("vault has %d records, want 2", len(u.Records))
	}
	if u.Records[0].Site != "github.com" || u.Records[1].Site != "Bank" {
		t.Errorf("records = %s, %s", u.Records[0].Site, u.Records[1].Site)
	}

	entries, err := app.audit.List(context.Background(), audit.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	var actions []string
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	joined := strings.Join(actions, "\n")
	for _, want := range []string{
		"Created account alice",
		"Added password for github.com",
		"Added category Travel",
		"Imported 1 passwords from CSV",
		"Backed up vault",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("audit log missing %q:\n%s", want, joined)
		}
	}
}

func TestCLIWipe(t *testing.T) {
	home := t.TempDir()
	cfg := config.Default(home)
	cfg.LoginDelay = 0
	cfg.KDF.Time, cfg.KDF.Memory, cfg.KDF.Threads = 1, 8, 1
	if err := config.Save(cfg); err != nil {
		t.Fatalf("config.Save() error = %v", err)
	}

	t.Setenv(config.EnvPassword, "correct-horse-1")
	envPassword = nil
	t.Cleanup(func() {
		envPassword = nil
		userFlag = ""
		accountForce = false
	})

	if err := run(t, home, "account", "create", "alice"); err != nil {
		t.Fatalf("account create: %v", err)
	}
	if err := run(t, home, "info"); err != nil {
		t.Fatalf("info: %v", err)
	}
	if err := run(t, home, "wipe", "--user", "alice", "--force"); err != nil {
		t.Fatalf("wipe: %v", err)
	}

	if err := openApp(context.Background()); err != nil {
		t.Fatalf("openApp() error = %v", err)
	}
	defer closeApp()
	accounts, err := app.store.Accounts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 0 {
		t.Errorf("accounts = %d after wipe, want 0", len(accounts))
	}
	entries, err := app.audit.List(context.Background(), audit.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Action != "Wiped all data" {
		t.Errorf("audit log after wipe = %+v", entries)
	}
}
