package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/anima-vault/anima/internal/config"
	"github.com/anima-vault/anima/internal/logging"
	"github.com/anima-vault/anima/pkg/audit"
	"github.com/anima-vault/anima/pkg/backup"
	"github.com/anima-vault/anima/pkg/importer"
	"github.com/anima-vault/anima/pkg/security"
	"github.com/anima-vault/anima/pkg/share"
	"github.com/anima-vault/anima/pkg/storage"
	"github.com/anima-vault/anima/pkg/vault"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Global flags
var (
	homeDir  string
	userFlag string
	codeFlag string
)

// appState is everything opened for one command invocation.
type appState struct {
	cfg    *config.Config
	db     *storage.Store
	audit  *audit.Log
	store  *vault.Store
	logger logging.Logger
}

var app *appState

var rootCmd = &cobra.Command{
	Use:           "anima",
	Short:         "Anima is a local multi-account password vault",
	Long:          `Anima keeps one encrypted credential list per account in a local SQLite file.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !needsVault(cmd) {
			return nil
		}
		return openApp(cmd.Context())
	},
}

// needsVault reports whether cmd touches the data directory.
func needsVault(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "generate", "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return false
	}
	return !(cmd.HasParent() && cmd.Parent().Name() == "completion")
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "Data directory (default $ANIMA_HOME or ~/.anima)")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "Account to log in as (default: last user)")
	rootCmd.PersistentFlags().StringVar(&codeFlag, "code", "", "MFA code for accounts with MFA enabled")
}

func openApp(ctx context.Context) error {
	dir := homeDir
	if dir == "" {
		var err error
		if dir, err = config.DefaultDir(); err != nil {
			return err
		}
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, level)

	db, err := storage.Open(dir, storage.WithLogger(logger))
	if err != nil {
		return err
	}
	log, err := audit.New(ctx, db)
	if err != nil {
		db.Close()
		return err
	}
	store := vault.NewStore(db, log,
		vault.WithParams(cfg.KDF),
		vault.WithLoginDelay(cfg.LoginDelay),
		vault.WithLogger(logger),
		vault.WithShareManager(share.New(db, share.Options{BaseURL: cfg.ShareBaseURL})),
	)

	app = &appState{cfg: cfg, db: db, audit: log, store: store, logger: logger}
	return nil
}

func closeApp() {
	if app == nil {
		return
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn(context.Background(), "failed to close database", "error", err)
	}
	app = nil
}

// errorMessage turns known errors into the message shown to the user.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, vault.ErrInvalidPassword):
		return "Invalid password"
	case errors.Is(err, vault.ErrAccountNotFound):
		return "Username not found"
	case errors.Is(err, vault.ErrAccountExists):
		return "Username already exists"
	case errors.Is(err, vault.ErrMFARequired):
		return "MFA code required"
	case errors.Is(err, vault.ErrInvalidMFACode):
		return "Invalid MFA code"
	case errors.Is(err, vault.ErrMFANotEnrolled):
		return "MFA has not been set up; run anima mfa setup first"
	case errors.Is(err, vault.ErrRecordNotFound):
		return "Password not found"
	case errors.Is(err, vault.ErrCannotDelete):
		return "Category is in use and cannot be deleted"
	case errors.Is(err, vault.ErrCategoryNotFound):
		return "Category not found"
	case errors.Is(err, share.ErrExpired):
		return "Share link expired"
	case errors.Is(err, share.ErrNotFound):
		return "Share link not found"
	case errors.Is(err, share.ErrInvalidURL):
		return "Not a share link"
	case errors.Is(err, importer.ErrNoData):
		return "No data found in CSV"
	case errors.Is(err, importer.ErrNoValidRows):
		return "No valid passwords found in CSV"
	case errors.Is(err, backup.ErrImport):
		return "Could not restore backup: wrong passphrase or damaged file"
	case errors.Is(err, security.ErrInvalidLength), errors.Is(err, security.ErrNoCharset):
		return trimPrefix(err.Error())
	case errors.Is(err, vault.ErrValidation):
		return trimPrefix(err.Error())
	case errors.Is(err, context.Canceled):
		return "Cancelled"
	default:
		return err.Error()
	}
}

// trimPrefix drops the "pkg: " and "validation failed: " lead-ins.
func trimPrefix(msg string) string {
	for _, p := range []string{"vault: validation failed: ", "security: "} {
		if len(msg) > len(p) && msg[:len(p)] == p {
			return msg[len(p):]
		}
	}
	return msg
}

func printError(err error) {
	fmt.Fprintln(os.Stderr, color.RedString("✗")+" "+errorMessage(err))
}

func printSuccess(format string, args ...any) {
	fmt.Println(color.GreenString("✓") + " " + fmt.Sprintf(format, args...))
}

func printHint(format string, args ...any) {
	fmt.Println(color.CyanString("→") + " " + fmt.Sprintf(format, args...))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, color.YellowString("!")+" "+fmt.Sprintf(format, args...))
}
