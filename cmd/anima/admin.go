package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/anima-vault/anima/internal/config"
	"github.com/anima-vault/anima/internal/mcp"
	"github.com/anima-vault/anima/pkg/audit"
	"github.com/anima-vault/anima/pkg/storage"
	"github.com/anima-vault/anima/pkg/vault"
)

// Audit flags
var (
	auditLimit  int
	auditSince  string
	auditUntil  string
	auditFormat string
	auditOutput string
)

func init() {
	rootCmd.AddCommand(rekeyCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(themeCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(mcpServerCmd)

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditExportCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)

	auditListCmd.Flags().IntVar(&auditLimit, "limit", 50, "Maximum number of entries to show (0 = all)")
	auditListCmd.Flags().StringVar(&auditSince, "since", "", "Only entries newer than this duration (e.g. 24h, 7d)")
	auditExportCmd.Flags().StringVar(&auditFormat, "format", "json", "Output format: json, csv")
	auditExportCmd.Flags().StringVar(&auditSince, "since", "", "Export entries newer than this duration (e.g. 30d)")
	auditExportCmd.Flags().StringVar(&auditUntil, "until", "", "Export entries up to this time (RFC 3339)")
	auditExportCmd.Flags().StringVarP(&auditOutput, "output", "o", "", "Output file (default stdout)")
}

// parseDuration extends time.ParseDuration with a d (day) suffix.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s[:len(s)-1], "%d", &days); err != nil || days < 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

func auditRange(now time.Time) (audit.ListOptions, error) {
	var opts audit.ListOptions
	if auditSince != "" {
		d, err := parseDuration(auditSince)
		if err != nil {
			return opts, err
		}
		opts.Since = now.Add(-d)
	}
	if auditUntil != "" {
		t, err := time.Parse(time.RFC3339, auditUntil)
		if err != nil {
			return opts, fmt.Errorf("invalid --until: %w", err)
		}
		opts.Until = t
	}
	return opts, nil
}

var rekeyCmd = &cobra.Command{
	Use:   "rekey",
	Short: "Change your master password",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *vault.Session) error {
			// the login consumed $ANIMA_PASSWORD, so always prompt here
			newPw, err := readSecret("New master password: ")
			if err != nil {
				return err
			}
			confirmPw, err := readSecret("Confirm new master password: ")
			if err != nil {
				return err
			}
			sp := newSpinner("Re-encrypting vault...")
			sp.Start()
			err = s.Rekey(cmd.Context(), newPw, confirmPw)
			sp.Stop()
			if err != nil {
				return err
			}
			printSuccess("Master password changed")
			return nil
		})
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
}

// The audit log is shared by all accounts but still requires a login.
var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit log entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := auditRange(time.Now())
		if err != nil {
			return err
		}
		opts.Limit = auditLimit
		return withSession(cmd.Context(), func(_ *vault.Session) error {
			entries, err := app.audit.List(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No audit entries.")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%6d  %s  %s\n", e.Seq, e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Action)
			}
			return nil
		})
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit log hash chain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := app.audit.Verify(cmd.Context())
		if err != nil {
			return err
		}
		if result.Valid {
			printSuccess("Audit log intact (%d entries verified)", result.RecordsVerified)
			return nil
		}
		fmt.Println(color.RedString("✗") + fmt.Sprintf(" Audit log tampered: %d of %d entries verified", result.RecordsVerified, result.RecordsTotal))
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
		return fmt.Errorf("audit log verification failed")
	},
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the audit log as JSON or CSV",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := auditRange(time.Now())
		if err != nil {
			return err
		}
		return withSession(cmd.Context(), func(_ *vault.Session) error {
			out := os.Stdout
			if auditOutput != "" {
				f, err := os.OpenFile(auditOutput, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				out = f
			}
			if err := app.audit.Export(cmd.Context(), out, auditFormat, opts); err != nil {
				return err
			}
			if auditOutput != "" {
				printSuccess("Audit log exported to %s", auditOutput)
			}
			return nil
		})
	},
}

var themeCmd = &cobra.Command{
	Use:   "theme [light|dark]",
	Short: "Show or set the preferred theme",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			theme, err := app.store.Theme(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(theme)
			return nil
		}
		switch args[0] {
		case "light", "dark":
		default:
			return fmt.Errorf("theme must be light or dark")
		}
		if err := app.store.SetTheme(cmd.Context(), args[0]); err != nil {
			return err
		}
		printSuccess("Theme set to %s", args[0])
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show where data is kept and how large it is",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		fmt.Printf("Data directory: %s\n", app.cfg.Dir)

		schema, err := storage.SchemaVersion(ctx, app.db.DB())
		if err != nil {
			return err
		}
		fmt.Printf("Schema version: %d\n", schema)

		if disk, err := storage.CheckDiskSpace(app.cfg.Dir); err == nil {
			fmt.Printf("Disk free:      %s of %s\n", humanize.Bytes(disk.Available), humanize.Bytes(disk.Total))
		}

		accounts, err := app.store.Accounts(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Accounts:       %d\n", len(accounts))
		for _, a := range accounts {
			p, err := app.store.VaultParams(ctx, a.Username)
			if err != nil {
				printWarning("%v", err)
				continue
			}
			note := ""
			if p != app.cfg.KDF {
				note = " (rekey to apply configured parameters)"
			}
			fmt.Printf("  %-12s argon2id t=%d m=%s p=%d%s\n",
				a.Username, p.Time, humanize.IBytes(uint64(p.Memory)*1024), p.Threads, note)
		}

		n, err := app.audit.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Audit entries:  %s\n", humanize.Comma(int64(n)))

		fmt.Println()
		for _, key := range []string{storage.KeyUsers, storage.KeyCategories, storage.KeyShareLinks, storage.KeyMFASecrets} {
			info, ok, err := storage.Stat(ctx, app.db.DB(), key)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("  %-12s -\n", key)
				continue
			}
			fmt.Printf("  %-12s %8s  updated %s\n", key, humanize.Bytes(uint64(info.Size)), humanize.Time(info.UpdatedAt))
		}

		for _, w := range app.db.InsecurePermissions() {
			printWarning("%s", w)
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or create the configuration file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(app.cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write config.yaml with the current settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Save(app.cfg); err != nil {
			return err
		}
		printSuccess("Wrote %s/%s", app.cfg.Dir, config.FileName)
		return nil
	},
}

var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Serve vault metadata to AI agents over MCP (stdio)",
	Long: `Start a Model Context Protocol server on stdin/stdout.

The server logs in once, using ANIMA_PASSWORD, and exposes read-only tools
for listing credentials, checking health and expiry. Passwords are never
returned.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, ok := passwordFromEnv(); !ok {
			return fmt.Errorf("no password provided: set %s", config.EnvPassword)
		}
		session, err := login(cmd.Context())
		if err != nil {
			return err
		}
		srv, err := mcp.NewServer(session, &mcp.ServerOptions{
			Version: version,
			Logger:  app.logger.With("component", "mcp"),
		})
		if err != nil {
			_ = session.Logout(cmd.Context())
			return err
		}
		return srv.Run(cmd.Context())
	},
}
