package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/anima-vault/anima/pkg/share"
	"github.com/anima-vault/anima/pkg/vault"
)

// Share flags
var (
	shareDays int
	shareQR   string
)

func init() {
	rootCmd.AddCommand(shareCmd)
	shareCmd.AddCommand(shareCreateCmd)
	shareCmd.AddCommand(shareOpenCmd)
	shareCmd.AddCommand(shareListCmd)
	shareCmd.AddCommand(sharePurgeCmd)

	shareCreateCmd.Flags().IntVarP(&shareDays, "days", "d", -1, "Days the link stays valid (0-365, default from config)")
	shareCreateCmd.Flags().StringVar(&shareQR, "qr", "", "Also write the link as a QR code PNG to this file")
}

var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Share a password through a time-limited link",
}

var shareCreateCmd = &cobra.Command{
	Use:   "create <id|#>",
	Short: "Create a share link for a password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		days := shareDays
		if !cmd.Flags().Changed("days") {
			days = app.cfg.ShareDays
		}
		return withSession(cmd.Context(), func(s *vault.Session) error {
			rec, err := sessionRecord(s, args[0])
			if err != nil {
				return err
			}
			link, url, err := s.Share(cmd.Context(), rec.ID, days)
			if err != nil {
				return err
			}
			if shareQR != "" {
				png, err := share.QRCode(url, share.DefaultQRSize)
				if err != nil {
					return err
				}
				if err := os.WriteFile(shareQR, png, 0600); err != nil {
					return fmt.Errorf("failed to write QR code: %w", err)
				}
			}

			printSuccess("Share link for %s", link.Site)
			fmt.Println(url)
			printHint("Expires %s", humanize.Time(link.ExpiresAt))
			if shareQR != "" {
				printHint("QR code written to %s", shareQR)
			}
			return nil
		})
	},
}

var shareOpenCmd = &cobra.Command{
	Use:   "open <url|id>",
	Short: "Show the password behind a share link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := share.ParseURL(args[0])
		if err != nil {
			return err
		}
		link, err := app.store.Shares().Resolve(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Printf("Site:     %s\n", link.Site)
		fmt.Printf("Username: %s\n", link.Username)
		if link.Note != "" {
			fmt.Printf("Note:     %s\n", link.Note)
		}
		fmt.Printf("Password: %s\n", link.Secret)
		fmt.Printf("Expires:  %s\n", humanize.Time(link.ExpiresAt))
		return nil
	},
}

var shareListCmd = &cobra.Command{
	Use:   "list",
	Short: "List share links and when they expire",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(_ *vault.Session) error {
			links, err := app.store.Shares().List(cmd.Context())
			if err != nil {
				return err
			}
			if len(links) == 0 {
				fmt.Println("No share links.")
				return nil
			}
			now := time.Now()
			for _, l := range links {
				state := "expires " + humanize.Time(l.ExpiresAt)
				if l.Expired(now) {
					state = "expired"
				}
				fmt.Printf("%s  %-24s %s\n", l.ID, l.Site, state)
			}
			return nil
		})
	},
}

var sharePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired share links",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := app.store.Shares().Purge(cmd.Context())
		if err != nil {
			return err
		}
		printSuccess("Removed %d expired links", n)
		return nil
	},
}
