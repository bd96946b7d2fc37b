package main

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/anima-vault/anima/pkg/model"
	"github.com/anima-vault/anima/pkg/security"
	"github.com/anima-vault/anima/pkg/vault"
)

// Record flags, shared by add and edit.
var (
	recSite     string
	recUsername string
	recNote     string
	recCategory string
	recExpires  int
	recGenerate bool
)

// List flags
var (
	listCategory string
	listQuery    string
)

// Wi-Fi flags
var (
	wifiSecurity string
	wifiNotes    string
)

var deleteForce bool

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(deleteAllCmd)
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(wifiCmd)
	wifiCmd.AddCommand(wifiAddCmd)

	for _, c := range []*cobra.Command{addCmd, editCmd} {
		c.Flags().StringVar(&recSite, "site", "", "Site or service name")
		c.Flags().StringVar(&recUsername, "username", "", "Login name")
		c.Flags().StringVar(&recNote, "note", "", "Email or free-form note")
		c.Flags().StringVar(&recCategory, "category", "", "Category (default "+vault.DefaultCategory+" on add)")
		c.Flags().IntVar(&recExpires, "expires", 0, "Rotation period in days (0 = never)")
		c.Flags().BoolVar(&recGenerate, "generate", false, "Generate a random password instead of prompting")
	}

	listCmd.Flags().StringVar(&listCategory, "category", "", "Only show this category")
	listCmd.Flags().StringVarP(&listQuery, "query", "q", "", "Filter by site or username")

	wifiAddCmd.Flags().StringVar(&wifiSecurity, "security", vault.DefaultWifiSecurity, "Security type (WPA2, WPA3, WEP, ...)")
	wifiAddCmd.Flags().StringVar(&wifiNotes, "notes", "", "Notes")

	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Skip confirmation prompt")
	deleteAllCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Skip confirmation prompt")
}

// resolveRecord finds a record by exact id, unique id prefix, or 1-based
// position in the list.
func resolveRecord(records []model.Record, ref string) (model.Record, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return model.Record{}, vault.ErrRecordNotFound
	}
	for _, r := range records {
		if r.ID == ref {
			return r, nil
		}
	}
	var match []model.Record
	for _, r := range records {
		if strings.HasPrefix(r.ID, ref) {
			match = append(match, r)
		}
	}
	switch len(match) {
	case 1:
		return match[0], nil
	case 0:
	default:
		return model.Record{}, fmt.Errorf("%q matches %d passwords; use more of the id", ref, len(match))
	}
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(records) {
		return records[n-1], nil
	}
	return model.Record{}, vault.ErrRecordNotFound
}

func sessionRecord(s *vault.Session, ref string) (model.Record, error) {
	records, err := s.Records()
	if err != nil {
		return model.Record{}, err
	}
	return resolveRecord(records, ref)
}

// filterRecords applies the list flags. A query holding glob characters
// (*?[) is matched against the whole site name; otherwise it is a substring
// of the site or username. Both ignore case.
func filterRecords(records []model.Record, category, query string) ([]model.Record, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	glob := strings.ContainsAny(query, "*?[")
	if glob {
		if _, err := path.Match(query, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", query, err)
		}
	}

	var out []model.Record
	for _, r := range records {
		if category != "" && r.Category != category {
			continue
		}
		switch {
		case query == "":
		case glob:
			if ok, _ := path.Match(query, strings.ToLower(r.Site)); !ok {
				continue
			}
		case !strings.Contains(strings.ToLower(r.Site), query) &&
			!strings.Contains(strings.ToLower(r.Username), query):
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// expiryLabel describes the remaining rotation time of r.
func expiryLabel(r model.Record, now time.Time) string {
	days, bounded := security.DaysRemaining(r, now)
	switch {
	case !bounded:
		return "never"
	case days <= 0:
		return "expired"
	case days == 1:
		return "1 day"
	default:
		return fmt.Sprintf("%d days", days)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved passwords (secrets are not shown)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *vault.Session) error {
			records, err := s.Records()
			if err != nil {
				return err
			}
			shown, err := filterRecords(records, listCategory, listQuery)
			if err != nil {
				return err
			}
			if len(shown) == 0 {
				fmt.Println("No passwords found.")
				return nil
			}

			now := time.Now()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tID\tSITE\tUSERNAME\tCATEGORY\tSTRENGTH\tEXPIRES\tSAVED")
			for i, r := range records {
				if !containsID(shown, r.ID) {
					continue
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					i+1, shortID(r.ID), r.Site, loginLabel(r), r.Category,
					security.Strength(r.Secret), expiryLabel(r, now), humanize.Time(r.CreatedAt))
			}
			return w.Flush()
		})
	},
}

// loginLabel is the username column; Wi-Fi entries keep their security
// type there.
func loginLabel(r model.Record) string {
	if r.IsWifi() {
		return "security " + r.Username
	}
	return r.Username
}

func containsID(records []model.Record, id string) bool {
	for _, r := range records {
		if r.ID == id {
			return true
		}
	}
	return false
}

// readRecordSecret generates or prompts for a secret.
func readRecordSecret(prompt string) (string, error) {
	if recGenerate {
		return security.Generate(security.DefaultGenerateOptions())
	}
	return readSecret(prompt)
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a password",
	Example: `  anima add --site github.com --username octo --category Work --expires 90
  anima add --site bank --username me --generate`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *vault.Session) error {
			secret, err := readRecordSecret("Password to save: ")
			if err != nil {
				return err
			}
			rec, err := s.Add(cmd.Context(), vault.RecordInput{
				Site:           recSite,
				Username:       recUsername,
				Note:           recNote,
				Category:       recCategory,
				Secret:         secret,
				ExpirationDays: recExpires,
			})
			if err != nil {
				return err
			}
			printSuccess("Saved password for %s (%s)", rec.Site, shortID(rec.ID))
			if tier := security.Strength(rec.Secret); tier != security.TierStrong {
				printWarning("This password is %s", strings.ToLower(tier.String()))
			}
			return nil
		})
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <id|#>",
	Short: "Edit a password; unset flags keep their current value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *vault.Session) error {
			rec, err := sessionRecord(s, args[0])
			if err != nil {
				return err
			}

			in := vault.RecordInput{
				Site:           rec.Site,
				Username:       rec.Username,
				Note:           rec.Note,
				Category:       rec.Category,
				Secret:         rec.Secret,
				ExpirationDays: rec.ExpirationDays,
			}
			flags := cmd.Flags()
			if flags.Changed("site") {
				in.Site = recSite
			}
			if flags.Changed("username") {
				in.Username = recUsername
			}
			if flags.Changed("note") {
				in.Note = recNote
			}
			if flags.Changed("category") {
				in.Category = recCategory
			}
			if flags.Changed("expires") {
				in.ExpirationDays = recExpires
			}
			if recGenerate {
				if in.Secret, err = security.Generate(security.DefaultGenerateOptions()); err != nil {
					return err
				}
			} else {
				secret, err := readSecret("New password (empty keeps current): ")
				if err != nil {
					return err
				}
				if secret != "" {
					in.Secret = secret
				}
			}

			updated, err := s.Edit(cmd.Context(), rec.ID, in)
			if err != nil {
				return err
			}
			printSuccess("Updated %s", updated.Site)
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id|#>",
	Short: "Delete a password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *vault.Session) error {
			rec, err := sessionRecord(s, args[0])
			if err != nil {
				return err
			}
			if !deleteForce {
				ok, err := confirm(stdin, fmt.Sprintf("Delete password for %s?", rec.Site))
				if err != nil || !ok {
					return err
				}
			}
			if err := s.Delete(cmd.Context(), rec.ID); err != nil {
				return err
			}
			printSuccess("Deleted password for %s", rec.Site)
			return nil
		})
	},
}

var deleteAllCmd = &cobra.Command{
	Use:   "delete-all",
	Short: "Delete every password in the vault",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *vault.Session) error {
			if !deleteForce {
				ok, err := confirm(stdin, "Delete ALL passwords in this vault?")
				if err != nil || !ok {
					return err
				}
			}
			if err := s.DeleteAll(cmd.Context()); err != nil {
				return err
			}
			printSuccess("Deleted all passwords")
			return nil
		})
	},
}

var moveCmd = &cobra.Command{
	Use:   "move <id|#> <position>",
	Short: "Move a password to a 1-based position in the list",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pos, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid position %q", args[1])
		}
		return withSession(cmd.Context(), func(s *vault.Session) error {
			rec, err := sessionRecord(s, args[0])
			if err != nil {
				return err
			}
			if err := s.Move(cmd.Context(), rec.ID, pos-1); err != nil {
				return err
			}
			printSuccess("Moved %s to position %d", rec.Site, pos)
			return nil
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id|#>",
	Short: "Auto-fill: print a saved password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *vault.Session) error {
			rec, err := sessionRecord(s, args[0])
			if err != nil {
				return err
			}
			secret, err := s.Autofill(cmd.Context(), rec.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%s / %s\n", rec.Site, loginLabel(rec))
			fmt.Println(secret)
			return nil
		})
	},
}

var wifiCmd = &cobra.Command{
	Use:   "wifi",
	Short: "Manage Wi-Fi network passwords",
}

var wifiAddCmd = &cobra.Command{
	Use:   "add <ssid>",
	Short: "Save a Wi-Fi network password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *vault.Session) error {
			secret, err := readSecret("Network password: ")
			if err != nil {
				return err
			}
			rec, err := s.AddWifi(cmd.Context(), vault.WifiInput{
				SSID:     args[0],
				Password: secret,
				Security: wifiSecurity,
				Notes:    wifiNotes,
			})
			if err != nil {
				return err
			}
			printSuccess("Saved %s", rec.Site)
			return nil
		})
	},
}
