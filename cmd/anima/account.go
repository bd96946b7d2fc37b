package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/anima-vault/anima/pkg/security"
	"github.com/anima-vault/anima/pkg/vault"
)

var accountForce bool

func init() {
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(wipeCmd)

	accountCmd.AddCommand(accountCreateCmd)
	accountCmd.AddCommand(accountDeleteCmd)
	accountCmd.AddCommand(accountDeleteAllCmd)
	accountCmd.AddCommand(accountListCmd)
	accountCmd.AddCommand(accountPictureCmd)

	accountDeleteCmd.Flags().BoolVarP(&accountForce, "force", "f", false, "Skip confirmation prompt")
	accountDeleteAllCmd.Flags().BoolVarP(&accountForce, "force", "f", false, "Skip confirmation prompt")
	wipeCmd.Flags().BoolVarP(&accountForce, "force", "f", false, "Skip confirmation prompt")
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage accounts",
}

var accountCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create an account with an empty vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, confirmPw, err := readNewPassword("master password")
		if err != nil {
			return err
		}

		check := security.ValidateMasterPassword(password)
		if check.Valid {
			fmt.Printf("Password strength: %s\n", check.Strength)
		}
		for _, w := range check.Warnings {
			printWarning("%s", w)
		}

		s := newSpinner("Creating account...")
		s.Start()
		err = app.store.CreateAccount(cmd.Context(), args[0], password, confirmPw)
		s.Stop()
		if err != nil {
			return err
		}
		printSuccess("Account %s created", args[0])
		printHint("Run anima add -u %s to save your first password", args[0])
		return nil
	},
}

var accountDeleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Delete an account and its vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user := args[0]
		if !accountForce {
			ok, err := confirm(stdin, fmt.Sprintf("Delete account %s and all its passwords?", user))
			if err != nil || !ok {
				return err
			}
		}
		password, err := readPassword(fmt.Sprintf("Master password for %s: ", user))
		if err != nil {
			return err
		}
		if err := app.store.DeleteAccount(cmd.Context(), user, password); err != nil {
			return err
		}
		printSuccess("Account %s deleted", user)
		return nil
	},
}

var accountDeleteAllCmd = &cobra.Command{
	Use:   "delete-all",
	Short: "Delete every account (requires the current user's password)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := currentUser(cmd.Context())
		if err != nil {
			return err
		}
		if !accountForce {
			ok, err := confirm(stdin, "Delete ALL accounts and their passwords?")
			if err != nil || !ok {
				return err
			}
		}
		password, err := readPassword(fmt.Sprintf("Master password for %s: ", user))
		if err != nil {
			return err
		}
		if err := app.store.DeleteAllAccounts(cmd.Context(), user, password); err != nil {
			return err
		}
		printSuccess("All accounts deleted")
		return nil
	},
}

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Erase all accounts, share links, settings and the audit log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := currentUser(cmd.Context())
		if err != nil {
			return err
		}
		if !accountForce {
			ok, err := confirm(stdin, "Erase ALL data, including the audit log?")
			if err != nil || !ok {
				return err
			}
		}
		password, err := readPassword(fmt.Sprintf("Master password for %s: ", user))
		if err != nil {
			return err
		}
		if err := app.store.Wipe(cmd.Context(), user, password); err != nil {
			return err
		}
		printSuccess("All data wiped")
		return nil
	},
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		accounts, err := app.store.Accounts(cmd.Context())
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			fmt.Println("No accounts yet.")
			printHint("Run anima account create <username>")
			return nil
		}
		last, _ := app.store.LastUser(cmd.Context())
		for _, a := range accounts {
			marker := " "
			if a.Username == last {
				marker = "*"
			}
			mfa := ""
			if a.MFAEnabled {
				mfa = " [MFA]"
			}
			fmt.Printf("%s %s%s  (created %s)\n", marker, a.Username, mfa, humanize.Time(a.CreatedAt))
		}
		return nil
	},
}

var accountPictureCmd = &cobra.Command{
	Use:   "picture [ref]",
	Short: "Set the profile picture reference (empty resets to the default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref := ""
		if len(args) == 1 {
			ref = args[0]
		}
		return withSession(cmd.Context(), func(s *vault.Session) error {
			if err := s.SetProfilePicture(cmd.Context(), ref); err != nil {
				return err
			}
			info, err := s.Account(cmd.Context())
			if err != nil {
				return err
			}
			printSuccess("Profile picture set to %s", info.ProfilePicture)
			return nil
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Verify credentials and show a vault summary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *vault.Session) error {
			records, err := s.Records()
			if err != nil {
				return err
			}
			health, err := s.Health()
			if err != nil {
				return err
			}
			printSuccess("Logged in as %s", s.Username())
			fmt.Printf("Vault: %s, %d passwords\n", s.Outcome(), len(records))
			if health.Expired > 0 {
				printWarning("%d passwords have expired", health.Expired)
			}
			if health.Weak > 0 || health.Reused > 0 {
				printHint("Run anima health for details (%d weak, %d reused)", health.Weak, health.Reused)
			}
			return nil
		})
	},
}
