package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anima-vault/anima/pkg/vault"
)

var mfaQR string

func init() {
	rootCmd.AddCommand(mfaCmd)
	mfaCmd.AddCommand(mfaSetupCmd)
	mfaCmd.AddCommand(mfaEnableCmd)

	mfaSetupCmd.Flags().StringVar(&mfaQR, "qr", "", "Write the enrollment QR code PNG to this file")
}

var mfaCmd = &cobra.Command{
	Use:   "mfa",
	Short: "Set up time-based one-time codes for login",
}

var mfaSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Generate a new authenticator secret (MFA stays off until enabled)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *vault.Session) error {
			enrollment, err := s.EnrollMFA(cmd.Context())
			if err != nil {
				return err
			}
			if mfaQR != "" {
				if err := os.WriteFile(mfaQR, enrollment.PNG, 0600); err != nil {
					return fmt.Errorf("failed to write QR code: %w", err)
				}
				printHint("Scan the QR code in %s with your authenticator app", mfaQR)
			}
			fmt.Printf("Secret: %s\n", enrollment.Secret)
			fmt.Printf("URI:    %s\n", enrollment.URI)
			printHint("Then run anima mfa enable <code> to turn MFA on")
			return nil
		})
	},
}

var mfaEnableCmd = &cobra.Command{
	Use:   "enable <code>",
	Short: "Turn MFA on after checking a code from the authenticator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *vault.Session) error {
			if err := s.EnableMFA(cmd.Context(), args[0]); err != nil {
				return err
			}
			printSuccess("MFA enabled for %s", s.Username())
			return nil
		})
	},
}
