package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anima-vault/anima/pkg/vault"
)

func init() {
	rootCmd.AddCommand(categoryCmd)
	categoryCmd.AddCommand(categoryListCmd)
	categoryCmd.AddCommand(categoryAddCmd)
	categoryCmd.AddCommand(categoryDeleteCmd)
}

var categoryCmd = &cobra.Command{
	Use:   "category",
	Short: "Manage the category list shared by all accounts",
}

var categoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List categories with the number of passwords in each",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *vault.Session) error {
			categories, err := s.Categories(cmd.Context())
			if err != nil {
				return err
			}
			records, err := s.Records()
			if err != nil {
				return err
			}
			counts := make(map[string]int)
			for _, r := range records {
				counts[r.Category]++
			}
			for _, c := range categories {
				fmt.Printf("%-16s %d\n", c, counts[c])
			}
			return nil
		})
	},
}

var categoryAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *vault.Session) error {
			if err := s.AddCategory(cmd.Context(), args[0]); err != nil {
				return err
			}
			printSuccess("Added category %s", args[0])
			return nil
		})
	},
}

var categoryDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a category no password in your vault uses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *vault.Session) error {
			if err := s.DeleteCategory(cmd.Context(), args[0]); err != nil {
				return err
			}
			printSuccess("Deleted category %s", args[0])
			return nil
		})
	},
}
