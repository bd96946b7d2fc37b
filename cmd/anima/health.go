package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/anima-vault/anima/pkg/security"
	"github.com/anima-vault/anima/pkg/vault"
)

// Health flags
var (
	healthJSON     bool
	healthWarnDays int
	expiringDays   int
)

// Generate flags
var (
	genLength    int
	genCount     int
	genNoUpper   bool
	genNoLower   bool
	genNoDigits  bool
	genNoSymbols bool
	genExclude   string
)

func init() {
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(expiringCmd)
	rootCmd.AddCommand(generateCmd)

	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "Output in JSON format")
	healthCmd.Flags().IntVar(&healthWarnDays, "warn-days", security.DefaultWarnDays, "Flag passwords expiring within this many days")
	expiringCmd.Flags().IntVar(&expiringDays, "within", 14, "Days ahead to look")

	generateCmd.Flags().IntVarP(&genLength, "length", "l", security.DefaultGenerateLength, "Password length (8-50)")
	generateCmd.Flags().IntVarP(&genCount, "count", "n", 1, "Number of passwords")
	generateCmd.Flags().BoolVar(&genNoUpper, "no-upper", false, "Exclude uppercase letters")
	generateCmd.Flags().BoolVar(&genNoLower, "no-lower", false, "Exclude lowercase letters")
	generateCmd.Flags().BoolVar(&genNoDigits, "no-digits", false, "Exclude digits")
	generateCmd.Flags().BoolVar(&genNoSymbols, "no-symbols", false, "Exclude symbols")
	generateCmd.Flags().StringVar(&genExclude, "exclude", "", "Characters to exclude (e.g. 0O1lI)")
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Score password strength, reuse and expiry",
	Long: `Analyze the security health of your vault.

The score is the sum of four components of up to 25 points each:
  - Strength: share of strong passwords
  - Uniqueness: share of passwords not reused
  - Expiration: share of passwords not expired
  - Rotation: share of passwords with a rotation period`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *vault.Session) error {
			report, err := s.Report(healthWarnDays)
			if err != nil {
				return err
			}
			if healthJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printReport(report)
			return nil
		})
	},
}

func scoreColor(score int) func(format string, a ...any) string {
	switch {
	case score >= 80:
		return color.GreenString
	case score >= 50:
		return color.YellowString
	default:
		return color.RedString
	}
}

func printReport(r *security.Report) {
	fmt.Printf("Security score: %s\n\n", scoreColor(r.Overall)("%d/100", r.Overall))
	fmt.Printf("  Strength    %2d/25\n", r.Components.Strength)
	fmt.Printf("  Uniqueness  %2d/25\n", r.Components.Uniqueness)
	fmt.Printf("  Expiration  %2d/25\n", r.Components.Expiration)
	fmt.Printf("  Rotation    %2d/25\n\n", r.Components.Rotation)

	sum := r.Summary
	fmt.Printf("%d passwords: %d strong, %d medium, %d weak, %d reused, %d expired\n",
		sum.Total, sum.Strong, sum.Medium, sum.Weak, sum.Reused, sum.Expired)

	if len(r.Issues) > 0 {
		fmt.Println("\nIssues:")
		for _, issue := range r.Issues {
			mark := color.YellowString("!")
			if issue.Severity == security.SeverityCritical {
				mark = color.RedString("✗")
			}
			fmt.Printf("  %s %s\n", mark, issue.Description)
		}
	}
	for _, s := range r.Suggestions {
		printHint("%s", s)
	}
}

var expiringCmd = &cobra.Command{
	Use:   "expiring",
	Short: "List passwords due for rotation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if expiringDays < 0 {
			return fmt.Errorf("--within must not be negative")
		}
		return withSession(cmd.Context(), func(s *vault.Session) error {
			statuses, err := s.Expiring(expiringDays)
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				printSuccess("Nothing expires in the next %d days", expiringDays)
				return nil
			}
			now := time.Now()
			for _, st := range statuses {
				label := expiryLabel(st.Record, now)
				if st.DaysRemaining <= 0 {
					label = color.RedString(label)
				}
				fmt.Printf("%-10s %s (%s)\n", label, st.Record.Site, st.Record.Username)
			}
			return nil
		})
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate random passwords",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if genCount < 1 || genCount > 100 {
			return fmt.Errorf("--count must be between 1 and 100")
		}
		opts := security.GenerateOptions{
			Length:  genLength,
			Upper:   !genNoUpper,
			Lower:   !genNoLower,
			Digits:  !genNoDigits,
			Symbols: !genNoSymbols,
			Exclude: genExclude,
		}
		for i := 0; i < genCount; i++ {
			pw, err := security.Generate(opts)
			if err != nil {
				return err
			}
			fmt.Println(pw)
		}
		return nil
	},
}
