package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// EnvCompletion opts into completing account and category names, which
// opens the database on every tab press.
const EnvCompletion = "ANIMA_COMPLETION"

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script for your shell",
	Long: `To load completions:

Bash:
  $ source <(anima completion bash)

  # To load for each session (Linux):
  $ anima completion bash > ~/.local/share/bash-completion/completions/anima

Zsh:
  $ anima completion zsh > ~/.zsh/completions/_anima

Fish:
  $ anima completion fish > ~/.config/fish/completions/anima.fish

PowerShell:
  PS> anima completion powershell >> $PROFILE

Dynamic completion (account and category names):
  Set ANIMA_COMPLETION=1. No password is asked for; record ids are never
  completed because they live inside the encrypted vault.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			return cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			return cmd.Root().GenFishCompletion(os.Stdout, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)

	accountDeleteCmd.ValidArgsFunction = completeAccounts
	categoryDeleteCmd.ValidArgsFunction = completeCategories
	_ = rootCmd.RegisterFlagCompletionFunc("user", completeAccounts)
	_ = listCmd.RegisterFlagCompletionFunc("category", completeCategories)
	_ = addCmd.RegisterFlagCompletionFunc("category", completeCategories)
	_ = editCmd.RegisterFlagCompletionFunc("category", completeCategories)
}

func dynamicCompletionEnabled() bool {
	return os.Getenv(EnvCompletion) == "1"
}

// completionApp opens the data directory for a completion request. The
// caller must closeApp.
func completionApp(ctx context.Context) bool {
	if !dynamicCompletionEnabled() {
		return false
	}
	if app != nil {
		return true
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return openApp(ctx) == nil
}

func completeAccounts(cmd *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if !completionApp(cmd.Context()) {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	defer closeApp()

	accounts, err := app.store.Accounts(cmd.Context())
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	names := make([]string, 0, len(accounts))
	for _, a := range accounts {
		names = append(names, a.Username)
	}
	return matchPrefix(names, toComplete), cobra.ShellCompDirectiveNoFileComp
}

func completeCategories(cmd *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if !completionApp(cmd.Context()) {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	defer closeApp()

	categories, err := app.store.Categories(cmd.Context())
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	return matchPrefix(categories, toComplete), cobra.ShellCompDirectiveNoFileComp
}

// matchPrefix keeps the names starting with prefix, ignoring case.
func matchPrefix(names []string, prefix string) []string {
	lower := strings.ToLower(prefix)
	var out []string
	for _, n := range names {
		if strings.HasPrefix(strings.ToLower(n), lower) {
			out = append(out, n)
		}
	}
	return out
}
