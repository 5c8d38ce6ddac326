package cli

import (
	"github.com/OpenNTI/nti.deploymenttools.content/internal/models"
	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion <shell>",
	Short: "Print a shell completion script",
	Long: `Print a completion script for bash, zsh, fish or powershell.

  source <(contentctl completion bash)
  contentctl completion zsh > "${fpath[1]}/_contentctl"
  contentctl completion fish > ~/.config/fish/completions/contentctl.fish`,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	DisableFlagsInUseLine: true,
	RunE:                  runCompletion,
}

// state names complete from the built-in vocabulary; the config may extend it
func completeStates(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return models.DefaultStates, cobra.ShellCompDirectiveNoFileComp
}

func runCompletion(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	switch args[0] {
	case "bash":
		return rootCmd.GenBashCompletionV2(out, true)
	case "zsh":
		return rootCmd.GenZshCompletion(out)
	case "fish":
		return rootCmd.GenFishCompletion(out, true)
	default:
		return rootCmd.GenPowerShellCompletionWithDesc(out)
	}
}

// registerCompletions runs after every command's flags are defined
func registerCompletions() {
	for _, c := range []*cobra.Command{registerCmd, listCmd} {
		c.RegisterFlagCompletionFunc("state", completeStates)
	}
	for _, c := range []*cobra.Command{releaseCmd, updateCmd, publishCmd} {
		c.RegisterFlagCompletionFunc("pool", completeStates)
	}
}
