package main

import (
	"fmt"
	"strings"

	"projectsync/internal/config"
	"projectsync/internal/credentials"
	"projectsync/internal/utils"

	"github.com/spf13/cobra"
)

func newCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage the API token",
		Long: `Securely manage the project API token using the system keyring.

The token is looked up in three places (in priority order):
  1. System keyring (most secure) - recommended
  2. Environment variable PROJECTSYNC_TOKEN (good for CI/CD)
  3. api.token in the config file (least secure)

Examples:
  # Store the token in the keyring (interactive prompt)
  projectsync credentials set --prompt

  # Store the token for a specific account
  projectsync credentials set --username alice --prompt

  # Check where the token comes from
  projectsync credentials get

  # Remove the token from the keyring
  projectsync credentials delete`,
	}

	cmd.PersistentFlags().String("username", "", "account name (default: api.username from config)")

	cmd.AddCommand(newCredentialsSetCmd())
	cmd.AddCommand(newCredentialsGetCmd())
	cmd.AddCommand(newCredentialsDeleteCmd())

	return cmd
}

// credentialTarget returns the API base URL and account the keyring entry is
// stored under
func credentialTarget(cmd *cobra.Command) (baseURL, username string) {
	cfg := config.GetConfig()
	baseURL = cfg.API.BaseURL
	if env := credentials.GetEnvBaseURL(); env != "" {
		baseURL = env
	}
	username = cfg.API.Username
	if cmd.Flags().Changed("username") {
		username, _ = cmd.Flags().GetString("username")
	}
	return baseURL, username
}

func displayAccount(username string) string {
	if username == "" {
		return credentials.DefaultAccount
	}
	return username
}

func newCredentialsSetCmd() *cobra.Command {
	var prompt bool

	cmd := &cobra.Command{
		Use:   "set [token]",
		Short: "Store the API token in the system keyring",
		Long: `Store the API token securely in the system keyring.

If --prompt is specified, the token is read interactively (recommended, it
stays out of the shell history).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, username := credentialTarget(cmd)

			var token string
			switch {
			case prompt:
				secret, err := utils.ReadSecret(fmt.Sprintf("Enter API token for %s@%s: ", displayAccount(username), baseURL))
				if err != nil {
					return err
				}
				token = secret
			case len(args) == 1:
				token = args[0]
			default:
				return fmt.Errorf("token is required (use --prompt for interactive input)")
			}

			token = strings.TrimSpace(token)
			if token == "" {
				return fmt.Errorf("token cannot be empty")
			}

			if err := credentials.SetToken(baseURL, username, token); err != nil {
				if !credentials.IsAvailable() {
					return utils.WrapWithSuggestion(
						fmt.Errorf("system keyring is not available: %w", err),
						fmt.Sprintf("Use the environment instead: export %s=<token>", credentials.EnvToken))
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Token stored for %s@%s\n", displayAccount(username), baseURL)
			if config.GetConfig().API.Token != "" {
				fmt.Fprintln(cmd.OutOrStdout(), "\nThe keyring now takes precedence; remove api.token from your config file.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&prompt, "prompt", false, "prompt for the token interactively (recommended)")
	return cmd
}

func newCredentialsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show where the API token comes from",
		Long: `Show which source provides the API token. The token itself is never
printed in full.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, username := credentialTarget(cmd)
			out := cmd.OutOrStdout()

			resolver := credentials.NewResolver(baseURL, username, config.GetConfig().API.Token)
			creds, err := resolver.Resolve()
			if err != nil {
				fmt.Fprintf(out, "✗ No token found for %s\n", baseURL)
				fmt.Fprintln(out, "\nAvailable options:")
				fmt.Fprintln(out, "  1. Store in keyring:")
				fmt.Fprintln(out, "     projectsync credentials set --prompt")
				fmt.Fprintln(out, "  2. Set an environment variable:")
				fmt.Fprintf(out, "     export %s=<token>\n", credentials.EnvToken)
				fmt.Fprintln(out, "  3. Add api.token to the config file (not recommended)")
				return utils.ErrCredentialsNotFound(baseURL)
			}

			fmt.Fprintf(out, "✓ Token found for %s\n", baseURL)
			fmt.Fprintf(out, "  Account: %s\n", displayAccount(creds.Username))
			fmt.Fprintf(out, "  Source: %s\n", creds.Source)
			fmt.Fprintf(out, "  Token: %s\n", maskToken(creds.Token))

			switch creds.Source {
			case credentials.SourceKeyring:
				fmt.Fprintln(out, "\n✓ Using secure keyring storage (recommended)")
			case credentials.SourceEnv:
				fmt.Fprintln(out, "\n⚠ Using environment variables")
				fmt.Fprintln(out, "  Consider using keyring for better security:")
				fmt.Fprintln(out, "    projectsync credentials set --prompt")
			case credentials.SourceConfig:
				fmt.Fprintln(out, "\n⚠ Using the token from the config file (not recommended)")
				fmt.Fprintln(out, "  Consider migrating to keyring:")
				fmt.Fprintln(out, "    projectsync credentials set --prompt")
			}
			return nil
		},
	}
}

// maskToken keeps only the last four characters visible
func maskToken(token string) string {
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return strings.Repeat("*", len(token)-4) + token[len(token)-4:]
}

func newCredentialsDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the API token from the system keyring",
		Long: `Remove the stored token from the system keyring.

The environment variable and api.token in the config file are not affected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, username := credentialTarget(cmd)

			if !force && !utils.PromptYesNo(fmt.Sprintf("Delete token for %s@%s from keyring?", displayAccount(username), baseURL)) {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
				return nil
			}

			if err := credentials.DeleteToken(baseURL, username); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Token removed for %s@%s\n", displayAccount(username), baseURL)
			fmt.Fprintln(cmd.OutOrStdout(), "\n⚠ Note: This only removed the keyring entry.")
			fmt.Fprintf(cmd.OutOrStdout(), "  %s and api.token in the config file are not affected.\n", credentials.EnvToken)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "skip confirmation prompt")
	return cmd
}
