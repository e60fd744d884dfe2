package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ecocrm-platform/ecocrm-stack/cli/internal/client"
	"github.com/ecocrm-platform/ecocrm-stack/cli/internal/config"
	"github.com/ecocrm-platform/ecocrm-stack/cli/pkg/output"
)

var (
	loginAPIURL   string
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to an ECOCRM API and save the profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		if loginEmail == "" || loginPassword == "" {
			return fmt.Errorf("--email and --password are required")
		}

		c := client.New(loginAPIURL, "")
		token, err := c.Login(loginEmail, loginPassword)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		profileName, _ := cmd.Flags().GetString("profile")
		if profileName == "" {
			profileName = "default"
		}

		existing, _ := cfg.GetProfile(profileName)
		profile := &config.Profile{APIURL: loginAPIURL, AccessToken: token.AccessToken}
		if existing != nil {
			profile.WebhookToken = existing.WebhookToken
		}
		if err := cfg.SaveProfile(profileName, profile); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}

		output.Success("Logged in as %s (profile %s)", loginEmail, profileName)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginAPIURL, "api-url", "http://localhost:8080", "API base URL")
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "account password")
	rootCmd.AddCommand(loginCmd)
}
