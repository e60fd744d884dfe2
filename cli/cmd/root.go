package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ecocrm-platform/ecocrm-stack/cli/internal/client"
	"github.com/ecocrm-platform/ecocrm-stack/cli/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ecocrm",
	Short: "ECOCRM platform CLI",
	Long: `ecocrm is the command-line interface for the ECOCRM platform.

Inspect crews and their published versions, follow bot runs, and seed
realistic Chatwoot webhook traffic against a running API.`,
	Version: "0.1.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.ecocrm/config.yaml)")
	rootCmd.PersistentFlags().String("profile", "", "profile to use")
	rootCmd.PersistentFlags().String("output", "table", "output format: table, json")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.Default()
	}
}

// apiClient builds a client for the command's selected profile.
func apiClient(cmd *cobra.Command) (*client.Client, *config.Profile, error) {
	profileName, _ := cmd.Flags().GetString("profile")
	profile, err := cfg.GetProfile(profileName)
	if err != nil {
		return nil, nil, err
	}
	return client.New(profile.APIURL, profile.AccessToken), profile, nil
}
