package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ecocrm-platform/ecocrm-stack/cli/internal/seeder"
	"github.com/ecocrm-platform/ecocrm-stack/cli/pkg/output"
)

var (
	seedCount          int
	seedAccountID      int64
	seedInboxID        int64
	seedConversationID int64
	seedWebhookToken   string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the platform with generated traffic",
}

var seedWebhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Generate Chatwoot webhook payloads and post them to the API",
	Long: `Generate realistic message_created webhook payloads and send them
through the API's webhook receiver, exactly as Chatwoot would.

The webhook token comes from --token or the profile's webhook_token.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, profile, err := apiClient(cmd)
		if err != nil {
			return err
		}

		token := seedWebhookToken
		if token == "" {
			token = profile.WebhookToken
		}
		if token == "" {
			return fmt.Errorf("no webhook token: pass --token or set webhook_token in the profile")
		}

		payloads, err := seeder.Generate(seedCount, seeder.Options{
			AccountID:      seedAccountID,
			InboxID:        seedInboxID,
			ConversationID: seedConversationID,
		})
		if err != nil {
			return fmt.Errorf("failed to generate payloads: %w", err)
		}

		sent := 0
		for _, p := range payloads {
			resp, err := c.PostWebhook(token, p.Body)
			if err != nil {
				output.Error("message %d: %v", p.MessageID, err)
				continue
			}
			sent++
			output.Info("message %d → conversation %d (%v)", p.MessageID, p.ConversationID, resp["status"])
		}

		output.Success("Sent %d/%d webhook payloads", sent, len(payloads))
		return nil
	},
}

func init() {
	seedWebhookCmd.Flags().IntVar(&seedCount, "count", 10, "number of payloads to send")
	seedWebhookCmd.Flags().Int64Var(&seedAccountID, "account-id", 1, "Chatwoot account id")
	seedWebhookCmd.Flags().Int64Var(&seedInboxID, "inbox-id", 1, "Chatwoot inbox id")
	seedWebhookCmd.Flags().Int64Var(&seedConversationID, "conversation-id", 0, "pin all payloads to one conversation (0 = random)")
	seedWebhookCmd.Flags().StringVar(&seedWebhookToken, "token", "", "webhook token")

	seedCmd.AddCommand(seedWebhookCmd)
	rootCmd.AddCommand(seedCmd)
}
