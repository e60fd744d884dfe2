package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ecocrm-platform/ecocrm-stack/cli/pkg/output"
)

var (
	runsSource string
	runsStatus string
	runsLimit  int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Bot run inspection",
}

var runsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := apiClient(cmd)
		if err != nil {
			return err
		}

		runs, err := c.ListRuns(runsSource, runsStatus, runsLimit)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}

		outputFormat, _ := cmd.Flags().GetString("output")
		if outputFormat == "json" {
			return output.JSON(runs)
		}

		if len(runs) == 0 {
			output.Info("No runs found")
			return nil
		}

		table := output.NewTable([]string{"ID", "Status", "Source", "Conversation", "Version", "Started"})
		for _, run := range runs {
			conversation := "-"
			if run.ConversationID != nil {
				conversation = *run.ConversationID
			}
			version := "-"
			if run.CrewVersionID != nil {
				version = strconv.FormatInt(*run.CrewVersionID, 10)
			}
			table.AddRow([]string{
				run.ID,
				run.Status,
				run.Source,
				conversation,
				version,
				run.CreatedAt.Format("2006-01-02 15:04:05"),
			})
		}
		table.Render()
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a run with its event log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := apiClient(cmd)
		if err != nil {
			return err
		}

		detail, err := c.GetRun(args[0])
		if err != nil {
			return fmt.Errorf("failed to get run: %w", err)
		}

		outputFormat, _ := cmd.Flags().GetString("output")
		if outputFormat == "json" {
			return output.JSON(detail)
		}

		output.Info("Run %s: %s", detail.ID, detail.Status)
		if detail.ResultOutput != nil {
			fmt.Println(*detail.ResultOutput)
		}

		fmt.Println()
		table := output.NewTable([]string{"Seq", "Event", "At", "Payload"})
		for _, ev := range detail.Events {
			table.AddRow([]string{
				strconv.Itoa(ev.Seq),
				ev.EventType,
				ev.OccurredAt.Format("15:04:05"),
				string(ev.PayloadJSON),
			})
		}
		table.Render()
		return nil
	},
}

func init() {
	runsListCmd.Flags().StringVar(&runsSource, "source", "", "filter by source (chatwoot, manual)")
	runsListCmd.Flags().StringVar(&runsStatus, "status", "", "filter by status (running, success, failed, skipped)")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 50, "maximum runs to return")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
