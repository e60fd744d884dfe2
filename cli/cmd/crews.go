package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ecocrm-platform/ecocrm-stack/cli/pkg/output"
)

var crewsCmd = &cobra.Command{
	Use:   "crews",
	Short: "Bot crew management",
	Long:  "Inspect crews and publish immutable crew versions",
}

var crewsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List crews",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := apiClient(cmd)
		if err != nil {
			return err
		}

		crews, err := c.ListCrews()
		if err != nil {
			return fmt.Errorf("failed to list crews: %w", err)
		}

		outputFormat, _ := cmd.Flags().GetString("output")
		if outputFormat == "json" {
			return output.JSON(crews)
		}

		if len(crews) == 0 {
			output.Info("No crews found")
			return nil
		}

		table := output.NewTable([]string{"ID", "Name", "Process", "Created"})
		for _, crew := range crews {
			table.AddRow([]string{
				strconv.FormatInt(crew.ID, 10),
				crew.Name,
				crew.Process,
				crew.CreatedAt.Format("2006-01-02"),
			})
		}
		table.Render()
		return nil
	},
}

var crewsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a crew with its tasks and published versions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid crew id %q", args[0])
		}

		c, _, err := apiClient(cmd)
		if err != nil {
			return err
		}

		detail, err := c.GetCrew(id)
		if err != nil {
			return fmt.Errorf("failed to get crew: %w", err)
		}

		outputFormat, _ := cmd.Flags().GetString("output")
		if outputFormat == "json" {
			return output.JSON(detail)
		}

		output.Info("Crew %d: %s (%s)", detail.ID, detail.Name, detail.Process)
		if detail.Description != nil {
			fmt.Println(*detail.Description)
		}

		fmt.Println()
		table := output.NewTable([]string{"Step", "Task", "Agent"})
		for i, task := range detail.Tasks {
			agent := "-"
			if task.AgentID != nil {
				agent = strconv.FormatInt(*task.AgentID, 10)
			}
			table.AddRow([]string{strconv.Itoa(i + 1), task.Name, agent})
		}
		table.Render()

		fmt.Println()
		versions := output.NewTable([]string{"Version ID", "Tag", "Published"})
		for _, v := range detail.Versions {
			versions.AddRow([]string{
				strconv.FormatInt(v.ID, 10),
				v.VersionTag,
				v.CreatedAt.Format("2006-01-02 15:04"),
			})
		}
		versions.Render()
		return nil
	},
}

var (
	crewsPublishTag   string
	crewsPublishModel int64
)

var crewsPublishCmd = &cobra.Command{
	Use:   "publish [id]",
	Short: "Publish an immutable version of a crew",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid crew id %q", args[0])
		}

		c, _, err := apiClient(cmd)
		if err != nil {
			return err
		}

		version, err := c.PublishCrew(id, crewsPublishTag, crewsPublishModel)
		if err != nil {
			return fmt.Errorf("failed to publish crew: %w", err)
		}

		output.Success("Published crew %d as %s (version id %d)", id, version.VersionTag, version.ID)
		return nil
	},
}

func init() {
	crewsPublishCmd.Flags().StringVar(&crewsPublishTag, "version-tag", "", "tag for the published version (default: auto)")
	crewsPublishCmd.Flags().Int64Var(&crewsPublishModel, "model-id", 0, "pin the snapshot to a catalog model (default: catalog default)")

	crewsCmd.AddCommand(crewsListCmd)
	crewsCmd.AddCommand(crewsShowCmd)
	crewsCmd.AddCommand(crewsPublishCmd)
	rootCmd.AddCommand(crewsCmd)
}
