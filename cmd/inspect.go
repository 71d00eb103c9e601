package cmd

import (
	"fmt"

	"github.com/brensch/migrobot/internal/inspector"
	"github.com/brensch/migrobot/internal/migtype"

	"github.com/spf13/cobra"
)

var inspectType string

var inspectCmd = &cobra.Command{
	Use:   "inspect <customer>",
	Short: "Show how the robot sees one customer drop, without changing it",
	Long: `Runs the precondition checks, resolves the customer layout and reads the
archives, cmd scripts, DOCS folder and Counters.csv of one customer drop. Nothing
is created, moved or renamed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()

		kind, err := migtype.Parse(inspectType)
		if err != nil {
			return err
		}
		rep, err := inspector.Inspect(cfg, args[0], kind, logger)
		if err != nil {
			logger.Error("Inspection completed with errors", "error", err)
			return fmt.Errorf("inspection failed: %w", err)
		}
		rep.Write(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVarP(&inspectType, "type", "t", "", "Migration type (PDOL, SDOL or MLM)")
	inspectCmd.MarkFlagRequired("type")
}
