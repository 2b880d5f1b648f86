package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var assignTimeout time.Duration

var assignCmd = &cobra.Command{
	Use:   "assign <mission-id>",
	Short: "Print the dispatch plan of a pending mission without committing it",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssign,
}

func init() {
	assignCmd.Flags().DurationVar(&assignTimeout, "timeout", 10*time.Second, "lookup timeout")
	rootCmd.AddCommand(assignCmd)
}

func runAssign(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), assignTimeout)
	defer cancel()

	svc, err := open(ctx)
	if err != nil {
		return err
	}
	defer closeService(svc)

	m, err := svc.Store.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("load mission: %w", err)
	}
	res, err := svc.Engine.Plan(ctx, m)
	if err != nil {
		return fmt.Errorf("plan %s: %w", m.ID, err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
