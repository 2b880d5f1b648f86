package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/wastedispatch/core/dispatch/logging"
	"github.com/kilianp07/wastedispatch/pkg/export"
)

var logsFlags struct {
	format    string
	output    string
	since     time.Duration
	missionID string
	collector string
	outcome   string
	limit     int
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Inspect the dispatch decision log",
}

var logsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export dispatch decisions as JSON or CSV",
	Args:  cobra.NoArgs,
	RunE:  runLogsExport,
}

func init() {
	f := logsExportCmd.Flags()
	f.StringVar(&logsFlags.format, "format", "json", "output format (json|csv)")
	f.StringVarP(&logsFlags.output, "output", "o", "", "output file, stdout when empty")
	f.DurationVar(&logsFlags.since, "since", 0, "only records newer than this duration")
	f.StringVar(&logsFlags.missionID, "mission", "", "filter by mission id")
	f.StringVar(&logsFlags.collector, "collector", "", "filter by winner or alternative collector id")
	f.StringVar(&logsFlags.outcome, "outcome", "", "filter by outcome")
	f.IntVar(&logsFlags.limit, "limit", 0, "keep only the most recent records")
	logsCmd.AddCommand(logsExportCmd)
	rootCmd.AddCommand(logsCmd)
}

func runLogsExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := open(ctx)
	if err != nil {
		return err
	}
	defer closeService(svc)

	q := logging.LogQuery{
		MissionID:   logsFlags.missionID,
		CollectorID: logsFlags.collector,
		Outcome:     logsFlags.outcome,
		Limit:       logsFlags.limit,
	}
	if logsFlags.since > 0 {
		q.Start = time.Now().Add(-logsFlags.since)
	}
	recs, err := svc.Decisions.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("query decisions: %w", err)
	}

	w := cmd.OutOrStdout()
	if logsFlags.output != "" {
		f, err := os.Create(logsFlags.output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return export.Write(w, logsFlags.format, recs)
}
