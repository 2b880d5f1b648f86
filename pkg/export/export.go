// Package export writes dispatch decision records for offline analysis.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/wastedispatch/core/dispatch/logging"
)

// Formats lists the supported output formats.
var Formats = []string{"json", "csv"}

var csvHeader = []string{
	"timestamp", "mission_id", "organization_id", "outcome", "winner_id",
	"winner_score", "alternatives", "used_fallback", "considered", "duration_ms", "error",
}

// Write encodes records to w in the named format.
func Write(w io.Writer, format string, records []logging.LogRecord) error {
	switch strings.ToLower(format) {
	case "json":
		return WriteJSON(w, records)
	case "csv":
		return WriteCSV(w, records)
	default:
		return fmt.Errorf("export: unsupported format %q", format)
	}
}

// WriteJSON writes the records as a JSON array.
func WriteJSON(w io.Writer, records []logging.LogRecord) error {
	if records == nil {
		records = []logging.LogRecord{}
	}
	return json.NewEncoder(w).Encode(records)
}

// WriteCSV writes one row per record. Alternatives are joined with ';'.
func WriteCSV(w io.Writer, records []logging.LogRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		score := ""
		if s, ok := r.Scores[r.WinnerID]; ok && r.WinnerID != "" {
			score = strconv.FormatFloat(s, 'f', 2, 64)
		}
		row := []string{
			r.Timestamp.UTC().Format(time.RFC3339),
			r.MissionID,
			r.OrganizationID,
			r.Outcome,
			r.WinnerID,
			score,
			strings.Join(r.Alternatives, ";"),
			strconv.FormatBool(r.UsedFallback),
			strconv.Itoa(r.Considered),
			strconv.FormatInt(r.DurationMs, 10),
			r.Error,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
