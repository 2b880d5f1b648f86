package logging

import (
	"context"
	"time"
)

// LogRecord captures one dispatch decision.
type LogRecord struct {
	Timestamp      time.Time          `json:"timestamp"`
	MissionID      string             `json:"mission_id"`
	OrganizationID string             `json:"organization_id,omitempty"`
	Outcome        string             `json:"outcome"`
	WinnerID       string             `json:"winner_id,omitempty"`
	Alternatives   []string           `json:"alternatives,omitempty"`
	Scores         map[string]float64 `json:"scores,omitempty"`
	UsedFallback   bool               `json:"used_fallback"`
	Considered     int                `json:"considered"`
	Error          string             `json:"error,omitempty"`
	DurationMs     int64              `json:"duration_ms"`
}

// LogQuery defines filters for retrieving records. Zero fields match all.
type LogQuery struct {
	Start       time.Time
	End         time.Time
	MissionID   string
	CollectorID string
	Outcome     string
	// Limit keeps the most recent records when positive.
	Limit int
}

// Match reports whether r satisfies q (Limit excluded).
func (q LogQuery) Match(r LogRecord) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.MissionID != "" && r.MissionID != q.MissionID {
		return false
	}
	if q.Outcome != "" && r.Outcome != q.Outcome {
		return false
	}
	if q.CollectorID != "" && r.WinnerID != q.CollectorID {
		for _, id := range r.Alternatives {
			if id == q.CollectorID {
				return true
			}
		}
		return false
	}
	return true
}

func (q LogQuery) truncate(res []LogRecord) []LogRecord {
	if q.Limit > 0 && len(res) > q.Limit {
		return res[len(res)-q.Limit:]
	}
	return res
}

// LogStore persists LogRecords and supports querying.
type LogStore interface {
	Append(ctx context.Context, rec LogRecord) error
	Query(ctx context.Context, q LogQuery) ([]LogRecord, error)
	Close() error
}
