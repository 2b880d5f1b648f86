package realtime

import (
	"encoding/json"
	"time"

	"github.com/kilianp07/wastedispatch/core/model"
)

// EnvelopeVersion is bumped on breaking payload changes.
const EnvelopeVersion = 1

// Outbound event names.
const (
	EventNewWasteRequest         = "new_waste_request"
	EventCollectorAssigned       = "collector_assigned"
	EventCollectionStarted       = "collection_started"
	EventCollectionCompleted     = "collection_completed"
	EventCollectorLocationUpdate = "collector_location_update"
	EventMissionCancelled        = "mission_cancelled"
	EventError                   = "error"
)

// Inbound event names accepted from collectors.
const (
	InboundLocationUpdate      = "location_update"
	InboundCollectionStarted   = "collection_started"
	InboundCollectionCompleted = "collection_completed"
)

// Envelope wraps every message sent to clients.
type Envelope struct {
	Event   string          `json:"event"`
	Version int             `json:"version"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sent_at"`
}

// NewEnvelope encodes payload for event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Version: EnvelopeVersion, Payload: raw, SentAt: time.Now().UTC()}, nil
}

// Inbound is a message received from a client.
type Inbound struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// MissionSummary is sent with new_waste_request.
type MissionSummary struct {
	MissionID      string       `json:"mission_id"`
	RequesterID    string       `json:"requester_id"`
	OrganizationID string       `json:"organization_id,omitempty"`
	Waste          model.Waste  `json:"waste"`
	Pickup         *model.Point `json:"pickup,omitempty"`
	Address        string       `json:"address,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// CollectorAssigned is sent when a mission is scheduled.
type CollectorAssigned struct {
	MissionID   string    `json:"mission_id"`
	CollectorID string    `json:"collector_id"`
	RequesterID string    `json:"requester_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// CollectionStarted is both the inbound command and the outbound notice.
type CollectionStarted struct {
	MissionID   string    `json:"mission_id"`
	CollectorID string    `json:"collector_id,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
}

// CollectionCompleted is both the inbound command and the outbound notice.
type CollectionCompleted struct {
	MissionID      string    `json:"mission_id"`
	CollectorID    string    `json:"collector_id,omitempty"`
	ActualWeightKg *float64  `json:"actual_weight_kg,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	CompletedAt    time.Time `json:"completed_at,omitempty"`
}

// LocationUpdate is both the inbound report and the outbound broadcast.
type LocationUpdate struct {
	CollectorID    string    `json:"collector_id,omitempty"`
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	AccuracyMeters float64   `json:"accuracy_m,omitempty"`
	Timestamp      time.Time `json:"timestamp,omitempty"`
}

// Position converts the update, stamping now when the client sent no time.
func (u LocationUpdate) Position(now time.Time) model.Position {
	ts := u.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return model.Position{Point: model.Point{Lat: u.Lat, Lng: u.Lng}, Timestamp: ts, AccuracyMeters: u.AccuracyMeters}
}

// DutyUpdate is the payload collectors publish when they start or end a shift.
type DutyUpdate struct {
	OnDuty bool `json:"on_duty"`
}

// MissionCancelled is sent when a mission is cancelled.
type MissionCancelled struct {
	MissionID   string    `json:"mission_id"`
	Reason      string    `json:"reason,omitempty"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// ErrorPayload reports a rejected inbound message to its sender.
type ErrorPayload struct {
	Code      string       `json:"code"`
	Message   string       `json:"message"`
	Event     string       `json:"event,omitempty"`
	MissionID string       `json:"mission_id,omitempty"`
	Current   model.Status `json:"current_status,omitempty"`
}
