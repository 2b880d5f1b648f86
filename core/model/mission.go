package model

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a mission.
type Status string

const (
	StatusPending    Status = "pending"
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// String returns the wire representation of the status.
func (s Status) String() string { return string(s) }

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active reports whether a mission in this state counts towards collector load.
func (s Status) Active() bool {
	return s == StatusScheduled || s == StatusInProgress
}

// RequiresCollector reports whether a mission in this state must reference a collector.
func (s Status) RequiresCollector() bool {
	return s == StatusScheduled || s == StatusInProgress || s == StatusCompleted
}

// ParseStatus converts a string into a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// Urgency ranks how quickly a pickup is needed.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// Weight returns the relative importance of the urgency tier.
func (u Urgency) Weight() float64 {
	switch u {
	case UrgencyHigh:
		return 3
	case UrgencyLow:
		return 0.5
	default:
		return 1
	}
}

// Waste describes what has to be collected.
type Waste struct {
	Type              string  `json:"type" bson:"type"`
	EstimatedWeightKg float64 `json:"estimated_weight_kg" bson:"estimated_weight_kg"`
	Urgency           Urgency `json:"urgency" bson:"urgency"`
}

// TimeWindow is the requester's desired pickup window.
type TimeWindow struct {
	Start time.Time `json:"start" bson:"start"`
	End   time.Time `json:"end" bson:"end"`
}

// Completion holds the details supplied by the collector when finishing.
type Completion struct {
	ActualWeightKg *float64 `json:"actual_weight_kg,omitempty" bson:"actual_weight_kg,omitempty"`
	Notes          string   `json:"notes,omitempty" bson:"notes,omitempty"`
}

// Contact is where the requester wants to be notified.
type Contact struct {
	Phone string `json:"phone,omitempty" bson:"phone,omitempty"`
	Email string `json:"email,omitempty" bson:"email,omitempty"`
}

// Mission is a waste-collection request tracked from creation to completion
// or cancellation.
type Mission struct {
	ID                  string      `json:"id" bson:"_id"`
	RequesterID         string      `json:"requester_id" bson:"requester_id"`
	OrganizationID      string      `json:"organization_id,omitempty" bson:"organization_id,omitempty"`
	Waste               Waste       `json:"waste" bson:"waste"`
	Pickup              *Point      `json:"pickup,omitempty" bson:"pickup,omitempty"`
	AddressText         string      `json:"address,omitempty" bson:"address,omitempty"`
	Contact             Contact     `json:"contact" bson:"contact"`
	Window              TimeWindow  `json:"window" bson:"window"`
	Status              Status      `json:"status" bson:"status"`
	AssignedCollectorID string      `json:"assigned_collector_id,omitempty" bson:"assigned_collector_id,omitempty"`
	CreatedAt           time.Time   `json:"created_at" bson:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at" bson:"updated_at"`
	ScheduledAt         *time.Time  `json:"scheduled_at,omitempty" bson:"scheduled_at,omitempty"`
	StartedAt           *time.Time  `json:"started_at,omitempty" bson:"started_at,omitempty"`
	CompletedAt         *time.Time  `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	CancelledAt         *time.Time  `json:"cancelled_at,omitempty" bson:"cancelled_at,omitempty"`
	CancelReason        string      `json:"cancel_reason,omitempty" bson:"cancel_reason,omitempty"`
	Completion          *Completion `json:"completion,omitempty" bson:"completion,omitempty"`
}

// CheckInvariant verifies that the collector reference matches the status.
func (m Mission) CheckInvariant() error {
	has := m.AssignedCollectorID != ""
	if m.Status.RequiresCollector() && !has {
		return fmt.Errorf("mission %s: status %s requires an assigned collector", m.ID, m.Status)
	}
	if !m.Status.RequiresCollector() && has {
		return fmt.Errorf("mission %s: status %s must not reference a collector", m.ID, m.Status)
	}
	return nil
}
