package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/kilianp07/wastedispatch/core/logger"
	"github.com/kilianp07/wastedispatch/core/model"
	"github.com/kilianp07/wastedispatch/core/realtime"
)

var rng = rand.New(rand.NewSource(time.Now().UnixNano()))

// MissionHandler reacts to a mission assigned to a collector.
type MissionHandler interface {
	Handle(ctx context.Context, collectorID, missionID string)
}

// LogHandler only reports assignments.
type LogHandler struct{ Log logger.Logger }

func (h LogHandler) Handle(_ context.Context, collectorID, missionID string) {
	logger.OrNop(h.Log).Infof("%s assigned mission %s", collectorID, missionID)
}

// TokenSource mints a bearer token for a collector.
type TokenSource interface {
	Issue(id realtime.Identity) (string, error)
}

// APIClient drives mission transitions through the REST API.
type APIClient struct {
	BaseURL      string
	Tokens       TokenSource
	Organization string
	HTTP         *http.Client
}

func (a *APIClient) Start(ctx context.Context, collectorID, missionID string) error {
	return a.post(ctx, collectorID, "/missions/"+missionID+"/start", map[string]any{})
}

func (a *APIClient) Complete(ctx context.Context, collectorID, missionID string, c model.Completion) error {
	return a.post(ctx, collectorID, "/missions/"+missionID+"/complete", c)
}

// Register declares the collector to the dispatcher, off duty until its
// first MQTT duty announcement.
func (a *APIClient) Register(ctx context.Context, collectorID string) error {
	op := realtime.Identity{UserID: "simulator", Role: realtime.RoleOperator, OrganizationID: a.Organization}
	body := map[string]any{"name": "Simulated " + collectorID, "organization_id": a.Organization, "on_duty": false}
	return a.send(ctx, http.MethodPut, op, "/collectors/"+collectorID, body)
}

func (a *APIClient) post(ctx context.Context, collectorID, path string, body any) error {
	id := realtime.Identity{
		UserID:         collectorID,
		Role:           realtime.RoleCollector,
		OrganizationID: a.Organization,
	}
	return a.send(ctx, http.MethodPost, id, path, body)
}

func (a *APIClient) send(ctx context.Context, method string, id realtime.Identity, path string, body any) error {
	token, err := a.Tokens.Issue(id)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(a.BaseURL, "/")+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	cli := a.HTTP
	if cli == nil {
		cli = http.DefaultClient
	}
	resp, err := cli.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s %s: %s %s", method, path, resp.Status, e.Error)
	}
	return nil
}

// APIHandler starts then completes assigned missions after Delay each.
// A share of DropRate assignments is ignored to leave missions scheduled.
type APIHandler struct {
	API      *APIClient
	Delay    time.Duration
	DropRate float64
	Log      logger.Logger
}

func (h APIHandler) Handle(ctx context.Context, collectorID, missionID string) {
	log := logger.OrNop(h.Log)
	if h.DropRate > 0 && rng.Float64() < h.DropRate {
		log.Infof("%s ignoring mission %s", collectorID, missionID)
		return
	}
	if !h.wait(ctx) {
		return
	}
	if err := h.API.Start(ctx, collectorID, missionID); err != nil {
		log.Warnf("%s start %s: %v", collectorID, missionID, err)
		return
	}
	if !h.wait(ctx) {
		return
	}
	weight := 5 + rng.Float64()*45
	if err := h.API.Complete(ctx, collectorID, missionID, model.Completion{ActualWeightKg: &weight}); err != nil {
		log.Warnf("%s complete %s: %v", collectorID, missionID, err)
		return
	}
	log.Infof("%s completed mission %s (%.1f kg)", collectorID, missionID, weight)
}

func (h APIHandler) wait(ctx context.Context) bool {
	if h.Delay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(h.Delay):
		return true
	case <-ctx.Done():
		return false
	}
}
