// Package api is the agent's client for the fleet-management backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rigops/rigagent/internal/types"
)

// HTTPClient defines the http.Client subset required by Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config controls backend client behavior.
type Config struct {
	APIBase string
	Token   string
	RigID   string
	Timeout time.Duration
}

// Client talks to the fleet backend. All calls carry bounded timeouts;
// a slow backend must never stall a supervisor tick.
type Client struct {
	cfg  Config
	http HTTPClient
}

// New constructs a Client with sane defaults.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "http://127.0.0.1:9000/api"
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.APIBase, "/") + path
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Rig-Token", c.cfg.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: backend returned %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// FetchSchedule retrieves the rig's current mining schedule.
func (c *Client) FetchSchedule(ctx context.Context) (*types.ScheduleConfig, error) {
	var cfg types.ScheduleConfig
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/rigs/%s/schedule", c.cfg.RigID), nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FetchFlightsheet retrieves the rig's assigned flightsheet.
func (c *Client) FetchFlightsheet(ctx context.Context) (*types.Flightsheet, error) {
	var fs types.Flightsheet
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/rigs/%s/flightsheet", c.cfg.RigID), nil, &fs); err != nil {
		return nil, err
	}
	return &fs, nil
}

// Heartbeat posts the rig's liveness and status snapshot.
func (c *Client) Heartbeat(ctx context.Context, hb *types.HeartbeatPayload) error {
	hb.RigID = c.cfg.RigID
	hb.Token = c.cfg.Token
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/rigs/%s/heartbeat", c.cfg.RigID), hb, nil)
}

// ReportIncident pushes an incident to the backend telemetry endpoint.
func (c *Client) ReportIncident(ctx context.Context, inc *types.IncidentReport) error {
	inc.RigID = c.cfg.RigID
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/rigs/%s/incidents", c.cfg.RigID), inc, nil)
}
