package api

import (
	"context"
	"log"
	"time"

	"github.com/rigops/rigagent/internal/sysinfo"
	"github.com/rigops/rigagent/internal/types"
)

// StatusSource supplies the supervisor status included in heartbeats.
type StatusSource interface {
	Status() *types.StatusResponse
}

// HeartbeatAgent periodically reports the rig to the backend.
type HeartbeatAgent struct {
	client   *Client
	status   StatusSource
	interval time.Duration
	version  string
}

// NewHeartbeatAgent constructs a heartbeat loop with sane defaults.
func NewHeartbeatAgent(client *Client, status StatusSource, interval time.Duration, version string) *HeartbeatAgent {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HeartbeatAgent{client: client, status: status, interval: interval, version: version}
}

// Run sends heartbeats until the context is cancelled. Failures are
// logged and retried on the next tick, never fatal.
func (a *HeartbeatAgent) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.send(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.send(ctx)
		}
	}
}

func (a *HeartbeatAgent) send(ctx context.Context) {
	hb := &types.HeartbeatPayload{
		AgentVersion: a.version,
		Status:       a.status.Status(),
	}
	if snap, err := sysinfo.Collect(); err == nil {
		hb.Device = snap
	}
	if err := a.client.Heartbeat(ctx, hb); err != nil {
		log.Printf("Warning: heartbeat failed: %v", err)
	}
}
