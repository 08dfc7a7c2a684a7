package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/rigops/rigagent/internal/types"
)

// fakeHTTP replays a canned response and records the request.
type fakeHTTP struct {
	req    *http.Request
	body   string
	status int
	err    error
}

func (f *fakeHTTP) Do(req *http.Request) (*http.Response, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(f.body)),
	}, nil
}

func newTestClient(f *fakeHTTP) *Client {
	c := New(Config{APIBase: "http://backend.example/api", Token: "tok-123", RigID: "rig-7"})
	c.http = f
	return c
}

func TestFetchSchedule(t *testing.T) {
	f := &fakeHTTP{body: `{"miningEnabled":true,"periods":[{"days":["monday"],"start":"09:00","end":"17:00"}]}`}
	c := newTestClient(f)

	cfg, err := c.FetchSchedule(context.Background())
	if err != nil {
		t.Fatalf("FetchSchedule: %v", err)
	}
	if !cfg.MiningEnabled || len(cfg.Periods) != 1 || cfg.Periods[0].Start != "09:00" {
		t.Errorf("unexpected schedule: %+v", cfg)
	}
	if got := f.req.URL.Path; got != "/api/rigs/rig-7/schedule" {
		t.Errorf("request path = %s", got)
	}
	if got := f.req.Header.Get("X-Rig-Token"); got != "tok-123" {
		t.Errorf("token header = %q", got)
	}
}

func TestFetchFlightsheet(t *testing.T) {
	f := &fakeHTTP{body: `{"name":"night-monero","worker":"xmrig","params":{"url":"pool:3333"}}`}
	c := newTestClient(f)

	fs, err := c.FetchFlightsheet(context.Background())
	if err != nil {
		t.Fatalf("FetchFlightsheet: %v", err)
	}
	if fs.Worker != "xmrig" || fs.Name != "night-monero" {
		t.Errorf("unexpected flightsheet: %+v", fs)
	}
}

func TestHeartbeatPostsStatus(t *testing.T) {
	f := &fakeHTTP{body: `{}`}
	c := newTestClient(f)

	hb := &types.HeartbeatPayload{Status: &types.StatusResponse{IsRunning: true}}
	if err := c.Heartbeat(context.Background(), hb); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if f.req.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", f.req.Method)
	}

	data, _ := io.ReadAll(f.req.Body)
	var sent types.HeartbeatPayload
	if err := json.Unmarshal(data, &sent); err != nil {
		t.Fatalf("decode sent payload: %v", err)
	}
	if sent.RigID != "rig-7" || sent.Token != "tok-123" {
		t.Errorf("identity not stamped onto payload: %+v", sent)
	}
	if sent.Status == nil || !sent.Status.IsRunning {
		t.Error("status missing from payload")
	}
}

func TestBackendErrorStatus(t *testing.T) {
	f := &fakeHTTP{status: http.StatusBadGateway, body: "upstream sad"}
	c := newTestClient(f)

	if _, err := c.FetchSchedule(context.Background()); err == nil {
		t.Error("FetchSchedule on 502 = nil error")
	}
	if err := c.ReportIncident(context.Background(), &types.IncidentReport{Message: "x"}); err == nil {
		t.Error("ReportIncident on 502 = nil error")
	}
}
