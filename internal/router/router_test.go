package router

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/rigops/rigagent/internal/auth"
	"github.com/rigops/rigagent/internal/telemetry"
	"github.com/rigops/rigagent/internal/types"
)

type fakeSupervisor struct {
	stops    int
	starts   int
	restarts int
	reason   string
}

func (f *fakeSupervisor) Status() *types.StatusResponse {
	return &types.StatusResponse{IsRunning: true, ShouldBeMining: true, Worker: "xmrig"}
}
func (f *fakeSupervisor) TriggerManualStop() error  { f.stops++; return nil }
func (f *fakeSupervisor) TriggerManualStart() error { f.starts++; return nil }
func (f *fakeSupervisor) ForceRestart(reason string) error {
	f.restarts++
	f.reason = reason
	return nil
}

type fakeOutput struct{ snapshot string }

func (f *fakeOutput) SnapshotOutput() (string, bool) { return f.snapshot, f.snapshot != "" }

type fakeSchedule struct{ refreshes int }

func (f *fakeSchedule) ScheduleConfig() *types.ScheduleConfig {
	return &types.ScheduleConfig{MiningEnabled: true}
}
func (f *fakeSchedule) Refresh(ctx context.Context) (bool, error) {
	f.refreshes++
	return true, nil
}

type testAPI struct {
	engine *gin.Engine
	sup    *fakeSupervisor
	out    *fakeOutput
	sched  *fakeSchedule
	token  string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, err := auth.New("test-secret", 1, filepath.Join(t.TempDir(), "users.yaml"))
	if err != nil {
		t.Fatalf("auth.New: %v", err)
	}
	store, err := telemetry.Open(filepath.Join(t.TempDir(), "telemetry.db"))
	if err != nil {
		t.Fatalf("telemetry.Open: %v", err)
	}

	api := &testAPI{
		sup:   &fakeSupervisor{},
		out:   &fakeOutput{},
		sched: &fakeSchedule{},
	}
	api.engine = New(Deps{
		Auth:       svc,
		Supervisor: api.sup,
		Output:     api.out,
		Schedule:   api.sched,
		Store:      store,
		Version:    "test",
	})

	token, _, err := svc.Authenticate("admin", "rigadmin", "test")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	api.token = token
	return api
}

func (api *testAPI) request(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("X-Rig-Key", api.token)
	}
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	return w
}

func TestStatusRequiresToken(t *testing.T) {
	api := newTestAPI(t)

	if w := api.request(t, "GET", "/miner/status", "", false); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", w.Code)
	}

	w := api.request(t, "GET", "/miner/status", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var status types.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !status.IsRunning || status.Worker != "xmrig" {
		t.Errorf("status = %+v", status)
	}
}

func TestLoginIssuesUsableToken(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest("POST", "/client", strings.NewReader(`{"name":"dashboard"}`))
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:rigadmin")))
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Token string `json:"token"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Name != "dashboard" || resp.Token == "" {
		t.Errorf("login response = %+v", resp)
	}

	statusReq := httptest.NewRequest("GET", "/miner/status", nil)
	statusReq.Header.Set("X-Rig-Key", resp.Token)
	sw := httptest.NewRecorder()
	api.engine.ServeHTTP(sw, statusReq)
	if sw.Code != http.StatusOK {
		t.Errorf("status with login token = %d", sw.Code)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest("POST", "/client", nil)
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:wrong")))
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad login = %d, want 401", w.Code)
	}
}

func TestManualControls(t *testing.T) {
	api := newTestAPI(t)

	if w := api.request(t, "POST", "/miner/stop", "", true); w.Code != http.StatusOK {
		t.Errorf("stop = %d", w.Code)
	}
	if w := api.request(t, "POST", "/miner/start", "", true); w.Code != http.StatusOK {
		t.Errorf("start = %d", w.Code)
	}
	if w := api.request(t, "POST", "/miner/restart", `{"reason":"new pool"}`, true); w.Code != http.StatusOK {
		t.Errorf("restart = %d", w.Code)
	}

	if api.sup.stops != 1 || api.sup.starts != 1 || api.sup.restarts != 1 {
		t.Errorf("supervisor calls: %+v", api.sup)
	}
	if api.sup.reason != "new pool" {
		t.Errorf("restart reason = %q", api.sup.reason)
	}
}

func TestOutputSnapshot(t *testing.T) {
	api := newTestAPI(t)

	if w := api.request(t, "GET", "/miner/output", "", true); w.Code != http.StatusNoContent {
		t.Errorf("no session output = %d, want 204", w.Code)
	}

	api.out.snapshot = "speed 10s/60s/15m 4021.2 H/s"
	w := api.request(t, "GET", "/miner/output", "", true)
	if w.Code != http.StatusOK {
		t.Errorf("output = %d", w.Code)
	}
}

func TestScheduleEndpoints(t *testing.T) {
	api := newTestAPI(t)

	w := api.request(t, "GET", "/schedule", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("get schedule = %d", w.Code)
	}

	if w := api.request(t, "POST", "/schedule/refresh", "", true); w.Code != http.StatusOK {
		t.Errorf("refresh = %d, body %s", w.Code, w.Body.String())
	}
	if api.sched.refreshes != 1 {
		t.Errorf("refreshes = %d", api.sched.refreshes)
	}
}

func TestPingIsPublic(t *testing.T) {
	api := newTestAPI(t)
	if w := api.request(t, "GET", "/ping", "", false); w.Code != http.StatusOK {
		t.Errorf("ping = %d", w.Code)
	}
}
