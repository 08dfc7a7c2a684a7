// rigctl is the operator CLI for a running rigagent: login, status,
// manual worker control and incident history over the local control API.
package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"

	"github.com/rigops/rigagent/internal/types"
)

// Globals holds connection settings shared by all commands.
type Globals struct {
	Server string `name:"server" default:"http://127.0.0.1:9100" help:"Agent control API address."`
	Token  string `name:"token" help:"API token (default: read from the token file)."`
}

type CLI struct {
	Globals

	Login     LoginCmd     `cmd:"" help:"Authenticate and store an API token."`
	Status    StatusCmd    `cmd:"" help:"Show supervisor status."`
	Stop      StopCmd      `cmd:"" help:"Stop the worker and suppress automatic restarts."`
	Start     StartCmd     `cmd:"" help:"Start the worker immediately."`
	Restart   RestartCmd   `cmd:"" help:"Restart the worker, bypassing the cooldown."`
	Output    OutputCmd    `cmd:"" help:"Print the worker's recent terminal output."`
	Incidents IncidentsCmd `cmd:"" help:"List recorded incidents."`
	Events    EventsCmd    `cmd:"" help:"List supervisor lifecycle events."`
	Schedule  ScheduleCmd  `cmd:"" help:"Show the active mining schedule."`
}

func tokenFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rigctl-token"
	}
	return filepath.Join(home, ".config", "rigctl", "token")
}

func (g *Globals) token() (string, error) {
	if g.Token != "" {
		return g.Token, nil
	}
	data, err := os.ReadFile(tokenFilePath())
	if err != nil {
		return "", fmt.Errorf("not logged in, run: rigctl login")
	}
	return strings.TrimSpace(string(data)), nil
}

// call performs an authenticated request and decodes the JSON response
// into out (out may be nil).
func (g *Globals) call(method, path string, body io.Reader, out interface{}) error {
	token, err := g.token()
	if err != nil {
		return err
	}

	req, err := http.NewRequest(method, strings.TrimRight(g.Server, "/")+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-Rig-Key", token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out != nil && len(data) > 0 {
		return json.Unmarshal(data, out)
	}
	return nil
}

type LoginCmd struct {
	Username string `arg:"" help:"Account username."`
	Password string `arg:"" optional:"" help:"Account password (prompted via stdin when omitted)."`
}

func (c *LoginCmd) Run(g *Globals) error {
	password := c.Password
	if password == "" {
		fmt.Fprint(os.Stderr, "password: ")
		if _, err := fmt.Scanln(&password); err != nil {
			return fmt.Errorf("read password: %v", err)
		}
	}

	req, err := http.NewRequest("POST", strings.TrimRight(g.Server, "/")+"/client",
		strings.NewReader(`{"name":"rigctl"}`))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Basic "+
		base64.StdEncoding.EncodeToString([]byte(c.Username+":"+password)))
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed: %s", resp.Status)
	}

	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return err
	}

	path := tokenFilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(loginResp.Token), 0600); err != nil {
		return err
	}
	fmt.Printf("logged in, token stored at %s\n", path)
	return nil
}

type StatusCmd struct{}

func (c *StatusCmd) Run(g *Globals) error {
	var status types.StatusResponse
	if err := g.call("GET", "/miner/status", nil, &status); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "worker:\t%s\n", orDash(status.Worker))
	fmt.Fprintf(w, "running:\t%v\n", status.IsRunning)
	fmt.Fprintf(w, "should be mining:\t%v\n", status.ShouldBeMining)
	fmt.Fprintf(w, "scheduling enabled:\t%v\n", status.SchedulingEnabled)
	fmt.Fprintf(w, "active period:\t%s\n", orDash(status.ActivePeriod))
	fmt.Fprintf(w, "next restart:\t%s\n", orDash(status.NextRestart))
	fmt.Fprintf(w, "manually stopped:\t%v\n", status.ManuallyStopped)
	fmt.Fprintf(w, "halted:\t%v\n", status.Halted)
	fmt.Fprintf(w, "crash count:\t%d\n", status.CrashCount)
	if !status.LastRestartAt.IsZero() {
		fmt.Fprintf(w, "last restart:\t%s\n", status.LastRestartAt.Format(time.RFC3339))
	}
	return w.Flush()
}

type StopCmd struct{}

func (c *StopCmd) Run(g *Globals) error {
	if err := g.call("POST", "/miner/stop", nil, nil); err != nil {
		return err
	}
	fmt.Println("worker stopped, automatic restarts suppressed for 10 minutes")
	return nil
}

type StartCmd struct{}

func (c *StartCmd) Run(g *Globals) error {
	if err := g.call("POST", "/miner/start", nil, nil); err != nil {
		return err
	}
	fmt.Println("worker started")
	return nil
}

type RestartCmd struct {
	Reason string `help:"Reason recorded with the restart."`
}

func (c *RestartCmd) Run(g *Globals) error {
	body, _ := json.Marshal(map[string]string{"reason": c.Reason})
	if err := g.call("POST", "/miner/restart", strings.NewReader(string(body)), nil); err != nil {
		return err
	}
	fmt.Println("worker restarted")
	return nil
}

type OutputCmd struct{}

func (c *OutputCmd) Run(g *Globals) error {
	token, err := g.token()
	if err != nil {
		return err
	}
	req, err := http.NewRequest("GET", strings.TrimRight(g.Server, "/")+"/miner/output", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Rig-Key", token)

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		fmt.Println("no worker session")
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch output: %s", resp.Status)
	}
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

type IncidentsCmd struct {
	Limit int `default:"20" help:"Maximum number of incidents to list."`
}

func (c *IncidentsCmd) Run(g *Globals) error {
	var incidents []struct {
		UID       string    `json:"uid"`
		Message   string    `json:"message"`
		Critical  bool      `json:"critical"`
		Reported  bool      `json:"reported"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := g.call("GET", fmt.Sprintf("/telemetry/incidents?limit=%d", c.Limit), nil, &incidents); err != nil {
		return err
	}
	if len(incidents) == 0 {
		fmt.Println("no incidents recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tSEVERITY\tREPORTED\tMESSAGE")
	for _, inc := range incidents {
		severity := "warning"
		if inc.Critical {
			severity = "critical"
		}
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\n",
			inc.CreatedAt.Format("2006-01-02 15:04"), severity, inc.Reported, inc.Message)
	}
	return w.Flush()
}

type EventsCmd struct {
	Limit int `default:"50" help:"Maximum number of events to list."`
}

func (c *EventsCmd) Run(g *Globals) error {
	var events []struct {
		Level     string    `json:"level"`
		Category  string    `json:"category"`
		Message   string    `json:"message"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := g.call("GET", fmt.Sprintf("/telemetry/events?limit=%d", c.Limit), nil, &events); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tLEVEL\tCATEGORY\tMESSAGE")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			ev.CreatedAt.Format("2006-01-02 15:04"), ev.Level, ev.Category, ev.Message)
	}
	return w.Flush()
}

type ScheduleCmd struct{}

func (c *ScheduleCmd) Run(g *Globals) error {
	var sched types.ScheduleConfig
	if err := g.call("GET", "/schedule", nil, &sched); err != nil {
		return err
	}

	if !sched.MiningEnabled {
		fmt.Println("scheduling disabled: worker runs at all times")
		return nil
	}
	if len(sched.Periods) == 0 {
		fmt.Println("scheduling enabled with no periods: worker never runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DAYS\tSTART\tEND")
	for _, p := range sched.Periods {
		fmt.Fprintf(w, "%s\t%s\t%s\n", strings.Join(p.Days, ","), p.Start, p.End)
	}
	if len(sched.Restarts) > 0 {
		fmt.Fprintln(w, "\nRESTART\tDAYS\t")
		for _, r := range sched.Restarts {
			days := strings.Join(r.Days, ",")
			if days == "" {
				days = "daily"
			}
			fmt.Fprintf(w, "%s\t%s\t\n", r.Time, days)
		}
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func main() {
	var cli CLI

	ctx := kong.Parse(&cli,
		kong.Name("rigctl"),
		kong.Description("rigctl — operator CLI for a running rigagent"),
		kong.UsageOnError(),
		kong.Bind(&cli.Globals),
	)

	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
