package types

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AppConfig application config structure
type AppConfig struct {
	Port              int            `yaml:"port"`
	JWTSecret         string         `yaml:"jwt_secret"`
	JWTExpiryDuration int            `yaml:"jwt_expiry_duration"` // hours
	Mode              string         `yaml:"mode"`                // "dev" | "prod" | "test"
	SessionName       string         `yaml:"session_name"`        // reserved tmux session name for the worker
	MinersDir         string         `yaml:"miners_dir"`          // directory holding installed miner binaries
	DataDir           string         `yaml:"data_dir"`            // agent state directory (flightsheet, param files)
	Backend           BackendConfig  `yaml:"backend"`
	Database          DatabaseConfig `yaml:"database"`
	Telegram          TelegramConfig `yaml:"telegram,omitempty"`
}

// BackendConfig fleet backend connection settings
type BackendConfig struct {
	APIBase           string `yaml:"api_base"`
	Token             string `yaml:"token"`
	RigID             string `yaml:"rig_id"`
	HeartbeatInterval int    `yaml:"heartbeat_interval"` // seconds, 0 = default
}

// DatabaseConfig local telemetry database settings
type DatabaseConfig struct {
	Database         string `yaml:"database"`           // sqlite file path
	LogRetentionDays int    `yaml:"log_retention_days"` // incident/event retention
}

// TelegramConfig optional crash-loop alerting via Telegram
type TelegramConfig struct {
	BotToken string `yaml:"bot_token,omitempty"`
	ChatID   int64  `yaml:"chat_id,omitempty"`
}

// ScheduleConfig declarative mining schedule, replaced wholesale on each
// refresh. Readers must never observe a half-updated value: holders swap
// the pointer, they do not mutate in place.
type ScheduleConfig struct {
	MiningEnabled bool           `yaml:"mining_enabled" json:"miningEnabled"`
	Periods       []MiningPeriod `yaml:"periods" json:"periods"`
	Restarts      []RestartRule  `yaml:"restarts" json:"restarts"`
}

// MiningPeriod recurring weekly window during which the worker may run.
// Start > End denotes an overnight window wrapping midnight.
type MiningPeriod struct {
	Days  []string `yaml:"days" json:"days"`   // lowercase weekday names
	Start string   `yaml:"start" json:"start"` // "HH:MM"
	End   string   `yaml:"end" json:"end"`     // "HH:MM"
}

// RestartRule scheduled worker restart. Empty Days means every day.
type RestartRule struct {
	Time string   `yaml:"time" json:"time"` // "HH:MM"
	Days []string `yaml:"days,omitempty" json:"days,omitempty"`
}

// Flightsheet remotely-defined workload descriptor: which miner to run
// and with which parameters.
type Flightsheet struct {
	Name   string                 `yaml:"name" json:"name"`
	Worker string                 `yaml:"worker" json:"worker"` // miner executable name: xmrig, ccminer, cpuminer
	Params map[string]interface{} `yaml:"params" json:"params"` // materialized into the miner's JSON config
}

// WorkerIdentity the selected workload's executable and its required
// artifacts. Opaque to the supervisor except for existence checks.
type WorkerIdentity struct {
	Name      string `json:"name"`
	ExecPath  string `json:"execPath"`
	ParamFile string `json:"paramFile"`
}

// StatusResponse supervisor status surface
type StatusResponse struct {
	CurrentDay        string    `json:"currentDay"`
	CurrentTime       string    `json:"currentTime"`
	SchedulingEnabled bool      `json:"schedulingEnabled"`
	ActivePeriod      string    `json:"activePeriod,omitempty"`
	NextRestart       string    `json:"nextRestart,omitempty"`
	IsRunning         bool      `json:"isRunning"`
	ShouldBeMining    bool      `json:"shouldBeMining"`
	ManuallyStopped   bool      `json:"manuallyStopped"`
	Halted            bool      `json:"halted"`
	CrashCount        int       `json:"crashCount"`
	Worker            string    `json:"worker,omitempty"`
	LastRestartAt     time.Time `json:"lastRestartAt,omitempty"`
}

// HeartbeatPayload posted to the fleet backend on each heartbeat tick
type HeartbeatPayload struct {
	RigID        string          `json:"rigId"`
	Token        string          `json:"token"`
	AgentVersion string          `json:"agentVersion"`
	Status       *StatusResponse `json:"status"`
	Device       interface{}     `json:"device,omitempty"`
}

// IncidentReport sent to the fleet backend telemetry endpoint
type IncidentReport struct {
	UID      string            `json:"uid"`
	RigID    string            `json:"rigId"`
	Message  string            `json:"message"`
	Stack    string            `json:"stack,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Critical bool              `json:"critical"`
	At       time.Time         `json:"at"`
}

// UserConfig control-surface user
type UserConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"` // bcrypt hash
	Role     string `yaml:"role"`
}

// UsersConfig user config file structure
type UsersConfig struct {
	Users []UserConfig `yaml:"users"`
}

// Claims JWT claim structure
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// WSMessage websocket push envelope
type WSMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// MinerStateMessage pushed whenever the supervisor changes the worker state
type MinerStateMessage struct {
	Running        bool   `json:"running"`
	ShouldBeMining bool   `json:"shouldBeMining"`
	Reason         string `json:"reason,omitempty"`
	CrashCount     int    `json:"crashCount"`
	Halted         bool   `json:"halted"`
}

// IncidentMessage pushed when an incident is recorded
type IncidentMessage struct {
	UID      string `json:"uid"`
	Message  string `json:"message"`
	Critical bool   `json:"critical"`
}
