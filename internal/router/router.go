// Package router wires the agent's local control API: login, status,
// manual miner control, incident history and the live websocket stream.
package router

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/rigops/rigagent/internal/auth"
	"github.com/rigops/rigagent/internal/middleware"
	"github.com/rigops/rigagent/internal/stream"
	"github.com/rigops/rigagent/internal/telemetry"
	"github.com/rigops/rigagent/internal/types"
)

// Supervisor is the worker control surface exposed over HTTP.
type Supervisor interface {
	Status() *types.StatusResponse
	TriggerManualStop() error
	TriggerManualStart() error
	ForceRestart(reason string) error
}

// OutputSource provides the worker's recent terminal output.
type OutputSource interface {
	SnapshotOutput() (string, bool)
}

// ScheduleSource exposes the declarative schedule and its refresh.
type ScheduleSource interface {
	ScheduleConfig() *types.ScheduleConfig
	Refresh(ctx context.Context) (bool, error)
}

// Deps collects everything the control API talks to.
type Deps struct {
	Auth       *auth.Service
	Supervisor Supervisor
	Output     OutputSource
	Schedule   ScheduleSource
	Store      *telemetry.Store
	Version    string
}

// New builds the gin engine with all control API routes registered.
func New(deps Deps) *gin.Engine {
	g := gin.New()

	// access log, skipping requests marked by DisableLogMiddleware
	g.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		if param.Keys != nil {
			if noLog, exists := param.Keys["disable_log"]; exists && noLog == true {
				return ""
			}
		}
		return fmt.Sprintf("[rigagent] %v | %3d | %13v | %15s | %-7s %#v\n%s",
			param.TimeStamp.Format("2006/01/02 - 15:04:05"),
			param.StatusCode,
			param.Latency,
			param.ClientIP,
			param.Method,
			param.Path,
			param.ErrorMessage,
		)
	}))
	g.Use(gin.Recovery())
	g.Use(middleware.IPMiddleware())

	// CORS: dashboards run on other hosts on the LAN
	g.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Rig-Key")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	h := &handlers{deps: deps}

	g.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	g.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"version": deps.Version})
	})

	// login, Basic authentication
	g.POST("/client", h.login)

	g.GET("/current/user", middleware.DisableLogMiddleware(), middleware.AuthMiddleware(deps.Auth), h.currentUser)

	// miner supervision API
	minerAPI := g.Group("/miner")
	minerAPI.Use(middleware.AuthMiddleware(deps.Auth))
	{
		minerAPI.GET("/status", middleware.DisableLogMiddleware(), h.status)
		minerAPI.GET("/output", gzip.Gzip(gzip.DefaultCompression), h.output)
		minerAPI.POST("/stop", h.stop)
		minerAPI.POST("/start", h.start)
		minerAPI.POST("/restart", h.restart)
	}

	// schedule API
	scheduleAPI := g.Group("/schedule")
	scheduleAPI.Use(middleware.AuthMiddleware(deps.Auth))
	{
		scheduleAPI.GET("", h.getSchedule)
		scheduleAPI.POST("/refresh", middleware.AdminMiddleware(), h.refreshSchedule)
	}

	// telemetry API
	telemetryAPI := g.Group("/telemetry")
	telemetryAPI.Use(middleware.AuthMiddleware(deps.Auth), gzip.Gzip(gzip.DefaultCompression))
	{
		telemetryAPI.GET("/incidents", h.incidents)
		telemetryAPI.GET("/events", h.events)
	}

	// live state stream
	ws := g.Group("/stream")
	ws.Use(middleware.WsAuthMiddleware(deps.Auth))
	{
		// dashboards connect as "/stream?token=jwt-token-here"
		ws.GET("", stream.HandleWebSocket)
	}

	// account management
	userAPI := g.Group("/user")
	userAPI.Use(middleware.AuthMiddleware(deps.Auth), middleware.DisableLogMiddleware())
	{
		userAPI.POST("/password", h.changePassword)
	}

	// session management
	g.GET("/client", middleware.AuthMiddleware(deps.Auth), h.listSessions)
	g.DELETE("/client/current", middleware.AuthMiddleware(deps.Auth), h.logout)

	return g
}
