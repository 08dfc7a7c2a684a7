package router

import (
	"context"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rigops/rigagent/internal/middleware"
)

type handlers struct {
	deps Deps
}

// login authenticates with HTTP Basic credentials and returns a JWT.
func (h *handlers) login(c *gin.Context) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing authorization header"})
		return
	}
	if !strings.HasPrefix(authHeader, "Basic ") {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization type"})
		return
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(authHeader, "Basic "))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization encoding"})
		return
	}
	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials format"})
		return
	}

	var requestBody struct {
		Name string `json:"name"`
	}
	// body is optional, used only to label the session
	_ = c.ShouldBindJSON(&requestBody)

	token, sess, err := h.deps.Auth.Authenticate(credentials[0], credentials[1], requestBody.Name)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"id":    sess.ID,
		"name":  sess.Name,
	})
}

func (h *handlers) currentUser(c *gin.Context) {
	username, _ := c.Get("username")
	role, _ := c.Get("role")
	c.JSON(http.StatusOK, gin.H{
		"username": username,
		"role":     role,
		"admin":    role == "admin",
	})
}

func (h *handlers) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Supervisor.Status())
}

// output returns the worker's recent terminal output for remote
// eyeballing; 204 when no session exists.
func (h *handlers) output(c *gin.Context) {
	snapshot, ok := h.deps.Output.SnapshotOutput()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.String(http.StatusOK, snapshot)
}

func (h *handlers) stop(c *gin.Context) {
	username, _ := c.Get("username")
	if err := h.deps.Supervisor.TriggerManualStop(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "worker stopped, automatic restarts suppressed",
		"stoppedBy": username,
	})
}

func (h *handlers) start(c *gin.Context) {
	if err := h.deps.Supervisor.TriggerManualStart(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "worker started"})
}

func (h *handlers) restart(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	username, _ := c.Get("username")
	reason := req.Reason
	if reason == "" {
		reason = "manual restart by " + toString(username)
	}

	if err := h.deps.Supervisor.ForceRestart(reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "worker restarted"})
}

func (h *handlers) getSchedule(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Schedule.ScheduleConfig())
}

// refreshSchedule forces an immediate backend resync instead of waiting
// for the supervisor's next config tick.
func (h *handlers) refreshSchedule(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	changed, err := h.deps.Schedule.Refresh(ctx)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "schedule refreshed",
		"changed": changed,
	})
}

func (h *handlers) incidents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	incidents, err := h.deps.Store.ListIncidents(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, incidents)
}

func (h *handlers) events(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := h.deps.Store.ListEvents(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}

func (h *handlers) changePassword(c *gin.Context) {
	var req struct {
		OldPassword string `json:"oldPassword" binding:"required"`
		NewPassword string `json:"newPassword" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request parameters"})
		return
	}

	username, _ := c.Get("username")
	if err := h.deps.Auth.ChangePassword(toString(username), req.OldPassword, req.NewPassword); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password updated successfully"})
}

func (h *handlers) listSessions(c *gin.Context) {
	username, _ := c.Get("username")
	currentToken, _ := c.Get("token")

	var clients []gin.H
	for _, sess := range h.deps.Auth.SessionsForUser(toString(username)) {
		clients = append(clients, gin.H{
			"id":       sess.ID,
			"name":     sess.Name,
			"lastUsed": sess.LastUsed.Format(time.RFC3339),
			"current":  sess.Token == currentToken,
			"ip":       middleware.GetClientIP(c),
		})
	}
	c.JSON(http.StatusOK, clients)
}

func (h *handlers) logout(c *gin.Context) {
	token, _ := c.Get("token")
	h.deps.Auth.RemoveSession(toString(token))
	// always succeed: the client's goal is to log out
	c.JSON(http.StatusOK, gin.H{"message": "Session deleted"})
}

func toString(v interface{}) string {
	s, _ := v.(string)
	return s
}
