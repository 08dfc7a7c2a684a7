// Package auth guards the agent's local control API: users.yaml
// accounts, bcrypt password hashes and short-lived JWT tokens.
package auth

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v2"

	"github.com/rigops/rigagent/internal/types"
)

const defaultAdminPassword = "rigadmin"

// Service validates credentials and issues tokens for the control API.
type Service struct {
	secret []byte
	expiry time.Duration

	usersPath string
	mu        sync.RWMutex
	users     *types.UsersConfig

	sessionMux sync.RWMutex
	sessions   map[string]*Session
	sessionID  int
}

// Session one issued token, tracked so the UI can list and revoke them.
type Session struct {
	ID        int       `json:"id"`
	Token     string    `json:"-"`
	Name      string    `json:"name"`
	Username  string    `json:"username"`
	LastUsed  time.Time `json:"lastUsed"`
	CreatedAt time.Time `json:"createdAt"`
}

// New loads users.yaml, creating a default admin account on first run.
func New(secret string, expiryHours int, usersPath string) (*Service, error) {
	if expiryHours <= 0 {
		expiryHours = 24
	}
	s := &Service{
		secret:    []byte(secret),
		expiry:    time.Duration(expiryHours) * time.Hour,
		usersPath: usersPath,
		sessions:  make(map[string]*Session),
		sessionID: 1,
	}
	if err := s.loadUsers(); err != nil {
		log.Printf("Warning: %v, creating default admin user", err)
		s.users = &types.UsersConfig{
			Users: []types.UserConfig{
				{Username: "admin", Password: HashPassword(defaultAdminPassword), Role: "admin"},
			},
		}
		if saveErr := s.saveUsers(); saveErr != nil {
			return nil, fmt.Errorf("save default user config: %v", saveErr)
		}
		log.Printf("Created default admin user with password: %s (please change it)", defaultAdminPassword)
	}
	return s, nil
}

func (s *Service) loadUsers() error {
	data, err := os.ReadFile(s.usersPath)
	if err != nil {
		return fmt.Errorf("read user config file: %v", err)
	}
	cfg := &types.UsersConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse user config file: %v", err)
	}
	if len(cfg.Users) == 0 {
		return fmt.Errorf("user config file %s has no users", s.usersPath)
	}
	s.users = cfg
	return nil
}

func (s *Service) saveUsers() error {
	var b strings.Builder
	b.WriteString("# rigagent control API accounts\n")
	b.WriteString("users:\n")
	for _, u := range s.users.Users {
		b.WriteString(fmt.Sprintf("  - username: %s\n", u.Username))
		b.WriteString(fmt.Sprintf("    password: %s\n", u.Password))
		b.WriteString(fmt.Sprintf("    role: %s\n", u.Role))
	}
	return os.WriteFile(s.usersPath, []byte(b.String()), 0600)
}

// FindUser returns the account with the given username, or nil.
func (s *Service) FindUser(username string) *types.UserConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.users.Users {
		if s.users.Users[i].Username == username {
			return &s.users.Users[i]
		}
	}
	return nil
}

// Authenticate verifies credentials and issues a token, recording the
// session under the given client name.
func (s *Service) Authenticate(username, password, clientName string) (string, *Session, error) {
	user := s.FindUser(username)
	if user == nil || !VerifyPassword(password, user.Password) {
		return "", nil, fmt.Errorf("invalid username or password")
	}
	token, err := s.GenerateToken(user.Username, user.Role)
	if err != nil {
		return "", nil, err
	}
	if clientName == "" {
		clientName = "unknown client"
	}
	sess := s.addSession(token, clientName, user.Username)
	return token, sess, nil
}

// ChangePassword updates an account's password hash and persists it.
func (s *Service) ChangePassword(username, oldPassword, newPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.users.Users {
		if s.users.Users[i].Username != username {
			continue
		}
		if !VerifyPassword(oldPassword, s.users.Users[i].Password) {
			return fmt.Errorf("invalid old password")
		}
		s.users.Users[i].Password = HashPassword(newPassword)
		return s.saveUsers()
	}
	return fmt.Errorf("user not found")
}

// GenerateToken issues a signed JWT for the account.
func (s *Service) GenerateToken(username, role string) (string, error) {
	claims := &types.Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken parses and verifies a JWT issued by GenerateToken.
func (s *Service) ValidateToken(tokenString string) (*types.Claims, error) {
	claims := &types.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func (s *Service) addSession(token, name, username string) *Session {
	s.sessionMux.Lock()
	defer s.sessionMux.Unlock()
	sess := &Session{
		ID:        s.sessionID,
		Token:     token,
		Name:      name,
		Username:  username,
		LastUsed:  time.Now(),
		CreatedAt: time.Now(),
	}
	s.sessions[token] = sess
	s.sessionID++
	return sess
}

// TouchSession updates a session's last-used time.
func (s *Service) TouchSession(token string) {
	s.sessionMux.Lock()
	defer s.sessionMux.Unlock()
	if sess, ok := s.sessions[token]; ok {
		sess.LastUsed = time.Now()
	}
}

// RemoveSession revokes a session by token.
func (s *Service) RemoveSession(token string) bool {
	s.sessionMux.Lock()
	defer s.sessionMux.Unlock()
	if _, ok := s.sessions[token]; ok {
		delete(s.sessions, token)
		return true
	}
	return false
}

// SessionsForUser lists the live sessions of an account.
func (s *Service) SessionsForUser(username string) []*Session {
	s.sessionMux.RLock()
	defer s.sessionMux.RUnlock()
	var out []*Session
	for _, sess := range s.sessions {
		if sess.Username == username {
			out = append(out, sess)
		}
	}
	return out
}

// HashPassword bcrypt-hashes a password.
func HashPassword(password string) string {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		// bcrypt only fails on oversized input; refuse rather than store
		// something weaker.
		log.Printf("Error hashing password: %v", err)
		return ""
	}
	return string(hashed)
}

// VerifyPassword checks a password against its bcrypt hash.
func VerifyPassword(password, hashedPassword string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}
