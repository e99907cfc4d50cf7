// Package session loads and persists the opaque authenticated-session blobs
// for the two platform roles: the read-only monitor account and the
// action-capable main account.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"
)

type Role string

const (
	// RoleMonitor is the read-only account used to watch posts.
	RoleMonitor Role = "monitor"
	// RoleMain is the action-capable account used for DMs and replies.
	RoleMain Role = "main"
)

// Session is the persisted authentication blob for one role.
type Session struct {
	Role      Role      `json:"role"`
	Token     string    `json:"token"`
	UserID    string    `json:"user_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	SavedAt   time.Time `json:"saved_at,omitempty"`
}

// Manager keeps the current session per role and refreshes them from disk
// when the platform reports them expired.
type Manager struct {
	mu       sync.Mutex
	paths    map[Role]string
	sessions map[Role]Session
}

func NewManager(monitorPath, mainPath string) (*Manager, error) {
	if strings.TrimSpace(monitorPath) == "" {
		return nil, errors.New("monitor session path is required")
	}
	if strings.TrimSpace(mainPath) == "" {
		return nil, errors.New("main session path is required")
	}
	m := &Manager{
		paths: map[Role]string{
			RoleMonitor: strings.TrimSpace(monitorPath),
			RoleMain:    strings.TrimSpace(mainPath),
		},
		sessions: map[Role]Session{},
	}
	if err := m.Load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Load reads both session files. Missing files are not errors; the roles
// simply stay unauthenticated until the operator logs in.
func (m *Manager) Load() error {
	for role := range m.paths {
		if err := m.Refresh(role); err != nil {
			return err
		}
	}
	return nil
}

// Refresh rereads the role's session from disk, picking up out-of-band
// logins. A missing file clears the in-memory session.
func (m *Manager) Refresh(role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path, ok := m.paths[role]
	if !ok {
		return fmt.Errorf("unknown session role %q", role)
	}

	body, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			delete(m.sessions, role)
			return nil
		}
		return fmt.Errorf("read %s session: %w", role, err)
	}

	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return fmt.Errorf("unmarshal %s session: %w", role, err)
	}
	if strings.TrimSpace(s.Token) == "" {
		delete(m.sessions, role)
		return nil
	}
	s.Role = role
	m.sessions[role] = s
	return nil
}

// Persist writes the role's session blob to disk and makes it current.
func (m *Manager) Persist(role Role, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path, ok := m.paths[role]
	if !ok {
		return fmt.Errorf("unknown session role %q", role)
	}
	s.Role = role
	s.SavedAt = time.Now().UTC()

	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s session: %w", role, err)
	}
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return fmt.Errorf("write %s session: %w", role, err)
	}
	m.sessions[role] = s
	return nil
}

// Clear removes the role's session from disk and memory.
func (m *Manager) Clear(role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path, ok := m.paths[role]
	if !ok {
		return fmt.Errorf("unknown session role %q", role)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s session: %w", role, err)
	}
	delete(m.sessions, role)
	return nil
}

// Get returns the current session for the role, if authenticated.
func (m *Manager) Get(role Role) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[role]
	return s, ok
}

// Has reports whether the role has an authenticated session.
func (m *Manager) Has(role Role) bool {
	_, ok := m.Get(role)
	return ok
}

// Token returns the role's current token, or empty when unauthenticated.
// Suitable as a platform client token source.
func (m *Manager) Token(role Role) string {
	s, ok := m.Get(role)
	if !ok {
		return ""
	}
	return s.Token
}
