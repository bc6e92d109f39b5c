// Package session maintains the authenticated session with the course platform.
//
// A Manager owns the session value: the bearer token, the user profile, and which durable store
// holds the serialized session. The profile is present if and only if a token is held and
// considered valid; a token recovered from storage without a matching profile is a dangling
// authenticated state with unknown identity and is discarded immediately.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/edukit/course-client/internal/log"
	"github.com/edukit/course-client/pkg/client"
	"github.com/edukit/course-client/pkg/storage"
)

// Roles recognized by the platform.
const (
	RoleAdmin   = "admin"
	RoleStudent = "student"
)

// ErrNotAuthenticated is returned by operations that require an active session.
var ErrNotAuthenticated = errors.New("not logged in")

// UserProfile is the canonical identity record for the logged-in user.
type UserProfile struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Credentials are submitted to the login endpoint. RememberMe selects the long-lived store for
// the resulting session rather than the process-scoped one.
type Credentials struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

// Manager owns the session and is the single source of truth for whether a request is authorized.
type Manager struct {
	// The default UserAgent can be overridden.
	UserAgent string
	Host      string

	persistent storage.Store
	ephemeral  storage.Store
	client     http.Client

	mu     sync.Mutex
	token  string
	user   *UserProfile
	active storage.Store // store holding the current session; nil when logged out
}

// NewManager returns a Manager for the API at host. The persistent store holds remember-me
// sessions across processes; the ephemeral store holds sessions for the current process only.
func NewManager(host string, persistent, ephemeral storage.Store) *Manager {
	return &Manager{
		UserAgent:  client.UserAgent(""),
		Host:       host,
		persistent: persistent,
		ephemeral:  ephemeral,
	}
}

// Initialize rehydrates the session from durable storage, checking the long-lived store first and
// the process-scoped store second. A recovered token without a recoverable profile clears the
// session instead. Safe to call multiple times.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, store := range []storage.Store{m.persistent, m.ephemeral} {
		token, err := store.Get(storage.KeyAuthToken)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		userData, err := store.Get(storage.KeyUserData)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		var profile UserProfile
		if err != nil || json.Unmarshal([]byte(userData), &profile) != nil {
			log.Warning("Found stored token without a recoverable user profile; clearing session")
			m.clearLocked()
			return nil
		}

		m.token = token
		m.user = &profile
		m.active = store
		log.Debug("Restored session for %s", profile.Email)
		return nil
	}
	return nil
}

// Login submits credentials to the authentication endpoint. On success the session becomes
// authenticated and the token and profile are persisted to the store selected by
// credentials.RememberMe. Failures are returned as error values carrying a human-readable
// message; Login never panics on malformed server responses.
func (m *Manager) Login(ctx context.Context, credentials Credentials) (*UserProfile, error) {
	status, body, err := m.roundTrip(ctx, http.MethodPost, "auth/login", credentials, false)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, client.DecodeStatusError(status, body, "invalid credentials")
	}

	token, profile, err := parseLoginPayload(body)
	if err != nil {
		log.Error("Malformed login response: %s", err)
		return nil, fmt.Errorf("server returned an unexpected login response")
	}

	m.mu.Lock()
	m.token = token
	m.user = &profile
	if credentials.RememberMe {
		m.active = m.persistent
	} else {
		m.active = m.ephemeral
	}
	err = m.persistLocked()
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// Register creates a new account. It does not log the new user in.
func (m *Manager) Register(ctx context.Context, userData interface{}) (json.RawMessage, error) {
	status, body, err := m.roundTrip(ctx, http.MethodPost, "users", userData, false)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, client.DecodeStatusError(status, body, "could not create account")
	}
	return body, nil
}

// Logout notifies the server that the session is ending and clears all local session state. The
// server notification is best effort: a failure is logged, never propagated, and local state is
// cleared in all cases.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	if token != "" {
		if _, _, err := m.roundTrip(ctx, http.MethodPost, "auth/logout", nil, true); err != nil {
			log.Warning("Server logout notification failed: %s", err)
		}
	}
	m.Invalidate()
}

// Invalidate clears the in-memory session and both durable stores synchronously.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
}

// Validate asks the server whether the held token is still accepted. Success is purely
// status-based. A 401 clears the session, consistent with the authenticated request path.
func (m *Manager) Validate(ctx context.Context) bool {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()
	if token == "" {
		return false
	}

	status, _, err := m.roundTrip(ctx, http.MethodGet, "auth/validate", nil, true)
	if err != nil {
		log.Warning("Token validation failed: %s", err)
		return false
	}
	if status == http.StatusUnauthorized {
		m.Invalidate()
		return false
	}
	return status == http.StatusOK
}

// ProfilePatch holds the profile fields an update may change. Nil fields are left untouched.
type ProfilePatch struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
	Role  *string `json:"role,omitempty"`
}

// UpdateUserProfile shallow-merges patch into the current profile and re-persists the session to
// whichever store currently holds it.
func (m *Manager) UpdateUserProfile(patch ProfilePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return ErrNotAuthenticated
	}
	if patch.Name != nil {
		m.user.Name = *patch.Name
	}
	if patch.Email != nil {
		m.user.Email = *patch.Email
	}
	if patch.Role != nil {
		m.user.Role = *patch.Role
	}
	return m.persistLocked()
}

// Authenticated reports whether a session with a known identity is held.
func (m *Manager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token != "" && m.user != nil
}

// Token returns the bearer credential, or "" when no session is held.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// User returns a copy of the current profile, or nil when logged out.
func (m *Manager) User() *UserProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return nil
	}
	profile := *m.user
	return &profile
}

// Role returns the current user's role, or "" when logged out.
func (m *Manager) Role() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return ""
	}
	return m.user.Role
}

func (m *Manager) IsAdmin() bool {
	return m.Role() == RoleAdmin
}

func (m *Manager) IsStudent() bool {
	return m.Role() == RoleStudent
}

// parseLoginPayload canonicalizes the two login response shapes: profile fields at the top level
// of the payload, or nested under a "user" field.
func parseLoginPayload(raw []byte) (string, UserProfile, error) {
	var payload struct {
		Token string       `json:"token"`
		User  *UserProfile `json:"user"`
		UserProfile
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", UserProfile{}, err
	}
	if payload.Token == "" {
		return "", UserProfile{}, errors.New("login response missing token")
	}
	if payload.User != nil {
		return payload.Token, *payload.User, nil
	}
	return payload.Token, payload.UserProfile, nil
}

// roundTrip performs one request against an auth endpoint. The Manager talks to its endpoints
// directly rather than through pkg/client: the authenticated request path tears the session down
// on 401, which must not recurse into the teardown's own logout notification.
func (m *Manager) roundTrip(ctx context.Context, method, endpoint string, payload interface{}, bearer bool) (int, []byte, error) {
	var reqBody *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	url := fmt.Sprintf("%s/%s", m.Host, endpoint)
	request, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("error constructing request to %s: %w", endpoint, err)
	}
	request.Header.Set("User-Agent", m.UserAgent)
	request.Header.Set("Content-Type", "application/json")
	if bearer {
		m.mu.Lock()
		token := m.token
		m.mu.Unlock()
		if token != "" {
			request.Header.Set("Authorization", "Bearer "+token)
		}
	}

	log.Debug("Requesting %s %s...", method, url)
	response, err := m.client.Do(request)
	if err != nil {
		return 0, nil, &client.ConnectivityError{Err: err}
	}
	defer response.Body.Close()
	body, err := client.ReadBody(response)
	if err != nil {
		return 0, nil, err
	}
	log.Debug("Server returned %d: %s", response.StatusCode, http.StatusText(response.StatusCode))
	return response.StatusCode, body, nil
}

func (m *Manager) persistLocked() error {
	if m.active == nil {
		return ErrNotAuthenticated
	}
	userData, err := json.Marshal(m.user)
	if err != nil {
		return err
	}
	if err := m.active.Set(storage.KeyAuthToken, m.token); err != nil {
		return err
	}
	return m.active.Set(storage.KeyUserData, string(userData))
}

func (m *Manager) clearLocked() {
	m.token = ""
	m.user = nil
	m.active = nil
	for _, store := range []storage.Store{m.persistent, m.ephemeral} {
		if err := store.Delete(storage.KeyAuthToken); err != nil {
			log.Warning("Failed to clear stored token: %s", err)
		}
		if err := store.Delete(storage.KeyUserData); err != nil {
			log.Warning("Failed to clear stored profile: %s", err)
		}
	}
}
