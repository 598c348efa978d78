package session

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/kostiks/snapback/internal/chat"
	"github.com/kostiks/snapback/internal/config"
)

// TrialPromptLimit is the number of calls a session may make on the
// operator's trial credential before it must supply its own key.
const TrialPromptLimit = 100

// State is the per-session record: selected model (empty = fall back to the
// global default), user-supplied API key, and the trial prompt counter.
type State struct {
	Model      string
	UserKey    string
	TrialCount int
	LastSeen   time.Time
}

// Credential is the outcome of selecting which key pays for a call.
type Credential struct {
	Key   string
	Trial bool
}

// Manager owns all session state. Every mutation happens under one lock so
// the trial-counter check and reservation are a single critical section:
// two concurrent trial calls can never both pass the limit check.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*State
	trialKey string
	limit    int
	ttl      time.Duration
	now      func() time.Time // swapped in tests
}

func NewManager(cfg *config.Config) *Manager {
	ttl, err := time.ParseDuration(cfg.Session.TTL)
	if err != nil || ttl <= 0 {
		ttl, _ = time.ParseDuration(config.DefaultSessionTTL)
	}
	return &Manager{
		sessions: make(map[string]*State),
		trialKey: strings.TrimSpace(cfg.Provider.TrialAPIKey),
		limit:    TrialPromptLimit,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *Manager) state(id string) *State {
	st, ok := m.sessions[id]
	if !ok {
		st = &State{}
		m.sessions[id] = st
	}
	st.LastSeen = m.now()
	return st
}

// SaveKey stores a user-supplied API key and resets the trial counter, so a
// session that later loses its key starts the trial count fresh.
func (m *Manager) SaveKey(id, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return chat.NewError(chat.CodeInvalidInput, "API key cannot be empty.")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state(id)
	st.UserKey = key
	st.TrialCount = 0
	return nil
}

// SetModel records the session's selected model identifier.
func (m *Manager) SetModel(id, model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return chat.NewError(chat.CodeInvalidInput, "Model identifier cannot be empty.")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.state(id).Model = model
	return nil
}

// Model returns the session's selected model, or "" when unset.
func (m *Manager) Model(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(id).Model
}

// TrialCount reports the session's current trial usage.
func (m *Manager) TrialCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(id).TrialCount
}

// Reserve selects the credential for an outgoing call. A session with a
// user key uses it with no quota check. Otherwise a trial slot is reserved
// by incrementing the counter before the upstream call; Release gives the
// slot back when the call fails, so only successes consume quota.
func (m *Manager) Reserve(id string) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state(id)
	if st.UserKey != "" {
		return Credential{Key: st.UserKey}, nil
	}

	if st.TrialCount >= m.limit {
		return Credential{}, &chat.Error{
			Code:    chat.CodeQuotaExceeded,
			Message: "Trial prompt limit (100) reached. Please provide your own API key via the API Key Setup page.",
		}
	}

	if m.trialKey == "" || m.trialKey == config.PlaceholderAPIKey {
		return Credential{}, &chat.Error{
			Code:    chat.CodeServerMisconfigured,
			Message: "The AI service is not configured correctly. Please contact the operator.",
			Detail:  "trial API key (OPENROUTER_API_KEY) is missing or still the placeholder",
		}
	}

	st.TrialCount++
	return Credential{Key: m.trialKey, Trial: true}, nil
}

// Release undoes a trial reservation after a failed call.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.sessions[id]; ok && st.TrialCount > 0 {
		st.TrialCount--
	}
}

// Sweep removes sessions idle longer than the configured lifetime and
// returns how many were dropped.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.ttl)
	removed := 0
	for id, st := range m.sessions {
		if st.LastSeen.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("[session] swept %d expired sessions", removed)
	}
	return removed
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
