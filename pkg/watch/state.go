package watch

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/Sriram-PR/site-mirror/pkg/orchestrate"
)

const stateFileName = "watch_state.json"

// SiteState is the last recorded mirror run of one site
type SiteState struct {
	LastRunTime    time.Time `json:"last_run_time"`
	LastRunSuccess bool      `json:"last_run_success"`
	RunID          string    `json:"run_id,omitempty"`
	Outcome        string    `json:"outcome,omitempty"`
	PathsDone      int       `json:"paths_done"`
	PathsFailed    int       `json:"paths_failed"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// WatchState is the file persisted between watch sessions
type WatchState struct {
	Sites     map[string]SiteState `json:"sites"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// StateManager loads and saves WatchState under the state directory
type StateManager struct {
	fs        afero.Fs
	stateDir  string
	statePath string

	mu    sync.RWMutex
	state WatchState
}

func NewStateManager(fs afero.Fs, stateDir string) *StateManager {
	return &StateManager{
		fs:        fs,
		stateDir:  stateDir,
		statePath: filepath.Join(stateDir, stateFileName),
		state:     WatchState{Sites: make(map[string]SiteState)},
	}
}

// Load replaces the in-memory state with the saved file. A missing file means no site has run yet.
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := afero.ReadFile(m.fs, m.statePath)
	if errors.Is(err, os.ErrNotExist) {
		m.state = WatchState{Sites: make(map[string]SiteState)}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read watch state: %w", err)
	}

	var loaded WatchState
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parse watch state %s: %w", m.statePath, err)
	}
	if loaded.Sites == nil {
		loaded.Sites = make(map[string]SiteState)
	}
	m.state = loaded
	return nil
}

// Save writes the state through a temporary file so a crash never leaves a torn file behind
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal watch state: %w", err)
	}

	if err := m.fs.MkdirAll(m.stateDir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp := m.statePath + ".tmp"
	if err := afero.WriteFile(m.fs, tmp, data, 0644); err != nil {
		return fmt.Errorf("write watch state: %w", err)
	}
	if err := m.fs.Rename(tmp, m.statePath); err != nil {
		return fmt.Errorf("replace watch state: %w", err)
	}
	return nil
}

// GetSiteState returns the last recorded run of siteKey
func (m *StateManager) GetSiteState(siteKey string) (SiteState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.state.Sites[siteKey]
	return state, ok
}

// RecordRun stores the result of a finished mirror run. The run counts from when it finished.
func (m *StateManager) RecordRun(result orchestrate.SiteResult) {
	state := SiteState{
		LastRunTime:    time.Now(),
		LastRunSuccess: result.Success,
	}
	if result.Error != nil {
		state.ErrorMessage = result.Error.Error()
	}
	if info := result.Info; info != nil {
		state.RunID = info.RunID
		state.Outcome = info.Outcome
		state.PathsDone = info.Done
		state.PathsFailed = info.Failed
		if !info.FinishedAt.IsZero() {
			state.LastRunTime = info.FinishedAt
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Sites[result.SiteKey] = state
}

// NextRun returns when siteKey is next due. ok is false for a site that never ran.
func (m *StateManager) NextRun(siteKey string, interval time.Duration) (next time.Time, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.state.Sites[siteKey]
	if !ok {
		return time.Time{}, false
	}
	return state.LastRunTime.Add(interval), true
}

// ShouldRun reports whether siteKey never ran or its interval has elapsed
func (m *StateManager) ShouldRun(siteKey string, interval time.Duration) bool {
	next, ok := m.NextRun(siteKey, interval)
	return !ok || !time.Now().Before(next)
}

// GetAllSiteStates returns a copy of every recorded site state
func (m *StateManager) GetAllSiteStates() map[string]SiteState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.state.Sites)
}
