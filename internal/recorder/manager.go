package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/shared-code-editor/backend/internal/model"
)

// safeID matches session ids that can be used as file names verbatim.
var safeID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Manager owns one Recorder per live session under a directory.
type Manager struct {
	dir       string
	recorders map[string]*Recorder
	mu        sync.Mutex
}

// NewManager creates a Manager that writes recordings into dir.
func NewManager(dir string) *Manager {
	return &Manager{
		dir:       dir,
		recorders: make(map[string]*Recorder),
	}
}

// Path returns the recording path for a session id.
func (m *Manager) Path(sessionID string) (string, error) {
	if !safeID.MatchString(sessionID) {
		return "", fmt.Errorf("invalid session id for recording: %q", sessionID)
	}
	return filepath.Join(m.dir, sessionID+".jsonl"), nil
}

// Open starts a recording for the session, or returns the running one.
func (m *Manager) Open(sessionID, language string) (*Recorder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.recorders[sessionID]; ok {
		return rec, nil
	}

	path, err := m.Path(sessionID)
	if err != nil {
		return nil, err
	}

	rec, err := NewRecorder(path)
	if err != nil {
		return nil, err
	}
	if err := rec.WriteHeader(sessionID, language); err != nil {
		rec.Close()
		return nil, err
	}

	m.recorders[sessionID] = rec
	return rec, nil
}

// Record appends an event to the session's recording if one is open.
func (m *Manager) Record(sessionID, eventType, detail string) error {
	m.mu.Lock()
	rec, ok := m.recorders[sessionID]
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return rec.WriteEvent(eventType, detail)
}

// Close ends the session's recording. The file stays on disk.
func (m *Manager) Close(sessionID string) error {
	m.mu.Lock()
	rec, ok := m.recorders[sessionID]
	delete(m.recorders, sessionID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return rec.Close()
}

// Lookup returns the path of an existing recording.
func (m *Manager) Lookup(sessionID string) (string, error) {
	path, err := m.Path(sessionID)
	if err != nil {
		return "", model.ErrRecordingNotFound
	}
	if _, err := os.Stat(path); err != nil {
		return "", model.ErrRecordingNotFound
	}
	return path, nil
}

// CloseAll ends every open recording.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	recorders := m.recorders
	m.recorders = make(map[string]*Recorder)
	m.mu.Unlock()

	var firstErr error
	for _, rec := range recorders {
		if err := rec.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
