// Package session provides the in-memory registry of shared editing sessions.
package session

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/shared-code-editor/backend/internal/model"
)

const (
	// DefaultLanguage is the display language of newly created sessions.
	DefaultLanguage = "javascript"

	// DefaultInitialContent is the placeholder document of newly created sessions.
	DefaultInitialContent = `// Welcome to the shared code editor!
// Share this link to invite others to collaborate.
// You can also upload and share files.

console.log('Hello, World!');

function fibonacci(n) {
  if (n <= 1) return n;
  return fibonacci(n - 1) + fibonacci(n - 2);
}

console.log(fibonacci(10));`
)

// Config holds configuration for the session store.
type Config struct {
	InitialContent  string
	DefaultLanguage string

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// entry guards a single session. The store's map lock is held for reading
// while an entry is locked, so the sweeper (map write lock) never removes a
// session in the middle of a mutation.
type entry struct {
	mu      sync.Mutex
	session *model.Session
	peak    int
}

func (e *entry) info() model.SessionInfo {
	info := e.session.Info()
	info.PeakParticipants = e.peak
	return info
}

func (e *entry) addParticipant(p *model.Participant) {
	e.session.Participants[p.ID] = p.Clone()
	if n := len(e.session.Participants); n > e.peak {
		e.peak = n
	}
}

// Store owns the mapping from session id to session state. Operations on
// the same session are serialized; operations on different sessions only
// share the map read lock.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	initialContent  string
	defaultLanguage string
	now             func() time.Time

	onEvict func(evicted []model.SessionInfo)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStore creates an empty session store.
func NewStore(config Config) *Store {
	if config.DefaultLanguage == "" {
		config.DefaultLanguage = DefaultLanguage
	}
	if config.InitialContent == "" {
		config.InitialContent = DefaultInitialContent
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Store{
		sessions:        make(map[string]*entry),
		initialContent:  config.InitialContent,
		defaultLanguage: config.DefaultLanguage,
		now:             config.Now,
	}
}

// SetOnEvict sets the callback invoked by the sweeper with the sessions it removed.
func (s *Store) SetOnEvict(callback func(evicted []model.SessionInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = callback
}

// withSession runs fn with the session locked. It reports false if the
// session does not exist.
func (s *Store) withSession(id string, fn func(e *entry)) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sessions[id]
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e)
	return true
}

// getOrCreate runs fn on the session, creating it first if needed.
func (s *Store) getOrCreate(id string, fn func(e *entry)) (created bool) {
	if s.withSession(id, fn) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		e = &entry{session: model.NewSession(id, s.initialContent, s.defaultLanguage, s.now())}
		s.sessions[id] = e
		created = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e)
	return created
}

// Create creates a session if none exists for id and returns a snapshot of
// it. An existing session is returned unchanged.
func (s *Store) Create(id string) (*model.Session, bool) {
	var snapshot *model.Session
	created := s.getOrCreate(id, func(e *entry) {
		snapshot = e.session.Clone()
	})
	return snapshot, created
}

// Get returns a snapshot of the session.
func (s *Store) Get(id string) (*model.Session, bool) {
	var snapshot *model.Session
	ok := s.withSession(id, func(e *entry) {
		snapshot = e.session.Clone()
	})
	return snapshot, ok
}

// Exists reports whether a session is registered under id.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}

// Join gets or creates the session and registers the participant in one
// step, returning the state the participant should be shown.
// A participant with the same id is replaced wholesale.
func (s *Store) Join(id string, participant *model.Participant) (*model.Session, bool) {
	var snapshot *model.Session
	created := s.getOrCreate(id, func(e *entry) {
		e.addParticipant(participant)
		snapshot = e.session.Clone()
	})
	return snapshot, created
}

// UpdateContent replaces the document content.
func (s *Store) UpdateContent(id, content string) bool {
	return s.withSession(id, func(e *entry) {
		e.session.Content = content
		e.session.LastModified = s.now()
	})
}

// AddParticipant registers or replaces a participant.
func (s *Store) AddParticipant(id string, participant *model.Participant) bool {
	return s.withSession(id, func(e *entry) {
		e.addParticipant(participant)
	})
}

// RemoveParticipant removes a participant. It reports whether the
// participant was present; removing an absent participant is not an error.
func (s *Store) RemoveParticipant(id, userID string) bool {
	removed := false
	s.withSession(id, func(e *entry) {
		if _, ok := e.session.Participants[userID]; ok {
			delete(e.session.Participants, userID)
			removed = true
		}
	})
	return removed
}

// UpdateParticipantCursor stores a participant's cursor position.
func (s *Store) UpdateParticipantCursor(id, userID string, cursor model.Cursor) bool {
	updated := false
	s.withSession(id, func(e *entry) {
		p, ok := e.session.Participants[userID]
		if !ok {
			return
		}
		p.Cursor = &cursor
		updated = true
	})
	return updated
}

// AddFile attaches a file and returns the resulting file list, taken under
// the same lock as the insert.
func (s *Store) AddFile(id string, file *model.File) ([]model.File, bool) {
	var files []model.File
	ok := s.withSession(id, func(e *entry) {
		e.session.Files[file.ID] = file.Clone()
		e.session.LastModified = s.now()
		files = e.session.FileList()
	})
	return files, ok
}

// RemoveFile detaches a file. The boolean reports whether the file was
// present; the file list is returned whenever the session exists.
func (s *Store) RemoveFile(id, fileID string) ([]model.File, bool) {
	var files []model.File
	removed := false
	s.withSession(id, func(e *entry) {
		if _, ok := e.session.Files[fileID]; ok {
			delete(e.session.Files, fileID)
			e.session.LastModified = s.now()
			removed = true
		}
		files = e.session.FileList()
	})
	return files, removed
}

// ListFiles returns the session's files, or nil if the session is absent.
func (s *Store) ListFiles(id string) []model.File {
	var files []model.File
	s.withSession(id, func(e *entry) {
		files = e.session.FileList()
	})
	return files
}

// Participants returns the session's participants, or nil if the session is absent.
func (s *Store) Participants(id string) []model.Participant {
	var participants []model.Participant
	s.withSession(id, func(e *entry) {
		participants = e.session.ParticipantList()
	})
	return participants
}

// Info returns a summary of the session.
func (s *Store) Info(id string) (model.SessionInfo, bool) {
	var info model.SessionInfo
	ok := s.withSession(id, func(e *entry) {
		info = e.info()
	})
	return info, ok
}

// List returns summaries of all sessions ordered by id.
func (s *Store) List() []model.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]model.SessionInfo, 0, len(s.sessions))
	for _, e := range s.sessions {
		e.mu.Lock()
		infos = append(infos, e.info())
		e.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// SweepIdle removes every session that has no participants and was last
// modified before now minus idleThreshold. It returns the removed sessions.
func (s *Store) SweepIdle(idleThreshold time.Duration, now time.Time) []model.SessionInfo {
	cutoff := now.Add(-idleThreshold)

	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []model.SessionInfo
	for id, e := range s.sessions {
		e.mu.Lock()
		idle := len(e.session.Participants) == 0 && e.session.LastModified.Before(cutoff)
		if idle {
			evicted = append(evicted, e.info())
			delete(s.sessions, id)
		}
		e.mu.Unlock()
	}
	return evicted
}

// sweep runs one eviction pass and notifies the eviction callback.
func (s *Store) sweep(idleThreshold time.Duration) {
	evicted := s.SweepIdle(idleThreshold, s.now())
	if len(evicted) == 0 {
		return
	}

	log.Printf("Evicted %d idle session(s)", len(evicted))

	s.mu.RLock()
	callback := s.onEvict
	s.mu.RUnlock()

	if callback != nil {
		callback(evicted)
	}
}

// StartSweeper starts a background goroutine that evicts idle sessions
// every interval. The goroutine is stopped when Close is called. Calling
// StartSweeper on a store whose sweeper is already running is a no-op.
func (s *Store) StartSweeper(interval, idleThreshold time.Duration) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(idleThreshold)
			}
		}
	}()
}

// Close stops the sweeper and waits for it to exit.
// It is safe to call Close even if StartSweeper was never called.
func (s *Store) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}
