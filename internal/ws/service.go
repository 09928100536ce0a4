package ws

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shared-code-editor/backend/internal/model"
	"github.com/shared-code-editor/backend/internal/recorder"
	"github.com/shared-code-editor/backend/internal/session"
)

const (
	// DefaultSweepInterval is how often idle sessions are looked for.
	DefaultSweepInterval = time.Minute

	// DefaultIdleThreshold is how long an empty session survives without edits.
	DefaultIdleThreshold = time.Hour

	// DefaultQueueSize bounds the background bookkeeping queue.
	DefaultQueueSize = 1024

	historyTimeout = 5 * time.Second
)

// HistoryRecorder persists when sessions were created and evicted.
type HistoryRecorder interface {
	RecordCreated(ctx context.Context, info model.SessionInfo) error
	RecordEvicted(ctx context.Context, info model.SessionInfo, evictedAt time.Time) error
}

// ServiceConfig holds configuration for the service.
type ServiceConfig struct {
	SweepInterval time.Duration
	IdleThreshold time.Duration
	QueueSize     int
	Handler       HandlerConfig

	// History and Recorders are optional.
	History   HistoryRecorder
	Recorders *recorder.Manager
}

// Service wires the session store to WebSocket connections. It owns the
// idle sweeper and a single background worker that writes session history
// and activity recordings off the connection goroutines.
type Service struct {
	store      *session.Store
	hubManager *HubManager
	handler    *Handler

	history   HistoryRecorder
	recorders *recorder.Manager

	sweepInterval time.Duration
	idleThreshold time.Duration

	tasks     chan func(ctx context.Context)
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool
}

// NewService creates a new WebSocket service around the store.
func NewService(store *session.Store, config ServiceConfig) *Service {
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	if config.IdleThreshold <= 0 {
		config.IdleThreshold = DefaultIdleThreshold
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}

	hubManager := NewHubManager()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		store:         store,
		hubManager:    hubManager,
		handler:       NewHandler(store, hubManager, config.Handler),
		history:       config.History,
		recorders:     config.Recorders,
		sweepInterval: config.SweepInterval,
		idleThreshold: config.IdleThreshold,
		tasks:         make(chan func(ctx context.Context), config.QueueSize),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}

	s.handler.SetOnSessionCreated(s.handleSessionCreated)
	s.handler.SetOnActivity(s.handleActivity)
	store.SetOnEvict(s.handleEvicted)

	go s.worker()

	return s
}

// Start starts the idle sweeper. It is safe to call more than once.
func (s *Service) Start() {
	s.startOnce.Do(func() {
		s.store.StartSweeper(s.sweepInterval, s.idleThreshold)
		s.started.Store(true)
		log.Printf("Session service started (sweep every %s, idle threshold %s)", s.sweepInterval, s.idleThreshold)
	})
}

// Started reports whether Start has been called.
func (s *Service) Started() bool {
	return s.started.Load()
}

// Handler returns the WebSocket handler.
func (s *Service) Handler() *Handler {
	return s.handler
}

// HubManager returns the hub manager.
func (s *Service) HubManager() *HubManager {
	return s.hubManager
}

// Store returns the session store.
func (s *Service) Store() *session.Store {
	return s.store
}

// Recorders returns the recording manager, or nil if recording is disabled.
func (s *Service) Recorders() *recorder.Manager {
	return s.recorders
}

func (s *Service) handleSessionCreated(info model.SessionInfo) {
	s.enqueue(func(ctx context.Context) {
		if s.recorders != nil {
			if _, err := s.recorders.Open(info.ID, info.Language); err != nil {
				log.Printf("Failed to open recording for session %s: %v", info.ID, err)
			}
		}
		if s.history != nil {
			ctx, cancel := context.WithTimeout(ctx, historyTimeout)
			defer cancel()
			if err := s.history.RecordCreated(ctx, info); err != nil {
				log.Printf("Failed to record session %s: %v", info.ID, err)
			}
		}
	})
}

func (s *Service) handleActivity(sessionID string, msgType MessageType, detail string) {
	if s.recorders == nil {
		return
	}
	s.enqueue(func(ctx context.Context) {
		if err := s.recorders.Record(sessionID, string(msgType), detail); err != nil {
			log.Printf("Failed to record %s for session %s: %v", msgType, sessionID, err)
		}
	})
}

func (s *Service) handleEvicted(evicted []model.SessionInfo) {
	evictedAt := time.Now()
	for _, info := range evicted {
		s.enqueue(func(ctx context.Context) {
			if s.recorders != nil {
				if err := s.recorders.Close(info.ID); err != nil {
					log.Printf("Failed to close recording for session %s: %v", info.ID, err)
				}
			}
			if s.history != nil {
				ctx, cancel := context.WithTimeout(ctx, historyTimeout)
				defer cancel()
				if err := s.history.RecordEvicted(ctx, info, evictedAt); err != nil {
					log.Printf("Failed to record eviction of session %s: %v", info.ID, err)
				}
			}
		})
	}
}

// enqueue hands a task to the worker without blocking. Tasks are dropped
// when the queue is full or the service is closed.
func (s *Service) enqueue(task func(ctx context.Context)) {
	if s.ctx.Err() != nil {
		return
	}
	select {
	case s.tasks <- task:
	default:
		log.Printf("Background queue full, dropping task")
	}
}

// worker runs queued tasks in order. On shutdown it drains what is left.
func (s *Service) worker() {
	defer close(s.done)

	for {
		select {
		case task := <-s.tasks:
			task(s.ctx)
		case <-s.ctx.Done():
			for {
				select {
				case task := <-s.tasks:
					task(context.Background())
				default:
					return
				}
			}
		}
	}
}

// Close stops the sweeper, disconnects every client, flushes pending
// bookkeeping and closes open recordings.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.store.Close()
		s.hubManager.Close()

		s.cancel()
		<-s.done

		if s.recorders != nil {
			if err := s.recorders.CloseAll(); err != nil {
				log.Printf("Failed to close recordings: %v", err)
			}
		}
	})
}
