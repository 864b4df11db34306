package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GyroZepelix/mithril-engine/internal/access"
)

const (
	// bufferSize is the capacity of the event queue. Events logged while it
	// is full are dropped.
	bufferSize = 256

	// writeTimeout bounds a single insert.
	writeTimeout = 5 * time.Second
)

// Event represents an audit event to be logged.
type Event struct {
	Action     string         // e.g. "content.save", "schema.refresh", "auth.login.failure"
	ActorID    string         // acting admin id, empty for anonymous or failed logins
	Resource   string         // e.g. "collection/posts", "files"
	ResourceID string         // id of the affected row
	Payload    map[string]any // additional context
	At         time.Time      // set by Log when zero
}

// Store persists and lists audit events.
type Store interface {
	Insert(ctx context.Context, event Event) error
	List(ctx context.Context, filters Filters, page, perPage int) ([]*Entry, int, error)
}

// Service queues events and writes them from a single background goroutine,
// so logging never blocks or fails the request being audited.
type Service struct {
	store  Store
	logger *slog.Logger

	// mu guards closed against a concurrent Shutdown closing queue.
	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	done    chan struct{}
	dropped atomic.Uint64
}

// NewService creates a Service over store. Call Start to begin writing and
// Shutdown to drain and stop.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
		queue:  make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}
}

// Log queues event without blocking. A missing ActorID is taken from the
// user in ctx and a zero At is stamped with the current time. Events are
// dropped when the queue is full or the service has shut down.
func (s *Service) Log(ctx context.Context, event Event) {
	if event.ActorID == "" {
		event.ActorID = access.UserID(ctx)
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.drop(event, "audit service stopped, dropping event")
		return
	}
	select {
	case s.queue <- event:
	default:
		s.drop(event, "audit queue full, dropping event")
	}
}

func (s *Service) drop(event Event, msg string) {
	n := s.dropped.Add(1)
	s.logger.Warn(msg,
		"action", event.Action,
		"actor_id", event.ActorID,
		"resource", event.Resource,
		"resource_id", event.ResourceID,
		"total_dropped", n,
	)
}

// Start launches the writer goroutine. Call it once.
func (s *Service) Start() {
	go func() {
		defer close(s.done)
		for event := range s.queue {
			s.write(event)
		}
	}()
}

// Shutdown stops accepting events and waits for the queued ones to be
// written. If ctx expires first a warning is logged, but Shutdown still waits
// so no insert races the database being closed.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-ctx.Done():
		s.logger.Warn("audit drain exceeded shutdown deadline, still waiting", "queued", len(s.queue))
		<-s.done
	}
	s.logger.Info("audit service stopped", "dropped", s.dropped.Load())
}

// write inserts one event on a fresh context; the request that produced it
// has usually finished by now.
func (s *Service) write(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.store.Insert(ctx, event); err != nil {
		s.logger.Error("failed to write audit event",
			"action", event.Action,
			"resource", event.Resource,
			"resource_id", event.ResourceID,
			"error", err,
		)
	}
}

// DroppedCount returns how many events were dropped since the service was
// created.
func (s *Service) DroppedCount() uint64 {
	return s.dropped.Load()
}

// List returns one page of audit entries, newest first.
func (s *Service) List(ctx context.Context, filters Filters, page, perPage int) ([]*Entry, int, error) {
	return s.store.List(ctx, filters, page, perPage)
}
