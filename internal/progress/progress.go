// Package progress reports how far a save has got.
package progress

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/m35/jpsxdec-sub004/internal/observability"
)

// State is the state of a tracked operation.
type State string

const (
	// StateIdle indicates the operation has not started.
	StateIdle State = "idle"
	// StateProcessing indicates the operation is running.
	StateProcessing State = "processing"
	// StateCompleted indicates the operation completed successfully.
	StateCompleted State = "completed"
	// StateError indicates the operation failed with an error.
	StateError State = "error"
	// StateCancelled indicates the operation was cancelled.
	StateCancelled State = "cancelled"
)

// IsTerminal returns true if this is a terminal state (completed, error, or cancelled).
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateError || s == StateCancelled
}

// Reporter is passed to a save for progress reporting. Implementations
// must be safe to call from the save's goroutine only; they are never
// shared between saves.
type Reporter interface {
	// Start announces the number of units (sectors) the operation covers.
	Start(total int)
	// Update reports the number of units processed so far.
	Update(done int, message string)
	// End reports completion. A nil error means success.
	End(err error)
}

// NilReporter is a no-op Reporter for when progress tracking is disabled.
type NilReporter struct{}

// Start is a no-op for NilReporter.
func (NilReporter) Start(int) {}

// Update is a no-op for NilReporter.
func (NilReporter) Update(int, string) {}

// End is a no-op for NilReporter.
func (NilReporter) End(error) {}

// Snapshot is a copy of a LogReporter's state.
type Snapshot struct {
	OperationID string
	Name        string
	State       State
	Done        int
	Total       int
	Message     string
	StartedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// Progress returns Done/Total in the range 0 to 1.
func (s Snapshot) Progress() float64 {
	if s.Total <= 0 {
		return 0
	}
	p := float64(s.Done) / float64(s.Total)
	if p > 1 {
		return 1
	}
	return p
}

// DefaultThrottle is how often a LogReporter logs updates.
const DefaultThrottle = 2 * time.Second

// LogReporter is a Reporter that writes progress to a structured logger.
// Updates are throttled; start and end are always logged.
type LogReporter struct {
	mu       sync.Mutex
	logger   *slog.Logger
	throttle time.Duration
	now      func() time.Time
	lastLog  time.Time
	snap     Snapshot
}

// NewLogReporter creates a reporter for the named operation with a fresh
// operation ID.
func NewLogReporter(logger *slog.Logger, name string) *LogReporter {
	id := generateOperationID()
	return &LogReporter{
		logger: observability.WithComponent(logger, "progress").With(
			slog.String("operation_id", id),
		),
		throttle: DefaultThrottle,
		now:      time.Now,
		snap: Snapshot{
			OperationID: id,
			Name:        name,
			State:       StateIdle,
		},
	}
}

// generateOperationID creates a unique operation identifier.
func generateOperationID() string {
	return ulid.Make().String()
}

// SetThrottle changes the minimum interval between update logs.
func (r *LogReporter) SetThrottle(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.throttle = d
}

// OperationID returns the reporter's operation ID.
func (r *LogReporter) OperationID() string {
	return r.snap.OperationID
}

// Snapshot returns a copy of the current state.
func (r *LogReporter) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.snap
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		s.CompletedAt = &t
	}
	return s
}

// Start implements Reporter.
func (r *LogReporter) Start(total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.snap.State = StateProcessing
	r.snap.Total = total
	r.snap.StartedAt = now
	r.snap.UpdatedAt = now
	r.lastLog = now
	r.logger.Info("operation started",
		slog.String("name", r.snap.Name),
		slog.Int("total", total),
	)
}

// Update implements Reporter.
func (r *LogReporter) Update(done int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap.State.IsTerminal() {
		return
	}
	now := r.now()
	r.snap.Done = done
	r.snap.Message = message
	r.snap.UpdatedAt = now
	if now.Sub(r.lastLog) < r.throttle {
		return
	}
	r.lastLog = now
	r.logger.Info("operation progress",
		slog.Int("done", done),
		slog.Int("total", r.snap.Total),
		slog.Float64("progress", r.snap.Progress()),
		slog.String("message", message),
	)
}

// End implements Reporter.
func (r *LogReporter) End(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap.State.IsTerminal() {
		return
	}
	now := r.now()
	r.snap.UpdatedAt = now
	r.snap.CompletedAt = &now
	elapsed := now.Sub(r.snap.StartedAt)

	switch {
	case err == nil:
		r.snap.State = StateCompleted
		r.snap.Done = r.snap.Total
		r.logger.Info("operation completed",
			slog.String("name", r.snap.Name),
			slog.Duration("elapsed", elapsed),
		)
	case errors.Is(err, context.Canceled):
		r.snap.State = StateCancelled
		r.snap.Error = err.Error()
		r.logger.Warn("operation cancelled",
			slog.String("name", r.snap.Name),
			slog.Int("done", r.snap.Done),
		)
	default:
		r.snap.State = StateError
		r.snap.Error = err.Error()
		observability.WithError(r.logger, err).Error("operation failed",
			slog.String("name", r.snap.Name),
			slog.Duration("elapsed", elapsed),
		)
	}
}

// Verify interface compliance at compile time.
var _ Reporter = (*LogReporter)(nil)
var _ Reporter = NilReporter{}
