// Package command implements named command slots with
// cancel-and-replace semantics.
//
// A slot represents one user intent ("zone 3 setpoint", "door position"):
// when a new command arrives for a slot, whatever command is still in
// flight there is obsolete and gets cancelled. The superseded command's
// cancellation is benign — the newer command owns any follow-up work —
// while cancellation from outside (shutdown, caller timeout) propagates
// as a real error.
package command

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Outcome describes how a slot execution ended.
type Outcome int

const (
	// OutcomeCompleted means the operation ran to completion.
	OutcomeCompleted Outcome = iota

	// OutcomeSuperseded means a newer command took the slot mid-flight.
	// Benign: the successor owns the slot's follow-up work.
	OutcomeSuperseded

	// OutcomeCancelled means cancellation came from outside the slot
	// (shutdown or caller cancellation). The error propagates.
	OutcomeCancelled

	// OutcomeFailed means the operation itself returned an error.
	OutcomeFailed
)

// String implements fmt.Stringer for log fields.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeSuperseded:
		return "superseded"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// task is one slot occupant. The uuid distinguishes "my cancellation came
// from a successor" from "my cancellation came from outside": a successor
// replaces the slot's task before cancelling, so a cancelled task that
// still occupies its slot was cancelled externally.
type task struct {
	id     uuid.UUID
	cancel context.CancelFunc
}

// Slots manages the set of named command slots for one device.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Execute is expected to be
//     called concurrently for the same slot; that is the whole point.
type Slots struct {
	mu     sync.Mutex
	active map[string]*task
	logger Logger
}

// NewSlots creates an empty slot set. Logger may be nil.
func NewSlots(logger Logger) *Slots {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Slots{
		active: make(map[string]*task),
		logger: logger,
	}
}

// Execute runs op in the named slot, cancelling any in-flight occupant
// first. Compose refresh or follow-up work into op: when op is superseded
// before that work runs, only the winning command performs it.
//
// Parameters:
//   - ctx: Parent context; its cancellation counts as external.
//   - slot: Intent name, e.g. "zone-3-setpoint".
//   - op: The command body. Must honor its context.
//
// Returns:
//   - Outcome: How the execution ended.
//   - error: nil for OutcomeCompleted and OutcomeSuperseded; the
//     cancellation or operation error otherwise.
func (s *Slots) Execute(ctx context.Context, slot string, op func(ctx context.Context) error) (Outcome, error) {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	t := &task{id: uuid.New(), cancel: cancel}

	s.mu.Lock()
	if prev := s.active[slot]; prev != nil {
		s.logger.Debug("superseding in-flight command",
			"slot", slot,
			"superseded", prev.id.String(),
			"by", t.id.String(),
		)
		prev.cancel()
	}
	s.active[slot] = t
	s.mu.Unlock()

	err := op(opCtx)

	s.mu.Lock()
	stillOurs := s.active[slot] == t
	if stillOurs {
		delete(s.active, slot)
	}
	s.mu.Unlock()

	switch {
	case err == nil:
		return OutcomeCompleted, nil
	case errors.Is(err, context.Canceled):
		if !stillOurs {
			// A successor took the slot; our cancellation is routine.
			return OutcomeSuperseded, nil
		}
		return OutcomeCancelled, err
	default:
		return OutcomeFailed, err
	}
}

// Cancel cancels the slot's in-flight command, if any. The cancelled
// command still occupies its slot, so it reports OutcomeCancelled.
func (s *Slots) Cancel(slot string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.active[slot]; t != nil {
		t.cancel()
	}
}

// CancelAll cancels every in-flight command. Used on shutdown.
func (s *Slots) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.active {
		t.cancel()
	}
}

// Pending reports whether the slot currently holds an in-flight command.
func (s *Slots) Pending(slot string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[slot] != nil
}
