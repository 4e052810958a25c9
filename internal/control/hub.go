package control

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"maxpop/internal/runner"
)

// Control events, named after the observer protocol.
const (
	EventPause    = "pauseTest"
	EventContinue = "continueTest"
)

var (
	ErrNoActiveRun  = errors.New("no active run")
	ErrUnknownEvent = errors.New("unknown control event")
)

// Signal is the payload of a control event.
type Signal struct {
	ID int `json:"id"`
}

// Hub routes control signals to the gate of the run currently attached.
// Signals arriving with no run attached are rejected, so nothing leaks into a later run.
type Hub struct {
	mu     sync.Mutex
	gate   *runner.Gate
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{logger: logger}
}

// Attach makes g the target of future signals until detach is called.
func (h *Hub) Attach(g *runner.Gate) func() {
	h.mu.Lock()
	h.gate = g
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.gate == g {
			h.gate = nil
		}
	}
}

func (h *Hub) Attached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gate != nil
}

// Dispatch applies event to the attached gate and reports whether the state changed.
func (h *Hub) Dispatch(event string, sig Signal) (bool, error) {
	h.mu.Lock()
	g := h.gate
	h.mu.Unlock()

	if g == nil {
		return false, ErrNoActiveRun
	}

	var applied bool
	switch event {
	case EventPause:
		applied = g.Pause(sig.ID)
	case EventContinue:
		applied = g.Resume(sig.ID)
	default:
		return false, ErrUnknownEvent
	}

	h.logger.Info("control signal",
		zap.String("event", event),
		zap.Int("id", sig.ID),
		zap.Bool("applied", applied))
	return applied, nil
}
