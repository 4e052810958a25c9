package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"maxpop/internal/provision"
	"maxpop/internal/queue"
	"maxpop/internal/stats"
)

// FillErrorPolicy decides what a failed push does to its round.
type FillErrorPolicy int

const (
	// FillErrorsIgnored counts a push as complete whether or not it succeeded.
	// Only the drain path is under test, so a lossy fill surfaces later as an empty pop.
	FillErrorsIgnored FillErrorPolicy = iota
	// FillErrorsFatal fails the round once all pushes completed and at least one failed.
	FillErrorsFatal
)

func ParseFillErrorPolicy(s string) (FillErrorPolicy, error) {
	switch s {
	case "", "ignore":
		return FillErrorsIgnored, nil
	case "fatal":
		return FillErrorsFatal, nil
	default:
		return FillErrorsIgnored, fmt.Errorf("unknown fill error policy %q", s)
	}
}

func (p FillErrorPolicy) String() string {
	if p == FillErrorsFatal {
		return "fatal"
	}
	return "ignore"
}

type Config struct {
	Endpoints   []queue.Endpoint
	Slice       int    // consecutive pops sent to the same endpoint
	OriginQueue string // queue every push targets and every pop drains

	Ramp     Ramp
	Cooldown time.Duration // pause between rounds so the service settles

	PopTimeout  time.Duration // 0 waits forever
	PopRate     float64       // pops dispatched per second, 0 is unlimited
	MaxInflight int           // concurrent pushes during the fill phase

	ControllerID int // only pause/resume signals with this id are honoured
	FillErrors   FillErrorPolicy
}

const (
	DefaultOriginQueue  = "q0"
	DefaultMaxInflight  = 500
	DefaultControllerID = 1
	DefaultCooldown     = 10 * time.Second
)

func (c *Config) applyDefaults() {
	if c.OriginQueue == "" {
		c.OriginQueue = DefaultOriginQueue
	}
	if c.MaxInflight <= 0 {
		c.MaxInflight = DefaultMaxInflight
	}
	if c.ControllerID == 0 {
		c.ControllerID = DefaultControllerID
	}
	if c.Slice <= 0 {
		c.Slice = 1
	}
}

func (c Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return errors.New("at least one endpoint is required")
	}
	for i, ep := range c.Endpoints {
		if ep.Host == "" || ep.Port <= 0 {
			return fmt.Errorf("endpoint %d: host and port are required", i)
		}
	}
	if c.PopRate < 0 {
		return errors.New("pop rate must not be negative")
	}
	if c.Cooldown < 0 || c.PopTimeout < 0 {
		return errors.New("durations must not be negative")
	}
	return c.Ramp.Validate()
}

// Round is one fill-then-drain cycle at a fixed load point.
type Round struct {
	QueueCount  int `json:"queue_count"`
	PayloadSize int `json:"payload_size"`
}

// Sample is the measured outcome of a successful round.
type Sample struct {
	QueueCount    int           `json:"queue_count"`
	ElapsedMillis int64         `json:"elapsed_ms"`
	PayloadSize   int           `json:"payload_size"`
	Timestamp     time.Time     `json:"timestamp"`
	PopLatency    stats.Latency `json:"pop_latency"`
	Pops          uint64        `json:"pops"`
	PushErrors    uint64        `json:"push_errors"`
	Version       uint64        `json:"version"`
}

func (s Sample) Message() string {
	return fmt.Sprintf("%d pops with a provision of %d bytes in %d milliseconds without errors",
		s.QueueCount, s.PayloadSize, s.ElapsedMillis)
}

// Point is the [queues, elapsed ms, payload bytes] triple plotted by observers.
func (s Sample) Point() [3]int64 {
	return [3]int64{int64(s.QueueCount), s.ElapsedMillis, int64(s.PayloadSize)}
}

// TimeLayout renders report timestamps like "15:04:05 GMT+0200 (CEST)".
const TimeLayout = "15:04:05 GMT-0700 (MST)"

type PointMessage struct {
	ID    int      `json:"id"`
	Point [3]int64 `json:"Point"`
}

// Report is handed to the caller's callback once per sample.
type Report struct {
	Time    string       `json:"time"`
	Message PointMessage `json:"message"`
	Version uint64       `json:"version"`
}

type PointFunc func(Report)

// Filler pushes one provision into a queue.
type Filler interface {
	Push(ctx context.Context, queue string, p provision.Provision) error
}

// Popper retrieves up to max messages from queue at ep.
type Popper interface {
	Pop(ctx context.Context, ep queue.Endpoint, queue string, max int) (queue.PopResult, error)
}

// Datastore is flushed after every successful round and closed when the run completes.
type Datastore interface {
	Flush(ctx context.Context) error
	Close() error
}

// Attacher scopes control signals to one run at a time.
type Attacher interface {
	Attach(g *Gate) (detach func())
}

type EventKind int

const (
	EventRoundStarted EventKind = iota
	EventSample
	EventPaused
	EventResumed
	EventFinished
)

// Event is sent over EventChan without blocking the controller.
type Event struct {
	Kind    EventKind
	RunID   string
	Version uint64
	Round   Round
	Sample  *Sample
	Err     error
}

type EventChan chan Event
