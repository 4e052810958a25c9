package sink

import (
	"encoding/json"

	"go.uber.org/zap"
)

// EventEndLog carries the human readable line of every completed round.
const EventEndLog = "endLog"

// LogLine is the body of an endLog event.
type LogLine struct {
	Time    string `json:"time"`
	Message string `json:"message"`
}

// Emitter receives result events. Emit must not block the caller for long
// and never reports failure back.
type Emitter interface {
	Emit(event string, line LogLine)
}

// Log writes every event to a zap logger.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Emit(event string, line LogLine) {
	l.logger.Info(line.Message,
		zap.String("event", event),
		zap.String("time", line.Time))
}

// Publisher is the subset of *nats.Conn used by the NATS sink.
type Publisher interface {
	Publish(subj string, data []byte) error
}

// NATS publishes every event as JSON on subject prefix+event.
type NATS struct {
	pub    Publisher
	prefix string
	logger *zap.Logger
}

func NewNATS(pub Publisher, prefix string, logger *zap.Logger) *NATS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATS{pub: pub, prefix: prefix, logger: logger}
}

func (n *NATS) Emit(event string, line LogLine) {
	b, err := json.Marshal(line)
	if err != nil {
		n.logger.Warn("encode result event", zap.Error(err))
		return
	}
	if err := n.pub.Publish(n.prefix+event, b); err != nil {
		n.logger.Warn("publish result event",
			zap.String("subject", n.prefix+event),
			zap.Error(err))
	}
}

// Multi fans an event out to every emitter in order.
type Multi []Emitter

func (m Multi) Emit(event string, line LogLine) {
	for _, e := range m {
		if e != nil {
			e.Emit(event, line)
		}
	}
}
