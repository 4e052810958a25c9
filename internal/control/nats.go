package control

import (
	"encoding/json"
	"errors"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subscriber is the subset of *nats.Conn used to listen for control events.
type Subscriber interface {
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// MsgHandler decodes a {"id": n} message and dispatches it as event.
func (h *Hub) MsgHandler(event string) nats.MsgHandler {
	return func(m *nats.Msg) {
		var sig Signal
		if err := json.Unmarshal(m.Data, &sig); err != nil {
			h.logger.Warn("malformed control message",
				zap.String("subject", m.Subject),
				zap.Error(err))
			return
		}
		if _, err := h.Dispatch(event, sig); err != nil && !errors.Is(err, ErrNoActiveRun) {
			h.logger.Warn("control message rejected", zap.String("event", event), zap.Error(err))
		}
	}
}

// ListenNATS subscribes to prefix+pauseTest and prefix+continueTest.
// The returned function drops both subscriptions.
func ListenNATS(nc Subscriber, hub *Hub, prefix string) (func(), error) {
	var subs []*nats.Subscription
	unsubscribe := func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}

	for _, event := range []string{EventPause, EventContinue} {
		sub, err := nc.Subscribe(prefix+event, hub.MsgHandler(event))
		if err != nil {
			unsubscribe()
			return nil, err
		}
		subs = append(subs, sub)
	}
	return unsubscribe, nil
}
