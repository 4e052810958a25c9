package sink

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(subj string, data []byte) error {
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)
	return f.err
}

func TestNATSEmit(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNATS(pub, "maxpop.", zap.NewNop())

	n.Emit(EventEndLog, LogLine{Time: "10:00:00", Message: "3 pops"})

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "maxpop.endLog", pub.subjects[0])

	var line LogLine
	require.NoError(t, json.Unmarshal(pub.payloads[0], &line))
	assert.Equal(t, "3 pops", line.Message)
	assert.Equal(t, "10:00:00", line.Time)
}

func TestNATSEmitSwallowsPublishErrors(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	pub := &fakePublisher{err: errors.New("connection closed")}
	n := NewNATS(pub, "", zap.New(core))

	assert.NotPanics(t, func() {
		n.Emit(EventEndLog, LogLine{Message: "x"})
	})
	assert.Equal(t, 1, logs.FilterMessage("publish result event").Len())
}

func TestLogEmit(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	NewLog(zap.New(core)).Emit(EventEndLog, LogLine{Time: "t", Message: "1 pops"})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "1 pops", entries[0].Message)
	assert.Equal(t, EventEndLog, entries[0].ContextMap()["event"])
}

func TestMultiFansOut(t *testing.T) {
	a, b := &fakePublisher{}, &fakePublisher{}
	m := Multi{NewNATS(a, "", nil), nil, NewNATS(b, "", nil)}

	m.Emit(EventEndLog, LogLine{Message: "x"})
	assert.Len(t, a.subjects, 1)
	assert.Len(t, b.subjects, 1)
}
