package runner

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"maxpop/internal/provision"
	"maxpop/internal/queue"
	"maxpop/internal/sink"
)

// fakeService is an in-memory queue that plays filler, popper and datastore.
type fakeService struct {
	mu sync.Mutex

	pending  int
	pushes   int
	pops     int
	flushes  int
	closes   int
	payloads []int
	hits     map[queue.Endpoint]int

	pushErr  error
	dropPush func(n int) bool // drop the n-th push (1-based) without error
	popErr   func(n int) error
	popBlock bool
	popDelay time.Duration
}

func newFakeService() *fakeService {
	return &fakeService{hits: make(map[queue.Endpoint]int)}
}

func (f *fakeService) Push(ctx context.Context, _ string, p provision.Provision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes++
	f.payloads = append(f.payloads, p.Len())
	if f.pushErr != nil {
		return f.pushErr
	}
	if f.dropPush != nil && f.dropPush(f.pushes) {
		return nil
	}
	f.pending++
	return nil
}

func (f *fakeService) Pop(ctx context.Context, ep queue.Endpoint, _ string, max int) (queue.PopResult, error) {
	if f.popBlock {
		<-ctx.Done()
		return queue.PopResult{}, ctx.Err()
	}
	if f.popDelay > 0 {
		time.Sleep(f.popDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.pops++
	f.hits[ep]++
	if f.popErr != nil {
		if err := f.popErr(f.pops); err != nil {
			return queue.PopResult{}, err
		}
	}

	if f.pending == 0 {
		return queue.PopResult{Endpoint: ep, Status: 200, Data: json.RawMessage("[]"), Body: []byte(`{"ok":true,"data":[]}`)}, nil
	}
	f.pending--
	return queue.PopResult{Endpoint: ep, Status: 200, Data: json.RawMessage(`["x"]`), Latency: time.Millisecond}, nil
}

func (f *fakeService) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	f.pending = 0
	return nil
}

func (f *fakeService) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeService) snapshot() (pushes, pops, flushes, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes, f.pops, f.flushes, f.closes
}

type recordingSink struct {
	mu    sync.Mutex
	lines []sink.LogLine
}

func (r *recordingSink) Emit(event string, line sink.LogLine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines)
}

type fakeHub struct {
	mu       sync.Mutex
	attached *Gate
	attaches int
	detaches int
}

func (h *fakeHub) Attach(g *Gate) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attached = g
	h.attaches++
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.attached = nil
		h.detaches++
	}
}

var errTransport = errors.New("connection refused")

func testEndpoints() []queue.Endpoint {
	return []queue.Endpoint{
		{Host: "agent-a", Port: 3001},
		{Host: "agent-b", Port: 3001},
		{Host: "agent-c", Port: 3001},
	}
}

func testConfig() Config {
	return Config{
		Endpoints: testEndpoints(),
		Slice:     5,
		Ramp: Ramp{
			QueueStep:   1,
			MaxQueues:   3,
			PayloadStep: 10,
			MaxPayload:  20,
		},
	}
}
