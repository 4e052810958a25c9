package runner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"maxpop/internal/metrics"
	"maxpop/internal/provision"
	"maxpop/internal/queue"
	"maxpop/internal/sink"
	"maxpop/internal/stats"
)

// Controller drives runs of fill/drain rounds against the queue service.
// Each Launch gets its own RunState; the controller only shares the version counter.
type Controller struct {
	cfg     Config
	filler  Filler
	popper  Popper
	store   Datastore
	sink    sink.Emitter
	hub     Attacher
	metrics *metrics.Metrics
	logger  *zap.Logger
	events  EventChan

	generate func(count, size int) (provision.Provision, error)
	fillSem  *semaphore.Weighted
	limiter  *rate.Limiter
	version  atomic.Uint64
}

type Option func(*Controller)

func WithSink(e sink.Emitter) Option {
	return func(c *Controller) { c.sink = e }
}

func WithHub(h Attacher) Option {
	return func(c *Controller) { c.hub = h }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithEvents streams progress events. Sends never block; a full channel drops events.
func WithEvents(ch EventChan) Option {
	return func(c *Controller) { c.events = ch }
}

func WithGenerator(fn func(count, size int) (provision.Provision, error)) Option {
	return func(c *Controller) { c.generate = fn }
}

func New(cfg Config, filler Filler, popper Popper, store Datastore, opts ...Option) (*Controller, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}
	if filler == nil || popper == nil || store == nil {
		return nil, errors.New("filler, popper and datastore are required")
	}

	c := &Controller{
		cfg:      cfg,
		filler:   filler,
		popper:   popper,
		store:    store,
		logger:   zap.NewNop(),
		generate: provision.Generate,
		fillSem:  semaphore.NewWeighted(int64(cfg.MaxInflight)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sink == nil {
		c.sink = sink.NewLog(c.logger)
	}
	if cfg.PopRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.PopRate), 1)
	}
	return c, nil
}

func (c *Controller) Config() Config {
	return c.cfg
}

// Version is the number of runs launched so far.
func (c *Controller) Version() uint64 {
	return c.version.Load()
}

// RunRound fills the origin queue with round.QueueCount copies of p, then
// drains it one message per pop and measures how long the drain took.
func (c *Controller) RunRound(ctx context.Context, round Round, p provision.Provision) (Sample, error) {
	if round.QueueCount < 1 {
		return Sample{}, fmt.Errorf("queue count must be positive, got %d", round.QueueCount)
	}

	st := stats.NewRound()
	c.metrics.RoundStarted(round.QueueCount, p.Len())

	if err := c.fill(ctx, round.QueueCount, p, st); err != nil {
		c.metrics.RoundFinished(outcomeOf(err))
		return Sample{}, err
	}

	elapsed, err := c.drain(ctx, round.QueueCount, st)
	if err != nil {
		c.metrics.RoundFinished(outcomeOf(err))
		return Sample{}, err
	}

	sample := Sample{
		QueueCount:    round.QueueCount,
		ElapsedMillis: elapsed.Milliseconds(),
		PayloadSize:   p.Len(),
		Timestamp:     time.Now(),
		PopLatency:    st.Latency(),
		Pops:          st.PopCount(),
		PushErrors:    st.PushErrorCount(),
	}
	c.metrics.ObserveDrain(strconv.Itoa(p.Len()), elapsed.Seconds())
	c.metrics.RoundFinished(metrics.OutcomeSuccess)

	if err := c.store.Flush(ctx); err != nil {
		c.logger.Warn("flush datastore", zap.Error(err))
	}
	return sample, nil
}

func (c *Controller) fill(ctx context.Context, n int, p provision.Provision, st *stats.Round) error {
	b := NewBarrier(n)
	var failed atomic.Int64
	first := newFirstError()

	for i := 0; i < n; i++ {
		if err := c.fillSem.Acquire(ctx, 1); err != nil {
			return err
		}
		go func() {
			defer c.fillSem.Release(1)
			err := c.filler.Push(ctx, c.cfg.OriginQueue, p)
			st.AddPush(err != nil)
			if err != nil {
				failed.Add(1)
				first.Set(err)
				c.metrics.PushError()
				c.logger.Debug("push failed", zap.String("queue", c.cfg.OriginQueue), zap.Error(err))
			}
			b.Arrive()
		}()
	}

	select {
	case <-b.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	if c.cfg.FillErrors == FillErrorsFatal && failed.Load() > 0 {
		return &FillError{Failed: int(failed.Load()), Total: n, Err: first.Err()}
	}
	return nil
}

func (c *Controller) drain(ctx context.Context, n int, st *stats.Round) (time.Duration, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b := NewBarrier(n)
	first := newFirstError()
	start := time.Now()

dispatch:
	for attempt := 0; attempt < n; attempt++ {
		select {
		case <-first.Done():
			break dispatch
		default:
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				break
			}
		}
		ep := c.cfg.Endpoints[EndpointIndex(attempt, c.cfg.Slice, len(c.cfg.Endpoints))]
		go c.pop(ctx, ep, st, b, first)
	}

	select {
	case <-b.Done():
	case <-first.Done():
	case <-ctx.Done():
	}

	// errors are recorded before the arrival that carries them
	if err := first.Err(); err != nil {
		return 0, err
	}
	select {
	case <-b.Done():
		return time.Since(start), nil
	default:
		return 0, ctx.Err()
	}
}

func (c *Controller) pop(ctx context.Context, ep queue.Endpoint, st *stats.Round, b *Barrier, first *firstError) {
	pctx := ctx
	if c.cfg.PopTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, c.cfg.PopTimeout)
		defer cancel()
	}

	res, err := c.popper.Pop(pctx, ep, c.cfg.OriginQueue, 1)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		st.AddNoResponse()
		c.metrics.Pop(ep.String(), metrics.OutcomeNoResponse)
		first.Set(&NoResponseError{Endpoint: ep, Err: err})
		return
	}

	empty := res.Empty()
	st.AddPop(res.Latency, empty)
	if empty {
		c.metrics.Pop(ep.String(), metrics.OutcomeEmptyQueue)
		first.Set(&EmptyQueueError{Endpoint: ep, Raw: string(res.Body)})
	} else {
		c.metrics.Pop(ep.String(), metrics.OutcomeSuccess)
	}
	b.Arrive()
}

// Launch starts a run at (initialQueues, initialPayload) and returns at once.
// Every call bumps the version by one. Failures end the run and are logged;
// Go callers can still read them from Run.Err.
func (c *Controller) Launch(ctx context.Context, initialQueues, initialPayload int, cb PointFunc) *Run {
	run := &Run{
		ID:      uuid.New().String(),
		Version: c.version.Add(1),
		gate:    NewGate(c.cfg.ControllerID),
		done:    make(chan struct{}),
		state: Status{
			Round: Round{QueueCount: initialQueues, PayloadSize: initialPayload},
			Phase: PhaseRunning,
		},
	}
	run.gate.OnChange(func(paused bool) {
		c.metrics.SetPaused(paused)
		kind := EventResumed
		if paused {
			kind = EventPaused
		}
		c.publish(Event{Kind: kind, RunID: run.ID, Version: run.Version, Round: run.Status().Round})
	})
	if c.hub != nil {
		detach := c.hub.Attach(run.gate)
		run.detach = detach
	}

	go c.loop(ctx, run, Round{QueueCount: initialQueues, PayloadSize: initialPayload}, cb)
	return run
}

func (c *Controller) loop(ctx context.Context, run *Run, start Round, cb PointFunc) {
	log := c.logger.With(zap.String("run_id", run.ID), zap.Uint64("version", run.Version))
	defer close(run.done)
	if run.detach != nil {
		defer run.detach()
	}

	fail := func(round Round, err error) {
		log.Error("run aborted",
			zap.Int("queues", round.QueueCount),
			zap.Int("payload", round.PayloadSize),
			zap.Error(err))
		run.finish(err)
		c.publish(Event{Kind: EventFinished, RunID: run.ID, Version: run.Version, Round: round, Err: err})
	}

	round := start
	p, err := c.generate(1, round.PayloadSize)
	if err != nil {
		fail(round, err)
		return
	}

	for {
		run.setRound(round, PhaseRunning)
		c.publish(Event{Kind: EventRoundStarted, RunID: run.ID, Version: run.Version, Round: round})

		sample, err := c.RunRound(ctx, round, p)
		if err != nil {
			fail(round, err)
			return
		}
		sample.Version = run.Version
		run.addSample(sample)
		c.report(run, sample, cb)

		next, payloadChanged, done := c.cfg.Ramp.Next(start, round)
		if done {
			if err := c.store.Close(); err != nil {
				log.Warn("close datastore", zap.Error(err))
			}
			log.Info("all tests finished", zap.Int("rounds", len(run.Samples())))
			run.finish(nil)
			c.publish(Event{Kind: EventFinished, RunID: run.ID, Version: run.Version, Round: round})
			return
		}
		if payloadChanged {
			if p, err = c.generate(1, next.PayloadSize); err != nil {
				fail(next, err)
				return
			}
		}
		round = next

		run.setRound(round, PhaseCooldown)
		if err := sleepCtx(ctx, c.cfg.Cooldown); err != nil {
			fail(round, err)
			return
		}
		if run.gate.Paused() {
			run.setPhase(PhasePaused)
			log.Info("run paused", zap.Int("next_queues", round.QueueCount), zap.Int("next_payload", round.PayloadSize))
		}
		if err := run.gate.Wait(ctx); err != nil {
			fail(round, err)
			return
		}
	}
}

func (c *Controller) report(run *Run, s Sample, cb PointFunc) {
	ts := s.Timestamp.Format(TimeLayout)
	c.sink.Emit(sink.EventEndLog, sink.LogLine{Time: ts, Message: s.Message()})

	if cb != nil {
		cb(Report{
			Time:    ts,
			Message: PointMessage{ID: 1, Point: s.Point()},
			Version: run.Version,
		})
	}

	c.publish(Event{
		Kind:    EventSample,
		RunID:   run.ID,
		Version: run.Version,
		Round:   Round{QueueCount: s.QueueCount, PayloadSize: s.PayloadSize},
		Sample:  &s,
	})
}

func (c *Controller) publish(ev Event) {
	if c.events == nil {
		return
	}
	select {
	case c.events <- ev:
	default:
		// a slow observer loses events rather than stalling the run
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Phase describes what a run is doing right now.
type Phase string

const (
	PhaseRunning  Phase = "running"
	PhaseCooldown Phase = "cooldown"
	PhasePaused   Phase = "paused"
	PhaseFinished Phase = "finished"
	PhaseFailed   Phase = "failed"
)

// Status is a point-in-time copy of a run's state.
type Status struct {
	RunID     string `json:"run_id"`
	Version   uint64 `json:"version"`
	Round     Round  `json:"round"`
	Phase     Phase  `json:"phase"`
	Paused    bool   `json:"paused"`
	Completed int    `json:"completed_rounds"`
	Err       string `json:"error,omitempty"`
}

// Run is the handle of one launched run. It owns the run's state.
type Run struct {
	ID      string
	Version uint64

	gate   *Gate
	done   chan struct{}
	detach func()

	mu      sync.Mutex
	state   Status
	samples []Sample
	err     error
}

func (r *Run) Gate() *Gate {
	return r.gate
}

func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run ends and returns its terminal error.
func (r *Run) Wait() error {
	<-r.done
	return r.Err()
}

func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state
	s.RunID = r.ID
	s.Version = r.Version
	s.Completed = len(r.samples)
	s.Paused = r.gate.Paused()
	if r.err != nil {
		s.Err = r.err.Error()
	}
	return s
}

func (r *Run) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sample, len(r.samples))
	copy(out, r.samples)
	return out
}

func (r *Run) setRound(round Round, phase Phase) {
	r.mu.Lock()
	r.state.Round = round
	r.state.Phase = phase
	r.mu.Unlock()
}

func (r *Run) setPhase(phase Phase) {
	r.mu.Lock()
	r.state.Phase = phase
	r.mu.Unlock()
}

func (r *Run) addSample(s Sample) {
	r.mu.Lock()
	r.samples = append(r.samples, s)
	r.mu.Unlock()
}

func (r *Run) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
	if err != nil {
		r.state.Phase = PhaseFailed
	} else {
		r.state.Phase = PhaseFinished
	}
}
