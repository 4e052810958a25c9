package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"maxpop/internal/metrics"
	"maxpop/internal/provision"
)

func newTestController(t *testing.T, cfg Config, svc *fakeService, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{WithLogger(zap.NewNop()), WithSink(&recordingSink{})}, opts...)
	c, err := New(cfg, svc, svc, svc, opts...)
	require.NoError(t, err)
	return c
}

func waitRun(t *testing.T, run *Run) error {
	t.Helper()
	select {
	case <-run.Done():
		return run.Err()
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
		return nil
	}
}

func mustProvision(t *testing.T, size int) provision.Provision {
	t.Helper()
	p, err := provision.Generate(1, size)
	require.NoError(t, err)
	return p
}

func TestNewValidatesConfig(t *testing.T) {
	svc := newFakeService()

	cfg := testConfig()
	cfg.Endpoints = nil
	_, err := New(cfg, svc, svc, svc)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Ramp.QueueStep = 0
	_, err = New(cfg, svc, svc, svc)
	assert.Error(t, err)

	_, err = New(testConfig(), nil, svc, svc)
	assert.Error(t, err)

	c, err := New(testConfig(), svc, svc, svc)
	require.NoError(t, err)
	assert.Equal(t, DefaultOriginQueue, c.Config().OriginQueue)
	assert.Equal(t, DefaultMaxInflight, c.Config().MaxInflight)
	assert.Equal(t, DefaultControllerID, c.Config().ControllerID)
}

func TestRunRound(t *testing.T) {
	for _, n := range []int{1, 2, 50} {
		svc := newFakeService()
		c := newTestController(t, testConfig(), svc)

		sample, err := c.RunRound(context.Background(), Round{QueueCount: n, PayloadSize: 32}, mustProvision(t, 32))
		require.NoError(t, err)

		assert.Equal(t, n, sample.QueueCount)
		assert.Equal(t, 32, sample.PayloadSize)
		assert.Equal(t, uint64(n), sample.Pops)
		assert.GreaterOrEqual(t, sample.ElapsedMillis, int64(0))
		assert.False(t, sample.Timestamp.IsZero())

		pushes, pops, flushes, _ := svc.snapshot()
		assert.Equal(t, n, pushes)
		assert.Equal(t, n, pops, "exactly one pop per queued message")
		assert.Equal(t, 1, flushes)
	}
}

func TestRunRoundSpreadsPopsInSlices(t *testing.T) {
	svc := newFakeService()
	cfg := testConfig()
	cfg.Slice = 2
	c := newTestController(t, cfg, svc)

	_, err := c.RunRound(context.Background(), Round{QueueCount: 7, PayloadSize: 1}, mustProvision(t, 1))
	require.NoError(t, err)

	eps := testEndpoints()
	assert.Equal(t, 3, svc.hits[eps[0]])
	assert.Equal(t, 2, svc.hits[eps[1]])
	assert.Equal(t, 2, svc.hits[eps[2]])
}

func TestRunRoundRejectsZeroQueues(t *testing.T) {
	c := newTestController(t, testConfig(), newFakeService())
	_, err := c.RunRound(context.Background(), Round{QueueCount: 0}, mustProvision(t, 1))
	assert.Error(t, err)
}

func TestRunRoundEmptyQueue(t *testing.T) {
	svc := newFakeService()
	svc.dropPush = func(n int) bool { return n == 3 }
	m := metrics.New()
	c := newTestController(t, testConfig(), svc, WithMetrics(m))

	_, err := c.RunRound(context.Background(), Round{QueueCount: 5, PayloadSize: 8}, mustProvision(t, 8))
	require.Error(t, err)

	var empty *EmptyQueueError
	require.True(t, errors.As(err, &empty))
	assert.Contains(t, empty.Raw, `"data":[]`)

	_, _, flushes, _ := svc.snapshot()
	assert.Zero(t, flushes, "failed rounds are not flushed")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rounds.WithLabelValues(metrics.OutcomeEmptyQueue)))
}

func TestRunRoundNoResponse(t *testing.T) {
	svc := newFakeService()
	svc.popErr = func(n int) error {
		if n == 2 {
			return errTransport
		}
		return nil
	}
	c := newTestController(t, testConfig(), svc)

	_, err := c.RunRound(context.Background(), Round{QueueCount: 4, PayloadSize: 8}, mustProvision(t, 8))

	var noResp *NoResponseError
	require.True(t, errors.As(err, &noResp))
	assert.ErrorIs(t, err, errTransport)
}

func TestRunRoundPopTimeout(t *testing.T) {
	svc := newFakeService()
	svc.popBlock = true
	cfg := testConfig()
	cfg.PopTimeout = 20 * time.Millisecond
	c := newTestController(t, cfg, svc)

	_, err := c.RunRound(context.Background(), Round{QueueCount: 2, PayloadSize: 8}, mustProvision(t, 8))

	var noResp *NoResponseError
	require.True(t, errors.As(err, &noResp))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunRoundCancelled(t *testing.T) {
	svc := newFakeService()
	svc.popBlock = true
	c := newTestController(t, testConfig(), svc)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.RunRound(ctx, Round{QueueCount: 2, PayloadSize: 8}, mustProvision(t, 8))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunRoundFillErrorsIgnoredByDefault(t *testing.T) {
	svc := newFakeService()
	svc.pushErr = errors.New("redis down")
	c := newTestController(t, testConfig(), svc)

	_, err := c.RunRound(context.Background(), Round{QueueCount: 3, PayloadSize: 8}, mustProvision(t, 8))

	// every push completed, so the fill barrier released and the drain found nothing
	var empty *EmptyQueueError
	assert.True(t, errors.As(err, &empty))
}

func TestRunRoundFillErrorsFatal(t *testing.T) {
	svc := newFakeService()
	svc.pushErr = errors.New("redis down")
	cfg := testConfig()
	cfg.FillErrors = FillErrorsFatal
	c := newTestController(t, cfg, svc)

	_, err := c.RunRound(context.Background(), Round{QueueCount: 3, PayloadSize: 8}, mustProvision(t, 8))

	var fill *FillError
	require.True(t, errors.As(err, &fill))
	assert.Equal(t, 3, fill.Failed)
	assert.Equal(t, 3, fill.Total)

	_, pops, _, _ := svc.snapshot()
	assert.Zero(t, pops)
}

func TestRunRoundPopRate(t *testing.T) {
	svc := newFakeService()
	cfg := testConfig()
	cfg.PopRate = 100
	c := newTestController(t, cfg, svc)

	sample, err := c.RunRound(context.Background(), Round{QueueCount: 5, PayloadSize: 8}, mustProvision(t, 8))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sample.ElapsedMillis, int64(30))
}

func TestLaunchWalksTheRamp(t *testing.T) {
	svc := newFakeService()
	rec := &recordingSink{}
	c := newTestController(t, testConfig(), svc, WithSink(rec))

	var mu sync.Mutex
	var reports []Report
	run := c.Launch(context.Background(), 1, 10, func(r Report) {
		mu.Lock()
		reports = append(reports, r)
		mu.Unlock()
	})
	require.NoError(t, waitRun(t, run))

	mu.Lock()
	defer mu.Unlock()
	var points [][3]int64
	for _, r := range reports {
		points = append(points, r.Message.Point)
		assert.Equal(t, 1, r.Message.ID)
		assert.Equal(t, uint64(1), r.Version)
		assert.NotEmpty(t, r.Time)
	}

	require.Len(t, points, 6)
	var rounds [][2]int64
	for _, p := range points {
		rounds = append(rounds, [2]int64{p[0], p[2]})
		assert.GreaterOrEqual(t, p[1], int64(0))
	}
	assert.Equal(t, [][2]int64{{1, 10}, {2, 10}, {3, 10}, {1, 20}, {2, 20}, {3, 20}}, rounds)

	_, _, flushes, closes := svc.snapshot()
	assert.Equal(t, 6, flushes)
	assert.Equal(t, 1, closes)
	assert.Equal(t, 6, rec.count())

	st := run.Status()
	assert.Equal(t, PhaseFinished, st.Phase)
	assert.Equal(t, 6, st.Completed)
	assert.Len(t, run.Samples(), 6)
}

func TestLaunchAbortsOnEmptyQueue(t *testing.T) {
	svc := newFakeService()
	// the second round pushes 2 messages: push #2 overall is round 2's first
	svc.dropPush = func(n int) bool { return n == 2 }
	c := newTestController(t, testConfig(), svc)

	var calls int
	run := c.Launch(context.Background(), 1, 10, func(Report) { calls++ })
	err := waitRun(t, run)

	var empty *EmptyQueueError
	require.True(t, errors.As(err, &empty))
	assert.Equal(t, 1, calls)
	assert.Equal(t, PhaseFailed, run.Status().Phase)
	assert.NotEmpty(t, run.Status().Err)

	pushes, _, _, closes := svc.snapshot()
	assert.Equal(t, 3, pushes, "no round starts after the failing one")
	assert.Zero(t, closes)
}

func TestLaunchIncrementsVersionOnce(t *testing.T) {
	svc := newFakeService()
	c := newTestController(t, testConfig(), svc)
	assert.Equal(t, uint64(0), c.Version())

	first := c.Launch(context.Background(), 1, 10, nil)
	assert.Equal(t, uint64(1), first.Version)
	assert.Equal(t, uint64(1), c.Version())
	require.NoError(t, waitRun(t, first))
	assert.Equal(t, uint64(1), c.Version(), "rounds do not bump the version")

	second := c.Launch(context.Background(), 3, 20, nil)
	require.NoError(t, waitRun(t, second))
	assert.Equal(t, uint64(2), second.Version)
	assert.Equal(t, uint64(2), c.Version())
}

func TestPauseHoldsNextRound(t *testing.T) {
	svc := newFakeService()
	hub := &fakeHub{}
	c := newTestController(t, testConfig(), svc, WithHub(hub))

	var run *Run
	started := make(chan struct{})
	var mu sync.Mutex
	var samples int
	run = c.Launch(context.Background(), 1, 10, func(Report) {
		mu.Lock()
		samples++
		first := samples == 1
		mu.Unlock()
		if first {
			<-started
			assert.True(t, run.Gate().Pause(1))
		}
	})
	close(started)

	require.Eventually(t, func() bool {
		return run.Status().Phase == PhasePaused
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, run.Status().Paused)
	assert.False(t, run.Gate().Resume(2), "foreign id has no effect")
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, samples)
	mu.Unlock()
	pushes, _, _, _ := svc.snapshot()
	assert.Equal(t, 1, pushes, "no new round while paused")

	assert.True(t, run.Gate().Resume(1))
	require.NoError(t, waitRun(t, run))

	mu.Lock()
	assert.Equal(t, 6, samples, "resume continues from the frozen round")
	mu.Unlock()

	hub.mu.Lock()
	defer hub.mu.Unlock()
	assert.Equal(t, 1, hub.attaches)
	assert.Equal(t, 1, hub.detaches)
	assert.Nil(t, hub.attached)
}

func TestPauseDuringCooldown(t *testing.T) {
	svc := newFakeService()
	cfg := testConfig()
	cfg.Cooldown = 50 * time.Millisecond
	cfg.Ramp.MaxQueues = 2
	cfg.Ramp.MaxPayload = 10
	c := newTestController(t, cfg, svc)

	run := c.Launch(context.Background(), 1, 10, nil)
	require.Eventually(t, func() bool {
		return run.Status().Phase == PhaseCooldown
	}, 2*time.Second, time.Millisecond)

	require.True(t, run.Gate().Pause(1))
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, run.Samples(), 1)
	assert.Equal(t, PhasePaused, run.Status().Phase)

	run.Gate().Resume(1)
	require.NoError(t, waitRun(t, run))
	assert.Len(t, run.Samples(), 2)
}

func TestLaunchCancelled(t *testing.T) {
	svc := newFakeService()
	cfg := testConfig()
	cfg.Cooldown = time.Hour
	c := newTestController(t, cfg, svc)

	ctx, cancel := context.WithCancel(context.Background())
	run := c.Launch(ctx, 1, 10, nil)
	require.Eventually(t, func() bool {
		return run.Status().Phase == PhaseCooldown
	}, 2*time.Second, time.Millisecond)
	cancel()

	assert.ErrorIs(t, waitRun(t, run), context.Canceled)
}

func TestLaunchPublishesEvents(t *testing.T) {
	svc := newFakeService()
	events := make(EventChan, 64)
	cfg := testConfig()
	cfg.Ramp.MaxQueues = 1
	cfg.Ramp.MaxPayload = 10
	c := newTestController(t, cfg, svc, WithEvents(events))

	run := c.Launch(context.Background(), 1, 10, nil)
	require.NoError(t, waitRun(t, run))

	var kinds []EventKind
	for len(events) > 0 {
		ev := <-events
		assert.Equal(t, run.ID, ev.RunID)
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []EventKind{EventRoundStarted, EventSample, EventFinished}, kinds)
}

func TestSampleMessage(t *testing.T) {
	s := Sample{QueueCount: 4, ElapsedMillis: 12, PayloadSize: 100}
	assert.Equal(t, "4 pops with a provision of 100 bytes in 12 milliseconds without errors", s.Message())
	assert.Equal(t, [3]int64{4, 12, 100}, s.Point())
}
