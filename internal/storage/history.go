package storage

import (
	"time"

	"go.uber.org/zap"

	"maxpop/internal/runner"
)

const (
	OutcomeRunning  = "running"
	OutcomeFinished = "finished"
	OutcomeFailed   = "failed"
)

type RunRecord struct {
	ID         string        `json:"id"`
	Version    uint64        `json:"version"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Config     runner.Config `json:"config"`
	Start      runner.Round  `json:"start"`
	Outcome    string        `json:"outcome"`
	Err        string        `json:"error,omitempty"`
	Samples    int           `json:"-"`
}

// Recorder persists the events of launched runs.
// Write failures are logged; history never stops a run.
type Recorder struct {
	store  *Store
	logger *zap.Logger
}

func NewRecorder(store *Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, logger: logger}
}

// Begin records a run that was just launched.
func (r *Recorder) Begin(run *runner.Run, cfg runner.Config, start runner.Round) {
	err := r.store.SaveRun(RunRecord{
		ID:        run.ID,
		Version:   run.Version,
		StartedAt: time.Now(),
		Config:    cfg,
		Start:     start,
		Outcome:   OutcomeRunning,
	})
	if err != nil {
		r.logger.Warn("save run", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (r *Recorder) Handle(ev runner.Event) {
	var err error
	switch ev.Kind {
	case runner.EventSample:
		if ev.Sample != nil {
			err = r.store.AppendSample(ev.RunID, *ev.Sample)
		}
	case runner.EventFinished:
		err = r.store.FinishRun(ev.RunID, time.Now(), ev.Err)
	default:
		return
	}
	if err != nil {
		r.logger.Warn("record run event", zap.String("run_id", ev.RunID), zap.Error(err))
	}
}
