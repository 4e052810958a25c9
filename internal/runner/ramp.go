package runner

import "errors"

// Ramp walks the load matrix: queue count varies fastest, payload size slowest.
type Ramp struct {
	QueueStep   int `json:"queue_step"`
	MaxQueues   int `json:"max_queues"`
	PayloadStep int `json:"payload_step"`
	MaxPayload  int `json:"max_payload"`
}

func (r Ramp) Validate() error {
	if r.QueueStep <= 0 {
		return errors.New("queue step must be positive")
	}
	if r.PayloadStep <= 0 {
		return errors.New("payload step must be positive")
	}
	if r.MaxQueues <= 0 {
		return errors.New("max queues must be positive")
	}
	if r.MaxPayload < 0 {
		return errors.New("max payload must not be negative")
	}
	return nil
}

// Next returns the round following cur. start is the first round of the run;
// its queue count is where every payload size restarts.
func (r Ramp) Next(start, cur Round) (next Round, payloadChanged, done bool) {
	if q := cur.QueueCount + r.QueueStep; q <= r.MaxQueues {
		return Round{QueueCount: q, PayloadSize: cur.PayloadSize}, false, false
	}
	if p := cur.PayloadSize + r.PayloadStep; p <= r.MaxPayload {
		return Round{QueueCount: start.QueueCount, PayloadSize: p}, true, false
	}
	return Round{}, false, true
}

// Plan lists every round a run starting at start goes through.
func (r Ramp) Plan(start Round) []Round {
	if r.Validate() != nil {
		return []Round{start}
	}
	plan := []Round{start}
	cur := start
	for {
		next, _, done := r.Next(start, cur)
		if done {
			return plan
		}
		plan = append(plan, next)
		cur = next
	}
}
