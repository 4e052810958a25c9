package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"maxpop/internal/runner"
)

// Handle is the part of a launched run followed in headless mode.
type Handle interface {
	Done() <-chan struct{}
	Err() error
	Samples() []runner.Sample
}

const rule = "======================================================================"

type printer struct {
	w     io.Writer
	total int
	done  int
}

// Follow prints progress of run until it ends, then a summary, and returns the run's error.
func Follow(w io.Writer, run Handle, events <-chan runner.Event, cfg runner.Config, plan []runner.Round) error {
	p := &printer{w: w, total: len(plan)}
	p.header(cfg)
	start := time.Now()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			p.event(ev)
		case <-run.Done():
			p.drain(events)
			err := run.Err()
			printSummary(w, run.Samples(), time.Since(start), err)
			return err
		}
	}
}

func (p *printer) drain(events <-chan runner.Event) {
	if events == nil {
		return
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.event(ev)
		default:
			return
		}
	}
}

func (p *printer) header(cfg runner.Config) {
	endpoints := make([]string, len(cfg.Endpoints))
	for i, ep := range cfg.Endpoints {
		endpoints[i] = ep.String()
	}

	fmt.Fprintf(p.w, "\n🚀 STARTING MAXPOP RUN\n")
	fmt.Fprintln(p.w, rule)
	fmt.Fprintf(p.w, "Endpoints  : %s (slice %d)\n", strings.Join(endpoints, ", "), cfg.Slice)
	fmt.Fprintf(p.w, "Queue      : %s\n", cfg.OriginQueue)
	fmt.Fprintf(p.w, "Queues     : step %d up to %d\n", cfg.Ramp.QueueStep, cfg.Ramp.MaxQueues)
	fmt.Fprintf(p.w, "Payload    : step %d up to %d bytes\n", cfg.Ramp.PayloadStep, cfg.Ramp.MaxPayload)
	fmt.Fprintf(p.w, "Rounds     : %d, cooldown %s\n", p.total, cfg.Cooldown)
	fmt.Fprintln(p.w, rule)
	fmt.Fprintln(p.w)
}

func (p *printer) event(ev runner.Event) {
	switch ev.Kind {
	case runner.EventSample:
		if ev.Sample == nil {
			return
		}
		p.done++
		s := ev.Sample
		fmt.Fprintf(p.w, "%s %4d queues | %6d B | %6d ms | p99 %.2f ms\n",
			progressBar(p.done, p.total, 20), s.QueueCount, s.PayloadSize, s.ElapsedMillis, s.PopLatency.P99Ms)
	case runner.EventPaused:
		fmt.Fprintf(p.w, "⏸  paused before %d queues / %d B\n", ev.Round.QueueCount, ev.Round.PayloadSize)
	case runner.EventResumed:
		fmt.Fprintln(p.w, "▶  resumed")
	}
}

func progressBar(done, total, width int) string {
	if done > total {
		done = total
	}
	pct := 0.0
	if total > 0 {
		pct = float64(done) / float64(total)
	}
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return fmt.Sprintf("[%s%s] %3d/%-3d", strings.Repeat("█", filled), strings.Repeat("-", width-filled), done, total)
}

func printSummary(w io.Writer, samples []runner.Sample, total time.Duration, err error) {
	fmt.Fprintf(w, "\n📊 MAXPOP RESULTS\n")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Total Duration : %s\n", total.Round(time.Second))
	fmt.Fprintf(w, "Rounds         : %d\n", len(samples))

	if len(samples) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "QUEUES\tPAYLOAD B\tDRAIN ms\tPOPS/s\tP99 ms\tPUSH ERR\t")
		for _, s := range samples {
			fmt.Fprintf(tw, "%d\t%d\t%d\t%.1f\t%.2f\t%d\t\n",
				s.QueueCount, s.PayloadSize, s.ElapsedMillis, popsPerSecond(s), s.PopLatency.P99Ms, s.PushErrors)
		}
		tw.Flush()
	}

	if err != nil {
		fmt.Fprintf(w, "\n❌ ABORTED: %v\n", err)
	} else {
		fmt.Fprintf(w, "\n✅ All rounds completed without errors\n")
	}
	fmt.Fprintln(w, rule)
}

func popsPerSecond(s runner.Sample) float64 {
	if s.ElapsedMillis <= 0 {
		return float64(s.QueueCount) * 1000
	}
	return float64(s.QueueCount) * 1000 / float64(s.ElapsedMillis)
}
