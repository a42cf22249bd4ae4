package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cuemby/bgctl/pkg/deploy"
	"github.com/cuemby/bgctl/pkg/events"
	"github.com/cuemby/bgctl/pkg/types"
	"github.com/fatih/color"
	"github.com/google/uuid"
)

// flushTimeout bounds Flush when the barrier event was dropped by a full
// subscriber buffer
const flushTimeout = 2 * time.Second

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	warnColor = color.New(color.FgYellow)
	dimColor  = color.New(color.Faint)
)

// eventPrinter writes progress lines for every event of an operation. The
// confirmation prompt shares its output, so Flush lets the prompt wait until
// everything published before it is on screen.
type eventPrinter struct {
	out    io.Writer
	broker *events.Broker

	mu      sync.Mutex
	waiters map[string]chan struct{}
}

func newEventPrinter(out io.Writer, broker *events.Broker) *eventPrinter {
	return &eventPrinter{
		out:     out,
		broker:  broker,
		waiters: make(map[string]chan struct{}),
	}
}

// run prints events until sub is closed
func (p *eventPrinter) run(sub events.Subscriber) {
	for ev := range sub {
		if ev.Type == events.EventBarrier {
			p.release(ev.ID)
			continue
		}
		printEvent(p.out, ev)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.waiters {
		close(ch)
		delete(p.waiters, id)
	}
}

// Flush returns once every event published before the call has been printed
func (p *eventPrinter) Flush(ctx context.Context) {
	if p.broker == nil {
		return
	}
	id := uuid.New().String()
	ch := make(chan struct{})
	p.mu.Lock()
	p.waiters[id] = ch
	p.mu.Unlock()
	defer p.release(id)

	p.broker.Publish(&events.Event{ID: id, Type: events.EventBarrier})

	timer := time.NewTimer(flushTimeout)
	defer timer.Stop()
	select {
	case <-ch:
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (p *eventPrinter) release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.waiters[id]; ok {
		close(ch)
		delete(p.waiters, id)
	}
}

func printEvent(out io.Writer, ev *events.Event) {
	ts := ev.Timestamp.Format("15:04:05")
	switch ev.Type {
	case events.EventStateChanged:
		dimColor.Fprintf(out, "%s state  %s\n", ts, ev.Message)
	case events.EventStepStarted:
		fmt.Fprintf(out, "%s →      %s\n", ts, ev.Message)
	case events.EventStepSucceeded:
		okColor.Fprintf(out, "%s ✓      %s\n", ts, ev.Message)
	case events.EventStepFailed:
		failColor.Fprintf(out, "%s ✗      %s\n", ts, ev.Message)
	case events.EventHealthIteration:
		dimColor.Fprintf(out, "%s health %s\n", ts, ev.Message)
	case events.EventSmokeCheck:
		c := okColor
		if ev.Metadata["result"] != "passed" {
			c = failColor
		}
		c.Fprintf(out, "%s smoke  %s\n", ts, ev.Message)
	case events.EventSwitchStage:
		c := dimColor
		if ev.Metadata["result"] != "ok" {
			c = failColor
		}
		c.Fprintf(out, "%s switch %s\n", ts, ev.Message)
	case events.EventOperationFinished:
		// The final report covers it
	}
}

// printReport writes the operator-facing summary of an attempt
func printReport(out io.Writer, a *types.DeploymentAttempt) {
	fmt.Fprintln(out)
	if a.Outcome == types.OutcomeSucceeded {
		okColor.Fprintf(out, "✓ %s succeeded: traffic is on %s (%s)\n", a.Operation, a.Target, a.Duration().Round(time.Millisecond))
		return
	}

	step := "setup"
	var stepErr *deploy.StepError
	if errors.As(a.Err, &stepErr) {
		step = string(stepErr.Step)
	}
	failColor.Fprintf(out, "✗ %s failed at %s (%s)\n", a.Operation, step, a.Outcome)
	fmt.Fprintf(out, "  reason: %v\n", a.Err)
	if hint := deploy.Remediation(a); hint != "" {
		warnColor.Fprintf(out, "  %s\n", hint)
	}
}
