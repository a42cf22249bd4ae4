package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/bgctl/pkg/deploy"
	"github.com/cuemby/bgctl/pkg/events"
	"github.com/cuemby/bgctl/pkg/types"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func samplePrompt() deploy.Prompt {
	return deploy.Prompt{
		Target:   types.Green,
		Previous: types.Blue,
		Health:   types.HealthOutcome{Healthy: true, Iterations: 3, Elapsed: 12 * time.Second},
		Smoke: types.SmokeOutcome{Passed: true, Results: []types.CheckResult{
			{Name: "api", Passed: true},
			{Name: "database", Passed: true},
		}},
	}
}

func TestPromptConfirmer(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    bool
		wantErr bool
	}{
		{name: "yes", input: "y\n", want: true},
		{name: "full yes", input: " YES \n", want: true},
		{name: "no", input: "n\n"},
		{name: "empty means no", input: "\n"},
		{name: "answer without newline", input: "yes", want: true},
		{name: "closed stdin", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			c := newPromptConfirmer(strings.NewReader(tt.input), &out)

			ok, err := c.Confirm(context.Background(), samplePrompt())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, ok)
			assert.Contains(t, out.String(), "Switch production traffic from blue to green? [y/N]")
			assert.Contains(t, out.String(), "2/2 checks passed")
		})
	}
}

func TestPromptConfirmerCancelled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	var out bytes.Buffer
	c := newPromptConfirmer(r, &out)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	ok, err := c.Confirm(ctx, samplePrompt())
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
}

// lockedBuffer is shared by the printer goroutine and the prompt
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestPromptWaitsForProgressOutput(t *testing.T) {
	var out lockedBuffer
	broker := events.NewBroker()
	broker.Start()
	printer := newEventPrinter(&out, broker)
	sub := broker.Subscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printer.run(sub)
	}()

	for i := 1; i <= 20; i++ {
		broker.Publish(&events.Event{Type: events.EventSmokeCheck, Message: fmt.Sprintf("check-%02d passed", i), Metadata: map[string]string{"result": "passed"}})
	}

	c := newPromptConfirmer(strings.NewReader("y\n"), &out)
	c.flush = printer.Flush
	ok, err := c.Confirm(context.Background(), samplePrompt())
	require.NoError(t, err)
	assert.True(t, ok)

	broker.Stop()
	<-printed

	s := out.String()
	last := strings.Index(s, "check-20 passed")
	prompt := strings.Index(s, "Switch production traffic")
	require.NotEqual(t, -1, last)
	require.NotEqual(t, -1, prompt)
	assert.Less(t, last, prompt, "progress lines precede the prompt")
}

func TestEventPrinterFlushWithoutBroker(t *testing.T) {
	start := time.Now()
	newEventPrinter(io.Discard, nil).Flush(context.Background())
	assert.Less(t, time.Since(start), flushTimeout)
}
