package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cuemby/bgctl/pkg/deploy"
	"github.com/fatih/color"
)

// promptConfirmer asks the operator on a terminal before traffic moves
type promptConfirmer struct {
	in  *bufio.Reader
	out io.Writer

	// flush, when set, waits for pending progress output before prompting
	flush func(ctx context.Context)
}

func newPromptConfirmer(in io.Reader, out io.Writer) *promptConfirmer {
	return &promptConfirmer{in: bufio.NewReader(in), out: out}
}

func (c *promptConfirmer) Confirm(ctx context.Context, p deploy.Prompt) (bool, error) {
	if c.flush != nil {
		c.flush(ctx)
	}
	bold := color.New(color.Bold)
	fmt.Fprintln(c.out)
	bold.Fprintf(c.out, "%s passed all gates.\n", p.Target)
	fmt.Fprintf(c.out, "  health: healthy after %d iteration(s), %s\n", p.Health.Iterations, p.Health.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(c.out, "  smoke:  %d/%d checks passed\n", len(p.Smoke.Results)-len(p.Smoke.FailedChecks()), len(p.Smoke.Results))
	fmt.Fprintf(c.out, "Switch production traffic from %s to %s? [y/N]: ", p.Previous, p.Target)

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := c.in.ReadString('\n')
		ch <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(c.out)
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && !(errors.Is(a.err, io.EOF) && a.line != "") {
			if errors.Is(a.err, io.EOF) {
				fmt.Fprintln(c.out)
				return false, errors.New("no answer: standard input closed (use --yes for non-interactive deploys)")
			}
			return false, fmt.Errorf("failed to read answer: %w", a.err)
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

var _ deploy.Confirmer = (*promptConfirmer)(nil)
