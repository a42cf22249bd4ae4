// Package runtimetest provides an in-memory runtime.Controller for tests.
package runtimetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cuemby/bgctl/pkg/runtime"
	"github.com/cuemby/bgctl/pkg/types"
)

// ExecFunc answers an Exec call
type ExecFunc func(env types.Environment, service string, command []string) (*runtime.ExecResult, error)

// Controller records calls and tracks per-environment running state
type Controller struct {
	mu      sync.Mutex
	running map[types.Environment]bool
	calls   []string

	BuildErr  map[types.Environment]error
	StartErr  map[types.Environment]error
	StatusErr map[types.Environment]error
	ExecFn    ExecFunc
}

// NewController creates a fake with the given environments already running
func NewController(running ...types.Environment) *Controller {
	c := &Controller{
		running:   make(map[types.Environment]bool),
		BuildErr:  make(map[types.Environment]error),
		StartErr:  make(map[types.Environment]error),
		StatusErr: make(map[types.Environment]error),
	}
	for _, env := range running {
		c.running[env] = true
	}
	return c
}

func (c *Controller) record(op string, env types.Environment) {
	c.calls = append(c.calls, fmt.Sprintf("%s %s", op, env))
}

func (c *Controller) Build(ctx context.Context, env types.Environment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("build", env)
	return c.BuildErr[env]
}

func (c *Controller) Start(ctx context.Context, env types.Environment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("start", env)
	if err := c.StartErr[env]; err != nil {
		return err
	}
	c.running[env] = true
	return nil
}

func (c *Controller) Stop(ctx context.Context, env types.Environment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("stop", env)
	c.running[env] = false
	return nil
}

func (c *Controller) IsRunning(ctx context.Context, env types.Environment) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.StatusErr[env]; err != nil {
		return false, err
	}
	return c.running[env], nil
}

func (c *Controller) Exec(ctx context.Context, env types.Environment, service string, command []string) (*runtime.ExecResult, error) {
	c.mu.Lock()
	c.record("exec "+service+" "+strings.Join(command, " "), env)
	fn := c.ExecFn
	c.mu.Unlock()

	if fn == nil {
		return &runtime.ExecResult{}, nil
	}
	return fn(env, service, command)
}

func (c *Controller) Project(env types.Environment) string {
	return "test-" + string(env)
}

// Running reports the fake's view of env
func (c *Controller) Running(env types.Environment) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running[env]
}

// Calls returns the recorded operations in order, e.g. "start green"
func (c *Controller) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

var _ runtime.Controller = (*Controller)(nil)
