package ingress

import (
	"errors"
	"fmt"

	"github.com/cuemby/bgctl/pkg/types"
)

var (
	// ErrSwitchFailure means neither the proxy nor the registry changed
	ErrSwitchFailure = errors.New("traffic switch failed")

	// ErrPartialSwitch means the proxy configuration moved but the registry
	// does not reflect it yet
	ErrPartialSwitch = errors.New("partial traffic switch")
)

// Stage identifies a step of the traffic switch
type Stage string

const (
	StageRender Stage = "render"
	StageApply  Stage = "apply"
	StageTest   Stage = "test"
	StageReload Stage = "reload"
	StageRecord Stage = "record"
)

// Partial reports whether a failure at this stage leaves the proxy ahead of
// the registry. Render, apply and test failures restore the previous proxy
// configuration.
func (s Stage) Partial() bool {
	return s == StageReload || s == StageRecord
}

// SwitchError describes which stage of a switch failed
type SwitchError struct {
	Stage  Stage
	Target types.Environment
	Err    error
}

func (e *SwitchError) Error() string {
	kind := ErrSwitchFailure
	if e.Stage.Partial() {
		kind = ErrPartialSwitch
	}
	return fmt.Sprintf("%v to %s at %s: %v", kind, e.Target, e.Stage, e.Err)
}

func (e *SwitchError) Unwrap() error {
	return e.Err
}

// Is matches ErrSwitchFailure or ErrPartialSwitch depending on the stage
func (e *SwitchError) Is(target error) bool {
	switch target {
	case ErrPartialSwitch:
		return e.Stage.Partial()
	case ErrSwitchFailure:
		return !e.Stage.Partial()
	}
	return false
}
