package main

import (
	"errors"

	"github.com/cuemby/bgctl/pkg/types"
)

// exitError carries a process exit code out of a command. reported is set
// when the command already printed the failure.
type exitError struct {
	code     int
	err      error
	reported bool
}

func (e *exitError) Error() string {
	if e.err == nil {
		return "exit status"
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// exitCode maps the outcome of an operation to the command's exit code
//
//	deploy:          0 switched, 1 gate/declined/switch/cancel, 2 build or registry, 3 partial
//	rollback:        0 switched, 1 any failure, 3 partial
//	switch-traffic:  0 switched, 1 switch or registry failure, 2 partial
//	status:          always 0
func exitCode(op types.Operation, outcome types.Outcome) int {
	if outcome == types.OutcomeSucceeded || op == types.OperationStatus {
		return 0
	}

	switch op {
	case types.OperationDeploy:
		switch outcome {
		case types.OutcomeBuildFailed, types.OutcomeRegistryFailed:
			return 2
		case types.OutcomePartialSwitch:
			return 3
		}
	case types.OperationRollback:
		if outcome == types.OutcomePartialSwitch {
			return 3
		}
	case types.OperationSwitchTraffic:
		if outcome == types.OutcomePartialSwitch {
			return 2
		}
	}
	return 1
}

// errorExit converts an error raised before an operation ran
func errorExit(op types.Operation, err error) error {
	code := 1
	var cfgErr *configError
	switch {
	case op == types.OperationStatus:
		code = 0
	case errors.As(err, &cfgErr) && op == types.OperationDeploy:
		code = 2
	}
	return &exitError{code: code, err: err}
}
