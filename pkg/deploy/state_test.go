package deploy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineTransitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []State
		wantErr bool
	}{
		{
			name: "deploy",
			path: []State{StateDeploying, StateValidating, StateAwaitingConfirmation, StateSwitching, StateIdle},
		},
		{
			name: "rollback",
			path: []State{StateRollingBack, StateSwitching, StateIdle},
		},
		{
			name: "switch traffic",
			path: []State{StateSwitching, StateIdle},
		},
		{
			name:    "skip validation",
			path:    []State{StateDeploying, StateSwitching},
			wantErr: true,
		},
		{
			name:    "skip confirmation",
			path:    []State{StateDeploying, StateValidating, StateSwitching},
			wantErr: true,
		},
		{
			name:    "rollback never validates smoke",
			path:    []State{StateRollingBack, StateValidating},
			wantErr: true,
		},
		{
			name:    "failed only through Fail",
			path:    []State{StateFailed},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine()
			var err error
			for _, s := range tt.path {
				if err = m.Transition(s); err != nil {
					break
				}
			}
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.path[len(tt.path)-1], m.State())
		})
	}
}

func TestMachineFail(t *testing.T) {
	m := NewMachine()
	var seen [][2]State
	m.OnTransition = func(from, to State, reason error) {
		seen = append(seen, [2]State{from, to})
	}

	require.NoError(t, m.Transition(StateDeploying))
	reason := errors.New("build failed")
	require.NoError(t, m.Fail(reason))
	assert.Equal(t, StateFailed, m.State())
	assert.Equal(t, reason, m.Reason())

	// Failed is terminal
	assert.ErrorIs(t, m.Fail(reason), ErrInvalidTransition)
	assert.ErrorIs(t, m.Transition(StateIdle), ErrInvalidTransition)

	assert.Equal(t, [][2]State{{StateIdle, StateDeploying}, {StateDeploying, StateFailed}}, seen)
}
