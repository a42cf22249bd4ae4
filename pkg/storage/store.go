package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cuemby/bgctl/pkg/types"
)

// ErrRegistryUnavailable is returned when the active pointer cannot be read or
// written. Callers must never substitute a default for it.
var ErrRegistryUnavailable = errors.New("registry unavailable")

// Record is the persisted form of the active pointer
type Record struct {
	Active    types.Environment `json:"active"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Tx is an exclusively locked view of the active pointer
type Tx interface {
	// Active returns the active environment, recording the default if absent
	Active() (types.Environment, error)

	// Record returns the full persisted record
	Record() (Record, error)

	// SetActive records env as active. Writing the current value is a no-op.
	SetActive(env types.Environment) error
}

// Registry is the sole source of truth for which environment receives traffic
type Registry interface {
	Active(ctx context.Context) (types.Environment, error)
	Standby(ctx context.Context) (types.Environment, error)
	SetActive(ctx context.Context, env types.Environment) error

	// Exclusive runs fn while holding the registry lock so that a whole
	// traffic switch is serialized against concurrent operators.
	Exclusive(ctx context.Context, fn func(tx Tx) error) error
}

// active reads the pointer inside a short exclusive section
func active(ctx context.Context, r Registry) (types.Environment, error) {
	var env types.Environment
	err := r.Exclusive(ctx, func(tx Tx) error {
		var err error
		env, err = tx.Active()
		return err
	})
	return env, err
}

func standby(ctx context.Context, r Registry) (types.Environment, error) {
	env, err := active(ctx, r)
	if err != nil {
		return "", err
	}
	return env.Other(), nil
}

func setActive(ctx context.Context, r Registry, env types.Environment) error {
	return r.Exclusive(ctx, func(tx Tx) error {
		return tx.SetActive(env)
	})
}
