package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/bgctl/pkg/types"
)

// MemoryRegistry is an in-process Registry used in tests and dry runs.
// WriteErr and ReadErr inject failures.
type MemoryRegistry struct {
	mu     sync.Mutex
	record *Record
	writes int

	ReadErr  error
	WriteErr error
}

// NewMemoryRegistry creates a registry with an optional initial active environment.
// An empty env leaves the pointer unset so the first read records the default.
func NewMemoryRegistry(env types.Environment) *MemoryRegistry {
	r := &MemoryRegistry{}
	if env != "" {
		r.record = &Record{Active: env, UpdatedAt: time.Now().UTC()}
	}
	return r
}

func (r *MemoryRegistry) Active(ctx context.Context) (types.Environment, error) {
	return active(ctx, r)
}

func (r *MemoryRegistry) Standby(ctx context.Context) (types.Environment, error) {
	return standby(ctx, r)
}

func (r *MemoryRegistry) SetActive(ctx context.Context, env types.Environment) error {
	return setActive(ctx, r, env)
}

func (r *MemoryRegistry) Exclusive(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: waiting for lock: %v", ErrRegistryUnavailable, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(memoryTx{r})
}

// Writes returns how many pointer writes actually changed the record
func (r *MemoryRegistry) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// Peek returns the current active value without defaulting or locking semantics
func (r *MemoryRegistry) Peek() types.Environment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.record == nil {
		return ""
	}
	return r.record.Active
}

type memoryTx struct {
	r *MemoryRegistry
}

func (t memoryTx) Active() (types.Environment, error) {
	rec, err := t.Record()
	return rec.Active, err
}

func (t memoryTx) Record() (Record, error) {
	if t.r.ReadErr != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrRegistryUnavailable, t.r.ReadErr)
	}
	if t.r.record == nil {
		t.r.record = &Record{Active: types.DefaultActive, UpdatedAt: time.Now().UTC()}
	}
	if !t.r.record.Active.Valid() {
		return Record{}, fmt.Errorf("%w: corrupt pointer record: invalid environment %q", ErrRegistryUnavailable, t.r.record.Active)
	}
	return *t.r.record, nil
}

func (t memoryTx) SetActive(env types.Environment) error {
	if !env.Valid() {
		return fmt.Errorf("invalid environment %q", env)
	}
	if t.r.WriteErr != nil {
		return fmt.Errorf("%w: failed to write pointer: %v", ErrRegistryUnavailable, t.r.WriteErr)
	}
	if t.r.record != nil && t.r.record.Active == env {
		return nil
	}
	t.r.record = &Record{Active: env, UpdatedAt: time.Now().UTC()}
	t.r.writes++
	return nil
}
