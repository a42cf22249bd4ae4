package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/bgctl/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketPointer = []byte("pointer")

	keyActive = []byte("active")
)

// DefaultLockTimeout bounds how long an operator waits for another holder of the registry lock
const DefaultLockTimeout = 10 * time.Second

// BoltRegistry implements Registry using a BoltDB file. The database is
// opened per operation; bbolt's exclusive file lock serializes writers
// across processes and the in-process semaphore serializes goroutines.
type BoltRegistry struct {
	path        string
	lockTimeout time.Duration
	sem         chan struct{}
}

// NewBoltRegistry creates a registry stored at path
func NewBoltRegistry(path string, lockTimeout time.Duration) *BoltRegistry {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &BoltRegistry{
		path:        path,
		lockTimeout: lockTimeout,
		sem:         make(chan struct{}, 1),
	}
}

// Path returns the database file location
func (r *BoltRegistry) Path() string {
	return r.path
}

func (r *BoltRegistry) Active(ctx context.Context) (types.Environment, error) {
	return active(ctx, r)
}

func (r *BoltRegistry) Standby(ctx context.Context) (types.Environment, error) {
	return standby(ctx, r)
}

func (r *BoltRegistry) SetActive(ctx context.Context, env types.Environment) error {
	return setActive(ctx, r, env)
}

// Exclusive opens the database, holding its file lock for the duration of fn
func (r *BoltRegistry) Exclusive(ctx context.Context, fn func(tx Tx) error) error {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for lock: %v", ErrRegistryUnavailable, ctx.Err())
	}
	defer func() { <-r.sem }()

	db, err := r.open()
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(&boltTx{db: db})
}

func (r *BoltRegistry) open() (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return nil, fmt.Errorf("%w: failed to create registry directory: %v", ErrRegistryUnavailable, err)
	}

	db, err := bolt.Open(r.path, 0600, &bolt.Options{Timeout: r.lockTimeout})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", ErrRegistryUnavailable, r.path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketPointer); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketPointer, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}

	return db, nil
}

type boltTx struct {
	db *bolt.DB
}

func (t *boltTx) Active() (types.Environment, error) {
	rec, err := t.Record()
	if err != nil {
		return "", err
	}
	return rec.Active, nil
}

func (t *boltTx) Record() (Record, error) {
	var rec Record
	err := t.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPointer)
		data := b.Get(keyActive)
		if data == nil {
			// First use: record the default so every later read agrees
			rec = Record{Active: types.DefaultActive, UpdatedAt: time.Now().UTC()}
			return putRecord(b, rec)
		}
		var err error
		rec, err = decodeRecord(data)
		return err
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (t *boltTx) SetActive(env types.Environment) error {
	if !env.Valid() {
		return fmt.Errorf("invalid environment %q", env)
	}

	return t.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPointer)
		if data := b.Get(keyActive); data != nil {
			current, err := decodeRecord(data)
			if err == nil && current.Active == env {
				return nil
			}
		}
		if err := putRecord(b, Record{Active: env, UpdatedAt: time.Now().UTC()}); err != nil {
			return fmt.Errorf("%w: failed to write pointer: %v", ErrRegistryUnavailable, err)
		}
		return nil
	})
}

func putRecord(b *bolt.Bucket, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.Put(keyActive, data)
}

func decodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: corrupt pointer record: %v", ErrRegistryUnavailable, err)
	}
	if !rec.Active.Valid() {
		return Record{}, fmt.Errorf("%w: corrupt pointer record: invalid environment %q", ErrRegistryUnavailable, rec.Active)
	}
	return rec, nil
}

// Import writes a record directly, bypassing the no-op check. Used when
// migrating a legacy pointer. When backupPath is set, a consistent copy of
// the database is written there first, under the same lock as the write.
func (r *BoltRegistry) Import(ctx context.Context, env types.Environment, backupPath string) error {
	if !env.Valid() {
		return fmt.Errorf("invalid environment %q", env)
	}
	return r.Exclusive(ctx, func(tx Tx) error {
		bt := tx.(*boltTx)
		if backupPath != "" {
			err := bt.db.View(func(btx *bolt.Tx) error {
				return btx.CopyFile(backupPath, 0600)
			})
			if err != nil {
				return fmt.Errorf("failed to back up registry: %w", err)
			}
		}
		return bt.db.Update(func(btx *bolt.Tx) error {
			return putRecord(btx.Bucket(bucketPointer), Record{Active: env, UpdatedAt: time.Now().UTC()})
		})
	})
}
