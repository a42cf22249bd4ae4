/*
Package storage implements the environment registry, the single source of
truth for which environment is active.

# Architecture

The registry persists one record in a BoltDB file:

	┌──────────────── state.db ────────────────┐
	│  bucket "pointer"                         │
	│    key "active" → {"active":"blue",       │
	│                    "updated_at":"..."}    │
	└───────────────────────────────────────────┘

The database is opened for each call and closed afterwards. bbolt takes an
exclusive flock on open, so two operators running bgctl on the same host
serialize on the file; Options.Timeout bounds the wait and a timeout maps to
ErrRegistryUnavailable. Inside one process a semaphore serializes goroutines
because flock is per process.

# Reads, Writes and Exclusive

	registry := storage.NewBoltRegistry("/var/lib/bgctl/state.db", 10*time.Second)

	active, err := registry.Active(ctx)   // blue when no record exists yet
	err = registry.SetActive(ctx, types.Green)

	// Hold the lock across a multi-step change
	err = registry.Exclusive(ctx, func(tx storage.Tx) error {
		prev, err := tx.Active()
		if err != nil {
			return err
		}
		...
		return tx.SetActive(target)
	})

An absent record defaults to blue and the default is written back so every
later reader agrees. A record naming anything other than blue or green is
treated as corrupt and reported as ErrRegistryUnavailable instead of being
silently replaced. Writing the value that is already active is a no-op.

MemoryRegistry implements the same contract in memory, with ReadErr and
WriteErr to inject failures in tests.
*/
package storage
