package txn

import (
	"context"
	"time"

	"tiny_mvcc/pkg/cdc"
	"tiny_mvcc/pkg/codec"
	"tiny_mvcc/pkg/core"
)

// CommandTxn buffers writes on top of a snapshot and commits them atomically.
type CommandTxn struct {
	txnBase
	pending   PendingWrites
	conflicts *ConflictTracker
}

func (c *CommandTxn) Get(key []byte) ([]byte, bool, error) {
	if c.discarded {
		return nil, false, core.TxnDiscardedErr
	}
	if delta, ok := c.pending.Get(key); ok {
		if delta.IsRemove() {
			return nil, false, nil
		}
		return pendingEntry(delta).Value, true, nil
	}
	c.conflicts.MarkRead(key)
	return c.get(key)
}

func (c *CommandTxn) Contains(key []byte) (bool, error) {
	_, ok, err := c.Get(key)
	return ok, err
}

func (c *CommandTxn) Range(r codec.KeyRange, batchSize int) *Iterator {
	return c.rangeOf(r, false, batchSize)
}

func (c *CommandTxn) RangeRev(r codec.KeyRange, batchSize int) *Iterator {
	return c.rangeOf(r, true, batchSize)
}

func (c *CommandTxn) Prefix(prefix []byte) *Iterator {
	return c.Range(codec.Prefix(prefix), 0)
}

func (c *CommandTxn) Scan() *Iterator {
	return c.Range(codec.All(), 0)
}

func (c *CommandTxn) rangeOf(r codec.KeyRange, reverse bool, batchSize int) *Iterator {
	if c.discarded {
		return failedIterator(core.TxnDiscardedErr)
	}
	c.conflicts.MarkRange(r)
	return newIterator(c.iterator(r, reverse, batchSize), c.pending.Entries(r, reverse), reverse)
}

// Set writes value whether or not key exists.
func (c *CommandTxn) Set(key, value []byte) error {
	return c.put(core.Upsert(key, value))
}

// Insert fails with KeyExistsErr when key is live in this transaction's view.
func (c *CommandTxn) Insert(key, value []byte) error {
	if err := c.writable(key); err != nil {
		return err
	}
	ok, err := c.Contains(key)
	if err != nil {
		return err
	}
	if ok {
		return core.KeyExistsErr
	}
	return c.put(core.Insert(key, value))
}

// Update fails with KeyNotFoundErr when key is not live in this transaction's view.
func (c *CommandTxn) Update(key, value []byte) error {
	if err := c.writable(key); err != nil {
		return err
	}
	ok, err := c.Contains(key)
	if err != nil {
		return err
	}
	if !ok {
		return core.KeyNotFoundErr
	}
	return c.put(core.Update(key, value))
}

// Remove writes a tombstone, also for keys that do not exist.
func (c *CommandTxn) Remove(key []byte) error {
	return c.put(core.Remove(key))
}

func (c *CommandTxn) writable(key []byte) error {
	switch {
	case c.discarded:
		return core.TxnDiscardedErr
	case len(key) == 0:
		return core.EmptyKeyErr
	}
	return nil
}

func (c *CommandTxn) put(delta core.Delta) error {
	if err := c.writable(delta.Key); err != nil {
		return err
	}
	limits := c.engine.cfg.Limits
	entries, size := c.pending.Grow(delta)
	if entries > cdc.MaxChanges ||
		(limits.MaxEntries > 0 && entries > limits.MaxEntries) || (limits.MaxBytes > 0 && size > limits.MaxBytes) {
		return core.TxnTooLargeErr
	}

	delta.Key = append([]byte(nil), delta.Key...)
	if !delta.IsRemove() {
		delta.Value = append([]byte{}, delta.Value...)
	}
	c.pending.Put(delta)
	c.conflicts.MarkWrite(delta.Key)
	return nil
}

// PendingCount is the number of keys written so far.
func (c *CommandTxn) PendingCount() int { return c.pending.Len() }

// Commit validates and persists the pending writes and returns their commit
// version. A transaction without writes commits as a no-op at its read version.
func (c *CommandTxn) Commit(ctx context.Context) (core.CommitVersion, error) {
	if c.discarded {
		return 0, core.TxnDiscardedErr
	}
	if c.pending.IsEmpty() {
		c.discard()
		return c.version, nil
	}

	engine := c.engine
	deltas := c.pending.Deltas()
	start := time.Now()

	version, err := engine.oracle.NewCommit(c.version, c.conflicts)
	if err != nil {
		c.discard()
		engine.cfg.Metrics.RecordConflict()
		engine.logger.LogCommit(ctx, c.id.String(), 0, len(deltas), time.Since(start), err, true)
		return 0, err
	}
	// NewCommit released the read mark
	c.discarded = true

	err = engine.storage.Commit(ctx, version, deltas, engine.cfg.Clock.Now())
	if err != nil {
		engine.oracle.DiscardCommit(version)
	}
	engine.oracle.DoneCommit(version)

	took := time.Since(start)
	engine.cfg.Metrics.RecordCommit(len(deltas), took, err)
	engine.logger.LogCommit(ctx, c.id.String(), uint64(version), len(deltas), took, err, false)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// Rollback discards the pending writes. Safe to call after Commit.
func (c *CommandTxn) Rollback() {
	c.discard()
}
