package txn

import (
	"tiny_mvcc/pkg/codec"
	"tiny_mvcc/pkg/core"
	"tiny_mvcc/pkg/store"
)

type txnBase struct {
	id         core.TransactionId
	version    core.CommitVersion
	engine     *Engine
	registered bool
	discarded  bool
}

func (t *txnBase) Id() core.TransactionId { return t.id }

// Version is the snapshot the transaction reads at.
func (t *txnBase) Version() core.CommitVersion { return t.version }

func (t *txnBase) discard() {
	if t.discarded { // Avoid a re-Run.
		return
	}
	t.discarded = true
	if t.registered {
		t.engine.oracle.DoneRead(t.version)
	}
}

func (t *txnBase) get(key []byte) ([]byte, bool, error) {
	entry, ok, err := t.engine.storage.Get(key, t.version)
	if err != nil || !ok || entry.IsTombstone() {
		return nil, false, err
	}
	return entry.Value, true, nil
}

func (t *txnBase) iterator(r codec.KeyRange, reverse bool, batchSize int) *store.Iterator {
	if batchSize <= 0 {
		batchSize = t.engine.cfg.BatchSize
	}
	return store.NewIterator(t.engine.storage, r, t.version, store.RangeOptions{Reverse: reverse, BatchSize: batchSize})
}

// QueryTxn is a read-only snapshot.
type QueryTxn struct {
	txnBase
}

func (q *QueryTxn) Get(key []byte) ([]byte, bool, error) {
	if q.discarded {
		return nil, false, core.TxnDiscardedErr
	}
	return q.get(key)
}

func (q *QueryTxn) Contains(key []byte) (bool, error) {
	_, ok, err := q.Get(key)
	return ok, err
}

// Range iterates r in key order, fetching batchSize entries per storage call
// (the engine default when batchSize <= 0).
func (q *QueryTxn) Range(r codec.KeyRange, batchSize int) *Iterator {
	return q.rangeOf(r, false, batchSize)
}

func (q *QueryTxn) RangeRev(r codec.KeyRange, batchSize int) *Iterator {
	return q.rangeOf(r, true, batchSize)
}

func (q *QueryTxn) Prefix(prefix []byte) *Iterator {
	return q.Range(codec.Prefix(prefix), 0)
}

func (q *QueryTxn) Scan() *Iterator {
	return q.Range(codec.All(), 0)
}

func (q *QueryTxn) rangeOf(r codec.KeyRange, reverse bool, batchSize int) *Iterator {
	if q.discarded {
		return failedIterator(core.TxnDiscardedErr)
	}
	return newIterator(q.iterator(r, reverse, batchSize), nil, reverse)
}

// Done releases the snapshot. Safe to call more than once.
func (q *QueryTxn) Done() {
	q.discard()
}
