package txn

import (
	"context"
	"sync"
	"time"

	"tiny_mvcc/pkg/core"
)

type committedTxn struct {
	version   core.CommitVersion
	conflicts *ConflictTracker
}

// Oracle hands out read and commit versions and validates commits against the
// transactions that committed after a reader's snapshot.
type Oracle struct {
	sync.Mutex
	nextVersion core.CommitVersion

	// readMark tracks the read versions of open transactions. Its DoneUntil
	// bounds which committed transactions can still cause a conflict.
	readMark *WaterMark
	// commitMark makes Begin wait until every earlier commit reached storage.
	commitMark *WaterMark

	committed []committedTxn
}

// NewOracle resumes after last, the highest version already stored.
func NewOracle(last core.CommitVersion) *Oracle {
	if last < core.InitialVersion {
		last = core.InitialVersion
	}
	oracle := &Oracle{
		nextVersion: last + 1,
		readMark:    NewWaterMark("read"),
		commitMark:  NewWaterMark("commit"),
	}

	oracle.readMark.Done(last)
	oracle.commitMark.Done(last)
	return oracle
}

func (o *Oracle) Stop() {
	o.readMark.Stop()
	o.commitMark.Stop()
}

// Begin registers a reader at the latest assigned version and waits for that
// version to be fully written.
func (o *Oracle) Begin() (core.TransactionId, core.CommitVersion) {
	o.Lock()
	read := o.nextVersion - 1
	o.readMark.Begin(read)
	o.Unlock()

	// an error here means the oracle is stopping; the db rejects work by then
	_ = o.commitMark.WaitForMark(context.Background(), read)
	return core.NewTransactionId(), read
}

// NewCommit validates the conflicts of a transaction that read at read and
// assigns its commit version. The read mark is released on success only.
func (o *Oracle) NewCommit(read core.CommitVersion, conflicts *ConflictTracker) (core.CommitVersion, error) {
	o.Lock()
	defer o.Unlock()

	if o.hasConflict(read, conflicts) {
		return 0, core.TxnConflictErr
	}

	o.DoneRead(read)
	o.gcCommitted()

	version := o.nextVersion
	o.nextVersion++

	o.committed = append(o.committed, committedTxn{version: version, conflicts: conflicts})
	o.commitMark.Begin(version)
	return version, nil
}

func (o *Oracle) DoneRead(read core.CommitVersion) {
	o.readMark.Done(read)
}

// DiscardCommit forgets the writes of version after its storage write failed,
// so they no longer conflict with other transactions.
func (o *Oracle) DiscardCommit(version core.CommitVersion) {
	o.Lock()
	defer o.Unlock()

	for i, c := range o.committed {
		if c.version == version {
			o.committed = append(o.committed[:i], o.committed[i+1:]...)
			return
		}
	}
}

// DoneCommit is called once the storage write of version finished, failed or not.
func (o *Oracle) DoneCommit(version core.CommitVersion) {
	o.commitMark.Done(version)
}

// LastAssigned is the highest commit version handed out so far.
func (o *Oracle) LastAssigned() core.CommitVersion {
	o.Lock()
	defer o.Unlock()
	return o.nextVersion - 1
}

// DoneUntil is the highest version up to which every commit reached storage.
func (o *Oracle) DoneUntil() core.CommitVersion {
	return o.commitMark.DoneUntil()
}

// ReadDoneUntil is the highest read version no open transaction still uses.
func (o *Oracle) ReadDoneUntil() core.CommitVersion {
	return o.readMark.DoneUntil()
}

func (o *Oracle) WaitForMark(ctx context.Context, version core.CommitVersion) error {
	return o.commitMark.WaitForMark(ctx, version)
}

func (o *Oracle) WaitForMarkTimeout(version core.CommitVersion, timeout time.Duration) bool {
	return o.commitMark.WaitForMarkTimeout(version, timeout)
}

func (o *Oracle) hasConflict(read core.CommitVersion, conflicts *ConflictTracker) bool {
	for _, c := range o.committed {
		if c.version <= read {
			continue
		}
		if conflicts.HasConflict(c.conflicts) {
			return true
		}
	}
	return false
}

// gcCommitted forgets commits that no open reader started before.
func (o *Oracle) gcCommitted() {
	kept := o.committed[:0]
	doneUntil := o.readMark.DoneUntil()

	for _, c := range o.committed {
		if c.version <= doneUntil {
			continue
		}
		kept = append(kept, c)
	}
	clear(o.committed[len(kept):])
	o.committed = kept
}
