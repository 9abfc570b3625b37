package db

import (
	"context"

	"golang.org/x/sync/errgroup"

	"tiny_mvcc/pkg/cdc"
	"tiny_mvcc/pkg/core"
	"tiny_mvcc/pkg/store"
)

var _ cdc.Source = (*Db)(nil)

// CdcRange iterates the Cdc records between start and end in version order.
func (db *Db) CdcRange(start, end cdc.Bound) *store.CdcIterator {
	return store.NewCdcIterator(db.backend, cdc.VersionRange{Start: start, End: end}, db.opts.BatchSize)
}

func (db *Db) CdcScan() *store.CdcIterator {
	return db.CdcRange(cdc.Unbounded(), cdc.Unbounded())
}

func (db *Db) CdcGet(version core.CommitVersion) (cdc.Cdc, bool, error) {
	return db.backend.CdcGet(version)
}

// CdcCount is the number of changes committed at version.
func (db *Db) CdcCount(version core.CommitVersion) (int, error) {
	return db.backend.CdcCount(version)
}

// ReadCdc returns up to limit records in [from, to], never past DoneUntil.
func (db *Db) ReadCdc(ctx context.Context, from, to core.CommitVersion, limit int) ([]cdc.Cdc, error) {
	if db.stopped.Load() {
		return nil, core.DbAlreadyStoppedErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	to = min(to, db.DoneUntil())
	records, _, err := db.backend.CdcScanBatch(cdc.VersionRange{Start: cdc.Included(from), End: cdc.Included(to)}, limit)
	return records, err
}

func (db *Db) Checkpoints() *cdc.Checkpoints {
	return db.checkpoints
}

// Watermark is the lowest checkpoint of all registered consumers.
func (db *Db) Watermark() (core.CommitVersion, error) {
	return db.checkpoints.ComputeWatermark()
}

// NewConsumer creates a polling consumer that reads this database.
func (db *Db) NewConsumer(cfg cdc.PollConsumerConfig, handler cdc.Handler) (*cdc.PollConsumer, error) {
	return cdc.NewPollConsumer(cfg, db, db.checkpoints, handler, db.opts.Logger, db.opts.Metrics)
}

// RunConsumers runs consumers until ctx is cancelled or one of them fails,
// in which case the others are cancelled too.
func (db *Db) RunConsumers(ctx context.Context, consumers ...*cdc.PollConsumer) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, consumer := range consumers {
		consumer := consumer
		g.Go(func() error {
			return consumer.Run(ctx)
		})
	}
	return g.Wait()
}
