package db

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"tiny_mvcc/pkg/cdc"
	"tiny_mvcc/pkg/core"
	"tiny_mvcc/pkg/gc"
	"tiny_mvcc/pkg/logger"
	"tiny_mvcc/pkg/store"
	"tiny_mvcc/pkg/txn"
)

var UnknownBackendErr = errors.New("unknown storage backend")
var VersionNotCommittedErr = errors.New("version is not committed yet")

type Db struct {
	stopped     atomic.Bool
	opts        Options
	backend     store.Backend
	oracle      *txn.Oracle
	engine      *txn.Engine
	checkpoints *cdc.Checkpoints
	sweeper     *gc.Sweeper
	logger      *logger.Logger
}

func Open(ctx context.Context, opts ...Option) (*Db, error) {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	backend, err := openBackend(ctx, options)
	if err != nil {
		return nil, err
	}
	last, err := backend.LastVersion()
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	oracle := txn.NewOracle(last)
	checkpoints := cdc.NewCheckpoints(backend.Single())
	db := &Db{
		opts:    options,
		backend: backend,
		oracle:  oracle,
		engine: txn.NewEngine(oracle, backend, txn.EngineConfig{
			Limits:    options.Limits,
			BatchSize: options.BatchSize,
			Logger:    options.Logger,
			Metrics:   options.Metrics,
			Clock:     options.Clock,
		}),
		checkpoints: checkpoints,
		sweeper: gc.NewSweeper(backend, checkpoints, oracle, gc.Config{Interval: options.RetentionInterval},
			options.Logger, options.Metrics),
		logger: options.Logger.WithComponent("db"),
	}

	if options.RetentionInterval > 0 && !options.ReadOnly {
		if err := db.sweeper.Start(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	db.logger.InfoContext(ctx, "database opened",
		"backend", backend.Kind(),
		"last_version", last,
	)
	return db, nil
}

func openBackend(ctx context.Context, options Options) (store.Backend, error) {
	switch options.Backend {
	case store.KindMemory:
		return store.NewMemory(store.MemoryConfig{QueueSize: options.QueueSize, Logger: options.Logger}), nil
	case store.KindSqlite:
		return store.OpenSqlite(ctx, store.DefaultSqliteConfig(options.Path),
			store.WithSqliteCompression(options.Compression),
			store.WithSqliteLogger(options.Logger),
			store.WithSqliteTablePrefix(options.TablePrefix),
		)
	case store.KindMmap:
		cfg := store.DefaultMmapConfig(options.Path)
		cfg.SyncWrites = options.SyncWrites
		cfg.Compression = options.Compression
		cfg.Logger = options.Logger
		if options.MmapInitialSize > 0 {
			cfg.InitialSize = options.MmapInitialSize
		}
		return store.OpenMmap(ctx, cfg)
	}
	return nil, fmt.Errorf("%w: %q", UnknownBackendErr, options.Backend)
}

func (db *Db) BeginQuery() (*txn.QueryTxn, error) {
	if db.stopped.Load() {
		return nil, core.DbAlreadyStoppedErr
	}
	return db.engine.BeginQuery(), nil
}

// BeginQueryAt reads the database as of version. History below the retention
// bound may already be compacted away.
func (db *Db) BeginQueryAt(version core.CommitVersion) (*txn.QueryTxn, error) {
	if db.stopped.Load() {
		return nil, core.DbAlreadyStoppedErr
	}
	if version > db.oracle.LastAssigned() {
		return nil, fmt.Errorf("%w: %d", VersionNotCommittedErr, version)
	}
	if err := db.oracle.WaitForMark(context.Background(), version); err != nil {
		return nil, err
	}
	return db.engine.BeginQueryAt(version), nil
}

func (db *Db) BeginCommand() (*txn.CommandTxn, error) {
	if db.stopped.Load() {
		return nil, core.DbAlreadyStoppedErr
	}
	if db.opts.ReadOnly {
		return nil, core.ReadOnlyTxnErr
	}
	return db.engine.BeginCommand(), nil
}

func (db *Db) View(fn func(q *txn.QueryTxn) error) error {
	q, err := db.BeginQuery()
	if err != nil {
		return err
	}
	defer q.Done()

	return fn(q)
}

// Update runs fn in a command transaction and commits it unless fn fails.
func (db *Db) Update(ctx context.Context, fn func(c *txn.CommandTxn) error) (core.CommitVersion, error) {
	c, err := db.BeginCommand()
	if err != nil {
		return 0, err
	}
	defer c.Rollback() // releases the read mark when fn or the commit fails.

	if err := fn(c); err != nil {
		return 0, err
	}
	return c.Commit(ctx)
}

// DoneUntil is the highest version up to which every commit is durable and visible.
func (db *Db) DoneUntil() core.CommitVersion {
	return db.oracle.DoneUntil()
}

// WaitForMarkTimeout waits until version is done; false means it timed out.
func (db *Db) WaitForMarkTimeout(version core.CommitVersion, timeout time.Duration) bool {
	if db.oracle.WaitForMarkTimeout(version, timeout) {
		return true
	}
	db.opts.Metrics.RecordWaitTimeout()
	return false
}

func (db *Db) Single() *store.SingleVersion {
	return db.backend.Single()
}

func (db *Db) Backend() store.Kind {
	return db.backend.Kind()
}

// Sweep runs a retention pass now.
func (db *Db) Sweep(ctx context.Context) (gc.Result, error) {
	if db.stopped.Load() {
		return gc.Result{}, core.DbAlreadyStoppedErr
	}
	if db.opts.ReadOnly {
		return gc.Result{}, core.ReadOnlyTxnErr
	}
	return db.sweeper.Sweep(ctx)
}

func (db *Db) Close() error {
	if !db.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if db.sweeper.Running() {
		_ = db.sweeper.Stop()
	}
	db.oracle.Stop()
	err := db.backend.Close()
	db.logger.Info("database closed", "error", err)
	return err
}
