package db

import (
	"time"

	"tiny_mvcc/pkg/cdc"
	"tiny_mvcc/pkg/gc"
	"tiny_mvcc/pkg/logger"
	"tiny_mvcc/pkg/metrics"
	"tiny_mvcc/pkg/store"
	"tiny_mvcc/pkg/txn"
)

type Options struct {
	Backend store.Kind
	// Path is the database file of the sqlite and mmap backends.
	Path string

	BatchSize   int
	QueueSize   int
	Compression cdc.Compression
	Limits      txn.Limits

	// RetentionInterval is the period of background sweeps; 0 disables them.
	RetentionInterval time.Duration

	SyncWrites      bool
	MmapInitialSize int64
	TablePrefix     string

	// ReadOnly refuses command transactions and background sweeps.
	ReadOnly bool

	Logger  *logger.Logger
	Metrics metrics.Collector
	Clock   txn.Clock
}

type Option func(*Options)

func DefaultOptions() Options {
	return Options{
		Backend:           store.KindMemory,
		BatchSize:         store.DefaultBatchSize,
		QueueSize:         store.DefaultMemoryConfig().QueueSize,
		Compression:       cdc.CompressionLZ4,
		RetentionInterval: gc.DefaultInterval,
		SyncWrites:        true,
		Logger:            logger.Noop(),
		Metrics:           metrics.Noop{},
	}
}

func WithMemory() Option {
	return func(o *Options) {
		o.Backend = store.KindMemory
		o.Path = ""
	}
}

func WithSqlite(path string) Option {
	return func(o *Options) {
		o.Backend = store.KindSqlite
		o.Path = path
	}
}

func WithMmap(path string) Option {
	return func(o *Options) {
		o.Backend = store.KindMmap
		o.Path = path
	}
}

func WithBatchSize(n int) Option {
	return func(o *Options) { o.BatchSize = n }
}

func WithCompression(c cdc.Compression) Option {
	return func(o *Options) { o.Compression = c }
}

func WithLimits(limits txn.Limits) Option {
	return func(o *Options) { o.Limits = limits }
}

func WithRetentionInterval(d time.Duration) Option {
	return func(o *Options) { o.RetentionInterval = d }
}

func WithSyncWrites(sync bool) Option {
	return func(o *Options) { o.SyncWrites = sync }
}

func WithMmapInitialSize(size int64) Option {
	return func(o *Options) { o.MmapInitialSize = size }
}

func WithTablePrefix(prefix string) Option {
	return func(o *Options) { o.TablePrefix = prefix }
}

func WithReadOnly() Option {
	return func(o *Options) { o.ReadOnly = true }
}

func WithLogger(l *logger.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

func WithMetrics(c metrics.Collector) Option {
	return func(o *Options) {
		if c != nil {
			o.Metrics = c
		}
	}
}

func WithClock(c txn.Clock) Option {
	return func(o *Options) { o.Clock = c }
}
