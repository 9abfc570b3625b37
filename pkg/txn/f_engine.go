package txn

import (
	"tiny_mvcc/pkg/core"
	"tiny_mvcc/pkg/logger"
	"tiny_mvcc/pkg/metrics"
	"tiny_mvcc/pkg/store"
)

// Limits bounds the pending writes of a command transaction. Zero means unlimited.
type Limits struct {
	MaxEntries int
	MaxBytes   int
}

type EngineConfig struct {
	Limits    Limits
	BatchSize int
	Logger    *logger.Logger
	Metrics   metrics.Collector
	// Clock stamps Cdc records. Defaults to a WallClock.
	Clock Clock
}

// Engine binds an oracle to the storage transactions read from and commit to.
type Engine struct {
	oracle  *Oracle
	storage store.MultiVersion
	cfg     EngineConfig
	logger  *logger.Logger
}

func NewEngine(oracle *Oracle, storage store.MultiVersion, cfg EngineConfig) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = store.DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Noop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop{}
	}
	if cfg.Clock == nil {
		cfg.Clock = &WallClock{}
	}
	return &Engine{
		oracle:  oracle,
		storage: storage,
		cfg:     cfg,
		logger:  cfg.Logger.WithComponent("txn"),
	}
}

func (e *Engine) Oracle() *Oracle { return e.oracle }

func (e *Engine) BeginQuery() *QueryTxn {
	id, version := e.oracle.Begin()
	return &QueryTxn{txnBase: txnBase{id: id, version: version, engine: e, registered: true}}
}

// BeginQueryAt reads at a past version. The reader is not registered with the
// oracle, so versions below the retention bound may already be compacted.
func (e *Engine) BeginQueryAt(version core.CommitVersion) *QueryTxn {
	return &QueryTxn{txnBase: txnBase{id: core.NewTransactionId(), version: version, engine: e}}
}

func (e *Engine) BeginCommand() *CommandTxn {
	id, version := e.oracle.Begin()
	return &CommandTxn{
		txnBase:   txnBase{id: id, version: version, engine: e, registered: true},
		conflicts: NewConflictTracker(),
	}
}
