// Package gc removes history that no reader or CDC consumer can still observe.
package gc

import (
	"context"
	"errors"
	"sync"
	"time"

	"tiny_mvcc/pkg/core"
	"tiny_mvcc/pkg/logger"
	"tiny_mvcc/pkg/metrics"
)

var (
	SweeperAlreadyRunningErr = errors.New("retention sweeper is already running")
	SweeperNotRunningErr     = errors.New("retention sweeper is not running")
)

const DefaultInterval = 30 * time.Second

type Config struct {
	// Interval is the time between background sweeps.
	Interval time.Duration
}

func DefaultConfig() Config {
	return Config{Interval: DefaultInterval}
}

// Storage is the part of a backend a sweep prunes.
type Storage interface {
	Compact(ctx context.Context, below core.CommitVersion) (int, error)
	CdcDropBefore(ctx context.Context, version core.CommitVersion) (int, error)
}

// Watermark is the CDC consumer watermark.
type Watermark interface {
	ComputeWatermark() (core.CommitVersion, error)
}

// Readers reports the read version every open transaction is at or above,
// minus one.
type Readers interface {
	ReadDoneUntil() core.CommitVersion
}

type Result struct {
	Bound           core.CommitVersion
	VersionsRemoved int
	CdcRemoved      int
}

// Sweeper compacts version chains and drops Cdc records below
// min(CDC watermark, oldest open read version).
type Sweeper struct {
	storage   Storage
	watermark Watermark
	readers   Readers
	config    Config
	logger    *logger.Logger
	metrics   metrics.Collector

	sweepMu sync.Mutex

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSweeper(storage Storage, watermark Watermark, readers Readers, config Config, log *logger.Logger, collector metrics.Collector) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if log == nil {
		log = logger.Noop()
	}
	if collector == nil {
		collector = metrics.Noop{}
	}
	return &Sweeper{
		storage:   storage,
		watermark: watermark,
		readers:   readers,
		config:    config,
		logger:    log.WithComponent("gc"),
		metrics:   collector,
	}
}

// Bound is the lowest version a sweep must keep readable.
func (s *Sweeper) Bound() (core.CommitVersion, error) {
	bound, err := s.watermark.ComputeWatermark()
	if err != nil {
		return 0, err
	}
	if readBound := s.readers.ReadDoneUntil() + 1; readBound < bound {
		bound = readBound
	}
	return bound, nil
}

// Sweep runs one retention pass. Sweeps never overlap.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	start := time.Now()
	bound, err := s.Bound()
	if err != nil {
		s.logger.LogSweep(ctx, 0, 0, 0, err)
		return Result{}, err
	}

	result := Result{Bound: bound}
	if bound <= core.InitialVersion {
		return result, nil
	}
	if result.VersionsRemoved, err = s.storage.Compact(ctx, bound); err == nil {
		result.CdcRemoved, err = s.storage.CdcDropBefore(ctx, bound)
	}

	s.logger.LogSweep(ctx, uint64(bound), result.VersionsRemoved, result.CdcRemoved, err)
	if err != nil {
		return result, err
	}
	s.metrics.RecordSweep(uint64(bound), result.VersionsRemoved, result.CdcRemoved, time.Since(start))
	return result, nil
}

func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return SweeperAlreadyRunningErr
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.runBackground(s.stopCh, s.doneCh)
	return nil
}

// Stop waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return SweeperNotRunningErr
	}
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
	return nil
}

func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sweeper) runBackground(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			// failures are logged by Sweep; the next tick retries
			_, _ = s.Sweep(ctx)
		}
	}
}
