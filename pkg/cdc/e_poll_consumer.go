package cdc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"tiny_mvcc/pkg/core"
	"tiny_mvcc/pkg/logger"
	"tiny_mvcc/pkg/metrics"
)

var ConsumerHandlerErr = errors.New("consumer handler failed")

// Source is what a consumer reads from: the completed-commit watermark and
// the records below it.
type Source interface {
	DoneUntil() core.CommitVersion
	ReadCdc(ctx context.Context, from, to core.CommitVersion, limit int) ([]Cdc, error)
}

// Handler processes records in version order. Returning an error stops the
// consumer without moving its checkpoint.
type Handler func(ctx context.Context, records []Cdc) error

type PollConsumerConfig struct {
	Id           string
	PollInterval time.Duration
	MaxBatch     int
	// PollsPerSecond caps how often the source is queried while records keep arriving.
	PollsPerSecond float64
}

func DefaultPollConsumerConfig(id string) PollConsumerConfig {
	return PollConsumerConfig{
		Id:             id,
		PollInterval:   100 * time.Millisecond,
		MaxBatch:       256,
		PollsPerSecond: 50,
	}
}

type PollConsumer struct {
	cfg         PollConsumerConfig
	source      Source
	checkpoints *Checkpoints
	handler     Handler
	limiter     *rate.Limiter
	logger      *logger.Logger
	metrics     metrics.Collector
}

func NewPollConsumer(cfg PollConsumerConfig, source Source, checkpoints *Checkpoints, handler Handler,
	log *logger.Logger, collector metrics.Collector) (*PollConsumer, error) {
	if cfg.Id == "" {
		return nil, EmptyConsumerIdErr
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultPollConsumerConfig(cfg.Id).MaxBatch
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollConsumerConfig(cfg.Id).PollInterval
	}
	limit := rate.Inf
	if cfg.PollsPerSecond > 0 {
		limit = rate.Limit(cfg.PollsPerSecond)
	}
	if log == nil {
		log = logger.Noop()
	}
	if collector == nil {
		collector = metrics.Noop{}
	}
	return &PollConsumer{
		cfg:         cfg,
		source:      source,
		checkpoints: checkpoints,
		handler:     handler,
		limiter:     rate.NewLimiter(limit, 1),
		logger:      log.WithConsumer(cfg.Id),
		metrics:     collector,
	}, nil
}

func (c *PollConsumer) Id() string {
	return c.cfg.Id
}

// PollOnce processes at most MaxBatch records after the checkpoint and up to
// done-until, and returns how many were handled.
func (c *PollConsumer) PollOnce(ctx context.Context) (int, error) {
	checkpoint, _, err := c.checkpoints.Get(c.cfg.Id)
	if err != nil {
		return 0, err
	}
	doneUntil := c.source.DoneUntil()
	c.metrics.RecordConsumerLag(c.cfg.Id, uint64(doneUntil-min(checkpoint, doneUntil)))
	if checkpoint >= doneUntil {
		return 0, nil
	}

	from := checkpoint + 1
	records, err := c.source.ReadCdc(ctx, from, doneUntil, c.cfg.MaxBatch)
	if err != nil {
		return 0, err
	}
	if len(records) > 0 {
		if err := c.handler(ctx, records); err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ConsumerHandlerErr, c.cfg.Id, err)
		}
	}

	// a short batch means everything up to done-until was seen
	next := doneUntil
	if len(records) == c.cfg.MaxBatch {
		next = records[len(records)-1].Version
	}
	if err := c.checkpoints.Set(c.cfg.Id, next); err != nil {
		return 0, err
	}
	c.logger.DebugContext(ctx, "consumer advanced",
		"from", from,
		"checkpoint", next,
		"records", len(records),
	)
	return len(records), nil
}

// Run polls until ctx is cancelled or the handler fails.
func (c *PollConsumer) Run(ctx context.Context) error {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return ctxErr(ctx, err)
		}
		n, err := c.PollOnce(ctx)
		if err != nil {
			c.logger.ErrorContext(ctx, "consumer stopped", "error", err)
			return err
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
