package store

import (
	"context"
	"fmt"
	"sync"

	"tiny_mvcc/pkg/core"
	"tiny_mvcc/pkg/logger"
)

type requestKind uint8

const (
	commitRequest requestKind = iota + 1
	compactRequest
	dropCdcRequest
)

// ExecutorRequest is one mutation handed to the writer goroutine.
type ExecutorRequest struct {
	kind      requestKind
	version   core.CommitVersion
	deltas    []core.Delta
	timestamp uint64
	respCh    chan ExecutorResponse
}

type ExecutorResponse struct {
	affected int
	err      error
}

// Executor owns every mutation of the memory backend: requests are applied one
// at a time by a single goroutine and answered on their response channel.
type Executor struct {
	writeCh  chan ExecutorRequest
	stopCh   chan struct{}
	deadCh   chan struct{}
	stopOnce sync.Once
	apply    func(ExecutorRequest) (int, error)
	logger   *logger.Logger
}

func NewExecutor(queueSize int, apply func(ExecutorRequest) (int, error), log *logger.Logger) *Executor {
	if log == nil {
		log = logger.Noop()
	}
	exec := &Executor{
		writeCh: make(chan ExecutorRequest, queueSize),
		stopCh:  make(chan struct{}),
		deadCh:  make(chan struct{}),
		apply:   apply,
		logger:  log,
	}
	go exec.run()
	return exec
}

// submit queues req and waits for its result. Once queued the request is
// always awaited, ctx only bounds the wait for queue space.
func (e *Executor) submit(ctx context.Context, req ExecutorRequest) (int, error) {
	req.respCh = make(chan ExecutorResponse, 1)
	select {
	case e.writeCh <- req:
	case <-e.deadCh:
		return 0, core.WriterDisconnectedErr
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case resp := <-req.respCh:
		return resp.affected, resp.err
	case <-e.deadCh:
		select {
		case resp := <-req.respCh:
			return resp.affected, resp.err
		default:
			return 0, core.WriterDisconnectedErr
		}
	}
}

// Stop drains the queued requests and waits for the goroutine to exit.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	<-e.deadCh
}

func (e *Executor) Alive() bool {
	select {
	case <-e.deadCh:
		return false
	default:
		return true
	}
}

func (e *Executor) run() {
	defer close(e.deadCh)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("storage writer crashed", "panic", fmt.Sprint(r))
		}
	}()

	for {
		select {
		case req := <-e.writeCh:
			e.handle(req)
		case <-e.stopCh:
			for {
				select {
				case req := <-e.writeCh:
					e.handle(req)
				default:
					return
				}
			}
		}
	}
}

func (e *Executor) handle(req ExecutorRequest) {
	affected, err := e.apply(req)
	req.respCh <- ExecutorResponse{affected: affected, err: err}
}
