package txn

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"tiny_mvcc/pkg/core"
)

var WaterMarkStoppedErr = errors.New("watermark is stopped")

type versionHeap []core.CommitVersion

func (h *versionHeap) Len() int           { return len(*h) }
func (h *versionHeap) Less(i, j int) bool { return (*h)[i] < (*h)[j] }
func (h *versionHeap) Swap(i, j int)      { (*h)[i], (*h)[j] = (*h)[j], (*h)[i] }
func (h *versionHeap) Push(x any)         { *h = append(*h, x.(core.CommitVersion)) }
func (h *versionHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// markEvent is a begin, done or wait request.
type markEvent struct {
	version core.CommitVersion
	done    bool
	waitCh  chan struct{}
}

// WaterMark tracks the highest version below which every begun version is done.
// All state is owned by one goroutine fed through eventCh.
type WaterMark struct {
	Name      string
	eventCh   chan markEvent
	stopCh    chan struct{}
	deadCh    chan struct{}
	stopOnce  sync.Once
	doneUntil atomic.Uint64

	versions  versionHeap                            // min heap of pending versions
	pending   map[core.CommitVersion]int             // version -> begun minus done
	waitersAt map[core.CommitVersion][]chan struct{} // version -> waitChs
}

func NewWaterMark(name string) *WaterMark {
	w := &WaterMark{
		Name:      name,
		eventCh:   make(chan markEvent, 64),
		stopCh:    make(chan struct{}),
		deadCh:    make(chan struct{}),
		pending:   make(map[core.CommitVersion]int),
		waitersAt: make(map[core.CommitVersion][]chan struct{}),
	}
	heap.Init(&w.versions)

	go w.run()
	return w
}

func (w *WaterMark) send(event markEvent) bool {
	select {
	case <-w.deadCh:
		return false
	default:
	}
	select {
	case w.eventCh <- event:
		return true
	case <-w.deadCh:
		return false
	}
}

func (w *WaterMark) Begin(version core.CommitVersion) {
	w.send(markEvent{version: version})
}

func (w *WaterMark) Done(version core.CommitVersion) {
	w.send(markEvent{version: version, done: true})
}

func (w *WaterMark) DoneUntil() core.CommitVersion {
	return core.CommitVersion(w.doneUntil.Load())
}

// WaitForMark blocks until DoneUntil reaches version.
func (w *WaterMark) WaitForMark(ctx context.Context, version core.CommitVersion) error {
	if w.DoneUntil() >= version {
		return nil
	}

	waitCh := make(chan struct{})
	if !w.send(markEvent{version: version, waitCh: waitCh}) {
		return WaterMarkStoppedErr
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-waitCh:
	case <-w.deadCh:
	}
	if w.DoneUntil() < version {
		return WaterMarkStoppedErr
	}
	return nil
}

func (w *WaterMark) WaitForMarkTimeout(version core.CommitVersion, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return w.WaitForMark(ctx, version) == nil
}

// Stop releases every waiter and ends the goroutine. Safe to call more than once.
func (w *WaterMark) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.deadCh
}

func (w *WaterMark) run() {
	defer close(w.deadCh)
	for {
		select {
		case event := <-w.eventCh:
			if event.waitCh != nil {
				w.processWaitEvent(event)
			} else {
				w.processMarkEvent(event)
			}
		case <-w.stopCh:
			w.processClose()
			return
		}
	}
}

func (w *WaterMark) processWaitEvent(event markEvent) {
	if w.DoneUntil() >= event.version {
		close(event.waitCh)
		return
	}
	w.waitersAt[event.version] = append(w.waitersAt[event.version], event.waitCh)
}

func (w *WaterMark) processMarkEvent(event markEvent) {
	{ // 1. update pending & versions
		if _, ok := w.pending[event.version]; !ok {
			heap.Push(&w.versions, event.version)
		}

		delta := 1
		if event.done {
			delta = -1
		}
		w.pending[event.version] += delta
	}

	// 2. recalculate doneUntil
	doneUntil := w.DoneUntil()
	until := doneUntil
	for len(w.versions) > 0 {
		least := w.versions[0]
		if w.pending[least] > 0 {
			break
		}
		heap.Pop(&w.versions)
		delete(w.pending, least)
		if least > until {
			until = least
		}
	}
	if until != doneUntil {
		w.doneUntil.CompareAndSwap(uint64(doneUntil), uint64(until))
	}

	// 3. close waiters
	for version, waiters := range w.waitersAt {
		if version <= until {
			for _, ch := range waiters {
				close(ch)
			}
			delete(w.waitersAt, version)
		}
	}
}

func (w *WaterMark) processClose() {
	for version, waiters := range w.waitersAt {
		for _, ch := range waiters {
			close(ch)
		}
		delete(w.waitersAt, version)
	}
}
