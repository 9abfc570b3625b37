package txn

import (
	"sync"
	"time"
)

// Clock stamps Cdc records in unix milliseconds.
type Clock interface {
	Now() uint64
}

// WallClock follows the system clock but never goes backwards.
type WallClock struct {
	sync.Mutex
	last uint64
}

var _ Clock = (*WallClock)(nil)

func (clk *WallClock) Now() uint64 {
	clk.Lock()
	defer clk.Unlock()

	now := uint64(time.Now().UnixMilli())
	if now > clk.last {
		clk.last = now
	}
	return clk.last
}

// LocalClock ticks by one on every call.
type LocalClock struct {
	sync.Mutex
	Ts uint64
}

var _ Clock = (*LocalClock)(nil)

func (clk *LocalClock) Now() uint64 {
	clk.Lock()
	defer clk.Unlock()

	clk.Ts++
	return clk.Ts
}
