package streaming

import (
	"sync/atomic"

	"github.com/khaledhikmat/vs-stream/model"
)

type State int32

const (
	StateAlive State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAlive:
		return "ALIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

type slotValue struct {
	frame *model.DecodedFrame
	state State
	err   error
}

// LatestFrameSlot holds the newest frame of one stream together with its
// liveness. Every update swaps in a new immutable value, so readers never
// block and never see a half-written frame.
type LatestFrameSlot struct {
	v atomic.Pointer[slotValue]
}

func NewLatestFrameSlot() *LatestFrameSlot {
	s := &LatestFrameSlot{}
	s.v.Store(&slotValue{state: StateAlive})
	return s
}

// Publish replaces the current frame. It is a no-op once the slot is closed.
func (s *LatestFrameSlot) Publish(frame *model.DecodedFrame) bool {
	return s.update(func(cur slotValue) (slotValue, bool) {
		if cur.state == StateClosed {
			return cur, false
		}
		cur.frame = frame
		return cur, true
	})
}

// Frame returns the newest frame, or nil before the first frame and after close.
func (s *LatestFrameSlot) Frame() *model.DecodedFrame {
	v := s.v.Load()
	if v.state == StateClosed {
		return nil
	}
	return v.frame
}

func (s *LatestFrameSlot) State() State {
	return s.v.Load().state
}

func (s *LatestFrameSlot) Err() error {
	return s.v.Load().err
}

func (s *LatestFrameSlot) markClosing() bool {
	return s.update(func(cur slotValue) (slotValue, bool) {
		if cur.state != StateAlive {
			return cur, false
		}
		cur.state = StateClosing
		return cur, true
	})
}

func (s *LatestFrameSlot) markClosed(err error) bool {
	return s.update(func(cur slotValue) (slotValue, bool) {
		if cur.state == StateClosed {
			return cur, false
		}
		return slotValue{state: StateClosed, err: err}, true
	})
}

func (s *LatestFrameSlot) update(fn func(cur slotValue) (slotValue, bool)) bool {
	for {
		old := s.v.Load()
		next, ok := fn(*old)
		if !ok {
			return false
		}
		if s.v.CompareAndSwap(old, &next) {
			return true
		}
	}
}
