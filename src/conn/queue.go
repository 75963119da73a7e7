package conn

import (
	"time"

	"github.com/waseem2959/flextasker-realtime/src/types"
)

type queuedOp struct {
	frame      *types.Frame
	enqueuedAt time.Time
}

// queue buffers outbound frames issued while disconnected, for FIFO
// replay on the next successful connection. It is guarded by the
// Manager's mutex and has no locking of its own.
type queue struct {
	ops []queuedOp
}

func (q *queue) push(f *types.Frame) {
	q.ops = append(q.ops, queuedOp{frame: f, enqueuedAt: time.Now()})
}

// drain removes and returns all buffered frames in enqueue order.
func (q *queue) drain() []*types.Frame {
	if len(q.ops) == 0 {
		return nil
	}
	frames := make([]*types.Frame, len(q.ops))
	for i, op := range q.ops {
		frames[i] = op.frame
	}
	q.ops = nil
	return frames
}

// requeue puts frames back at the front after a replay that failed
// partway, keeping the original order for the next connection.
func (q *queue) requeue(frames []*types.Frame) {
	if len(frames) == 0 {
		return
	}
	front := make([]queuedOp, 0, len(frames)+len(q.ops))
	now := time.Now()
	for _, f := range frames {
		front = append(front, queuedOp{frame: f, enqueuedAt: now})
	}
	q.ops = append(front, q.ops...)
}

func (q *queue) clear() {
	q.ops = nil
}

func (q *queue) len() int {
	return len(q.ops)
}
