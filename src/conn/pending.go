package conn

import (
	"sync"
	"time"

	"github.com/waseem2959/flextasker-realtime/src/types"
)

type result struct {
	data map[string]any
	err  error
}

type pendingCall struct {
	id    string
	ch    chan result
	timer *time.Timer
}

// pendingTable correlates outbound calls with their eventual server
// acknowledgements. At most one entry exists per correlation id;
// unmatched or duplicate acks are ignored.
type pendingTable struct {
	mu      sync.Mutex
	calls   map[string]*pendingCall
	timeout time.Duration
}

func newPendingTable(timeout time.Duration) *pendingTable {
	return &pendingTable{
		calls:   make(map[string]*pendingCall),
		timeout: timeout,
	}
}

func (t *pendingTable) add(id string) *pendingCall {
	p := &pendingCall{id: id, ch: make(chan result, 1)}
	t.mu.Lock()
	t.calls[id] = p
	t.mu.Unlock()
	return p
}

// arm starts the deadline clock for a call. The clock starts when the
// frame is actually sent, so calls queued while disconnected wait
// indefinitely rather than timing out before they reach the wire.
func (t *pendingTable) arm(id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.calls[id]
	if !ok || p.timer != nil {
		return
	}
	p.timer = time.AfterFunc(t.timeout, func() {
		t.reject(id, types.ErrTimeout)
	})
}

// settle resolves the call matching an ack frame. A payload carrying
// an "error" object rejects the call with a ServerError.
func (t *pendingTable) settle(f *types.Frame) {
	t.mu.Lock()
	p, ok := t.calls[f.CorrelationID]
	if ok {
		delete(t.calls, f.CorrelationID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}

	if raw, present := f.Payload["error"]; present && raw != nil {
		serr := &types.ServerError{}
		if obj, isMap := raw.(map[string]any); isMap {
			if code, ok := obj["code"].(string); ok {
				serr.Code = code
			}
			if msg, ok := obj["message"].(string); ok {
				serr.Message = msg
			}
		}
		p.ch <- result{err: serr}
		return
	}
	p.ch <- result{data: f.Payload}
}

func (t *pendingTable) reject(id string, err error) {
	t.mu.Lock()
	p, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.ch <- result{err: err}
}

func (t *pendingTable) rejectAll(err error) {
	t.mu.Lock()
	calls := t.calls
	t.calls = make(map[string]*pendingCall)
	t.mu.Unlock()

	for _, p := range calls {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.ch <- result{err: err}
	}
}

func (t *pendingTable) remove(id string) {
	t.mu.Lock()
	p, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	t.mu.Unlock()
	if ok && p.timer != nil {
		p.timer.Stop()
	}
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
