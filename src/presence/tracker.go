// Package presence maintains the last reported status of remote
// users. The table is server-authoritative: every update overwrites
// the previous record wholesale, and the whole table is dropped on
// disconnection since stale data is worse than no data.
package presence

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/waseem2959/flextasker-realtime/src/bus"
	"github.com/waseem2959/flextasker-realtime/src/types"
)

// Tracker is a last-write-wins presence table keyed by user id.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]types.PresenceRecord
	logger  zerolog.Logger
}

// New creates an empty Tracker.
func New(logger zerolog.Logger) *Tracker {
	return &Tracker{
		records: make(map[string]types.PresenceRecord),
		logger:  logger.With().Str("component", "presence").Logger(),
	}
}

// Bind subscribes the tracker to inbound presence frames and to the
// disconnect signal that invalidates the table.
func (t *Tracker) Bind(b *bus.Bus) {
	b.On(types.EventPresenceUpdate, func(payload any) {
		f, ok := payload.(*types.Frame)
		if !ok {
			return
		}
		var rec types.PresenceRecord
		if err := types.DecodePayload(f.Payload, &rec); err != nil {
			t.logger.Debug().Err(err).Msg("bad presence payload")
			return
		}
		t.Apply(rec)
	})
	b.On(types.EventDisconnected, func(any) { t.Reset() })
}

// Apply overwrites the record for rec.UserID. No merging.
func (t *Tracker) Apply(rec types.PresenceRecord) {
	if rec.UserID == "" {
		return
	}
	t.mu.Lock()
	t.records[rec.UserID] = rec
	t.mu.Unlock()
}

// Get returns the last known record for a user.
func (t *Tracker) Get(userID string) (types.PresenceRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[userID]
	return rec, ok
}

// Snapshot returns a copy of the table. Callers must treat it as
// immutable and re-subscribe for updates rather than mutate it.
func (t *Tracker) Snapshot() map[string]types.PresenceRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]types.PresenceRecord, len(t.records))
	for id, rec := range t.records {
		out[id] = rec
	}
	return out
}

// Online returns the ids of users whose last reported status is online.
func (t *Tracker) Online() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.records))
	for id, rec := range t.records {
		if rec.Status == types.PresenceOnline {
			ids = append(ids, id)
		}
	}
	return ids
}

// Reset drops every record. Called on disconnection; the table
// repopulates only from fresh updates after reconnecting.
func (t *Tracker) Reset() {
	t.mu.Lock()
	n := len(t.records)
	t.records = make(map[string]types.PresenceRecord)
	t.mu.Unlock()
	if n > 0 {
		t.logger.Debug().Int("dropped", n).Msg("presence table cleared")
	}
}

// Len returns the number of tracked users.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}
