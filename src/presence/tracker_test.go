package presence

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/waseem2959/flextasker-realtime/src/bus"
	"github.com/waseem2959/flextasker-realtime/src/types"
)

func record(userID string, status types.PresenceStatus, at time.Time) types.PresenceRecord {
	return types.PresenceRecord{
		UserID:   userID,
		UserName: "user " + userID,
		Status:   status,
		LastSeen: at,
		Platform: "web",
	}
}

func TestApplyOverwritesWholesale(t *testing.T) {
	tr := New(zerolog.Nop())

	earlier := time.Now().Add(-time.Minute)
	tr.Apply(record("u1", types.PresenceOnline, earlier))
	tr.Apply(record("u1", types.PresenceAway, time.Now()))

	rec, ok := tr.Get("u1")
	require.True(t, ok)
	require.Equal(t, types.PresenceAway, rec.Status)
	require.Equal(t, 1, tr.Len())
}

func TestApplyIgnoresEmptyUserID(t *testing.T) {
	tr := New(zerolog.Nop())
	tr.Apply(types.PresenceRecord{Status: types.PresenceOnline})
	require.Equal(t, 0, tr.Len())
}

func TestOnlineFiltersByStatus(t *testing.T) {
	tr := New(zerolog.Nop())
	now := time.Now()

	tr.Apply(record("u1", types.PresenceOnline, now))
	tr.Apply(record("u2", types.PresenceBusy, now))
	tr.Apply(record("u3", types.PresenceOnline, now))

	online := tr.Online()
	require.Len(t, online, 2)
	require.ElementsMatch(t, []string{"u1", "u3"}, online)
}

func TestSnapshotIsACopy(t *testing.T) {
	tr := New(zerolog.Nop())
	tr.Apply(record("u1", types.PresenceOnline, time.Now()))

	snap := tr.Snapshot()
	delete(snap, "u1")

	_, ok := tr.Get("u1")
	require.True(t, ok)
}

func TestBindAppliesPresenceFrames(t *testing.T) {
	b := bus.New()
	tr := New(zerolog.Nop())
	tr.Bind(b)

	payload, err := types.EncodePayload(record("u1", types.PresenceOnline, time.Now()))
	require.NoError(t, err)
	b.Emit(types.EventPresenceUpdate, &types.Frame{Event: types.EventPresenceUpdate, Payload: payload})

	rec, ok := tr.Get("u1")
	require.True(t, ok)
	require.Equal(t, types.PresenceOnline, rec.Status)
}

func TestDisconnectClearsTable(t *testing.T) {
	b := bus.New()
	tr := New(zerolog.Nop())
	tr.Bind(b)

	tr.Apply(record("u1", types.PresenceOnline, time.Now()))
	tr.Apply(record("u2", types.PresenceAway, time.Now()))
	require.Equal(t, 2, tr.Len())

	b.Emit(types.EventDisconnected, nil)
	require.Equal(t, 0, tr.Len())
	require.Empty(t, tr.Online())
}
