package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelayGrowsExponentially(t *testing.T) {
	p := Policy{Base: time.Second, Max: 30 * time.Second, Factor: 2}

	require.Equal(t, time.Second, p.Delay(0))
	require.Equal(t, 2*time.Second, p.Delay(1))
	require.Equal(t, 4*time.Second, p.Delay(2))
	require.Equal(t, 8*time.Second, p.Delay(3))
}

func TestDelayIsCapped(t *testing.T) {
	p := Policy{Base: time.Second, Max: 30 * time.Second, Factor: 2}

	require.Equal(t, 30*time.Second, p.Delay(5))
	require.Equal(t, 30*time.Second, p.Delay(20))
	// Large exponents must not overflow past the cap.
	require.Equal(t, 30*time.Second, p.Delay(500))
}

func TestDelayNegativeAttempt(t *testing.T) {
	p := DefaultPolicy()
	// Negative attempts clamp to the first delay.
	require.Equal(t, p.Base, p.Delay(-1))
}

func TestDelayDegenerateFactor(t *testing.T) {
	p := Policy{Base: time.Second, Max: time.Minute, Factor: 0}
	// A factor at or below one falls back to doubling.
	require.Equal(t, 2*time.Second, p.Delay(1))
}
