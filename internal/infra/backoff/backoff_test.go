package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mcphub/internal/domain"
)

func TestPolicy_DelayIsCappedAndMonotonic(t *testing.T) {
	p := NewPolicy(domain.BackoffConfig{BaseSeconds: 1, MaxSeconds: 60, Factor: 2})

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}
	for failures, expected := range want {
		require.Equal(t, expected, p.Delay(failures), "failures=%d", failures)
	}

	prev := time.Duration(0)
	for failures := 0; failures < 2000; failures++ {
		d := p.Delay(failures)
		require.GreaterOrEqual(t, d, prev)
		require.LessOrEqual(t, d, 60*time.Second)
		prev = d
	}
}

func TestPolicy_NormalizesInvalidConfig(t *testing.T) {
	p := NewPolicy(domain.BackoffConfig{BaseSeconds: 0, MaxSeconds: 0, Factor: 0.5, Jitter: 3})
	require.Equal(t, time.Second, p.Delay(0))
	require.Equal(t, time.Second, p.Delay(10))
	require.Equal(t, time.Second, p.Max())
}

func TestPolicy_Jittered(t *testing.T) {
	p := NewPolicy(domain.BackoffConfig{BaseSeconds: 1, MaxSeconds: 60, Factor: 2, Jitter: 0.5})

	p.rand = func() float64 { return 0 }
	require.Equal(t, 10*time.Second, p.Jittered(10*time.Second))

	p.rand = func() float64 { return 0.5 }
	require.Equal(t, 12500*time.Millisecond, p.Jittered(10*time.Second))

	p.rand = func() float64 { return 1 }
	require.Equal(t, 60*time.Second, p.Jittered(50*time.Second))
	require.Equal(t, 60*time.Second, p.Jittered(p.Delay(20)))

	noJitter := NewPolicy(domain.BackoffConfig{BaseSeconds: 1, MaxSeconds: 60, Factor: 2})
	require.Equal(t, 4*time.Second, noJitter.Jittered(4*time.Second))
}
