package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProrate(t *testing.T) {
	tests := []struct {
		name          string
		oldAmount     int64
		newAmount     int64
		daysRemaining int64
		daysInCycle   int64
		wantRemaining int64
		wantNewCost   int64
		wantNet       int64
	}{
		{
			// Upgrade halfway through a 30-day month.
			name:      "mid-cycle upgrade",
			oldAmount: 89900, newAmount: 149900,
			daysRemaining: 15, daysInCycle: 30,
			wantRemaining: 44950, wantNewCost: 74950, wantNet: 30000,
		},
		{
			name:      "downgrade credits the difference",
			oldAmount: 149900, newAmount: 89900,
			daysRemaining: 15, daysInCycle: 30,
			wantRemaining: 74950, wantNewCost: 44950, wantNet: -30000,
		},
		{
			// 89901*15/30 = 44950.5 rounds half-up to 44951.
			name:      "rounding half-up",
			oldAmount: 89901, newAmount: 0,
			daysRemaining: 15, daysInCycle: 30,
			wantRemaining: 44951, wantNewCost: 0, wantNet: -44951,
		},
		{
			name:      "full period remaining",
			oldAmount: 89900, newAmount: 149900,
			daysRemaining: 30, daysInCycle: 30,
			wantRemaining: 89900, wantNewCost: 149900, wantNet: 60000,
		},
		{
			name:      "nothing remaining",
			oldAmount: 89900, newAmount: 149900,
			daysRemaining: 0, daysInCycle: 30,
			wantRemaining: 0, wantNewCost: 0, wantNet: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := prorate(tt.oldAmount, tt.newAmount, tt.daysRemaining, tt.daysInCycle)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRemaining, got.RemainingValue)
			assert.Equal(t, tt.wantNewCost, got.NewCost)
			assert.Equal(t, tt.wantNet, got.NetCharge)
		})
	}
}

func TestProrate_Rejections(t *testing.T) {
	tests := []struct {
		name          string
		oldAmount     int64
		newAmount     int64
		daysRemaining int64
		daysInCycle   int64
	}{
		{name: "zero cycle", oldAmount: 100, newAmount: 200, daysRemaining: 0, daysInCycle: 0},
		{name: "negative remaining", oldAmount: 100, newAmount: 200, daysRemaining: -1, daysInCycle: 30},
		{name: "remaining beyond cycle", oldAmount: 100, newAmount: 200, daysRemaining: 31, daysInCycle: 30},
		{name: "negative amount", oldAmount: -1, newAmount: 200, daysRemaining: 10, daysInCycle: 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := prorate(tt.oldAmount, tt.newAmount, tt.daysRemaining, tt.daysInCycle)
			var pe *ProrationError
			assert.ErrorAs(t, err, &pe)
		})
	}
}

// The preview and the executed change share the computation, so repeated
// calls with the same inputs are byte-identical.
func TestProrate_Deterministic(t *testing.T) {
	first, err := prorate(89900, 149900, 17, 31)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := prorate(89900, 149900, 17, 31)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCycleDays(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0) // 31 days

	t.Run("mid period", func(t *testing.T) {
		daysInCycle, daysRemaining, err := cycleDays(start, end, start.AddDate(0, 0, 16))
		require.NoError(t, err)
		assert.Equal(t, int64(31), daysInCycle)
		assert.Equal(t, int64(15), daysRemaining)
	})

	t.Run("partial day rounds up", func(t *testing.T) {
		_, daysRemaining, err := cycleDays(start, end, end.Add(-36*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(2), daysRemaining)
	})

	t.Run("at period start", func(t *testing.T) {
		daysInCycle, daysRemaining, err := cycleDays(start, end, start)
		require.NoError(t, err)
		assert.Equal(t, daysInCycle, daysRemaining)
	})

	t.Run("outside period", func(t *testing.T) {
		_, _, err := cycleDays(start, end, end.Add(time.Hour))
		var pe *ProrationError
		assert.ErrorAs(t, err, &pe)
	})

	t.Run("inverted period", func(t *testing.T) {
		_, _, err := cycleDays(end, start, start)
		var pe *ProrationError
		assert.ErrorAs(t, err, &pe)
	})
}
