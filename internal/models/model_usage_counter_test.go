package models

import (
	"testing"
	"time"

	"github.com/fatflowers/billingd/pkg/types"

	"github.com/stretchr/testify/assert"
)

func TestMonthStart(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "mid month",
			in:   time.Date(2026, 8, 31, 23, 59, 59, 0, time.UTC),
			want: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "already at boundary",
			in:   time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			// 2026-09-01 05:00 +08:00 is 2026-08-31 21:00 UTC; the boundary
			// is the UTC calendar month, never the local one.
			name: "non-utc input",
			in:   time.Date(2026, 9, 1, 5, 0, 0, 0, time.FixedZone("CST", 8*3600)),
			want: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MonthStart(tt.in))
		})
	}
}

func TestUsageCounter_ValueAddReset(t *testing.T) {
	c := &UsageCounter{}

	assert.Equal(t, int64(3), c.Add(types.UsageMetricSessions, 3))
	assert.Equal(t, int64(2), c.Add(types.UsageMetricTranscriptions, 2))
	assert.Equal(t, int64(45), c.Add(types.UsageMetricMinutes, 45))

	assert.Equal(t, int64(3), c.Value(types.UsageMetricSessions))
	assert.Equal(t, int64(2), c.Value(types.UsageMetricTranscriptions))
	assert.Equal(t, int64(45), c.Value(types.UsageMetricMinutes))
	assert.Zero(t, c.Value(types.UsageMetric("bogus")))

	at := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	c.ResetFor(at)
	assert.Zero(t, c.SessionCount)
	assert.Zero(t, c.TranscriptionCount)
	assert.Zero(t, c.UsageMinutes)
	assert.Equal(t, MonthStart(at), c.CurrentMonthStart)
}
