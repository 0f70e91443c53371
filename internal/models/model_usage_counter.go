package models

import (
	"time"

	"github.com/fatflowers/billingd/pkg/types"
)

// UsageCounter tracks a user's metered consumption for the current calendar
// month. Counters never go negative and reset exactly at the month boundary.
type UsageCounter struct {
	ID                 string    `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID             string    `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex" json:"user_id"`
	PlanID             string    `gorm:"column:plan_id;type:varchar(64);not null" json:"plan_id"`
	SessionCount       int64     `gorm:"column:session_count;not null;default:0" json:"session_count"`
	TranscriptionCount int64     `gorm:"column:transcription_count;not null;default:0" json:"transcription_count"`
	UsageMinutes       int64     `gorm:"column:usage_minutes;not null;default:0" json:"usage_minutes"`
	CurrentMonthStart  time.Time `gorm:"column:current_month_start;not null" json:"current_month_start"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (UsageCounter) TableName() string { return "usage_counter" }

// Value returns the counter for a metric.
func (u *UsageCounter) Value(metric types.UsageMetric) int64 {
	switch metric {
	case types.UsageMetricSessions:
		return u.SessionCount
	case types.UsageMetricTranscriptions:
		return u.TranscriptionCount
	case types.UsageMetricMinutes:
		return u.UsageMinutes
	}
	return 0
}

// Add increments the counter for a metric and returns the new value.
func (u *UsageCounter) Add(metric types.UsageMetric, amount int64) int64 {
	switch metric {
	case types.UsageMetricSessions:
		u.SessionCount += amount
		return u.SessionCount
	case types.UsageMetricTranscriptions:
		u.TranscriptionCount += amount
		return u.TranscriptionCount
	case types.UsageMetricMinutes:
		u.UsageMinutes += amount
		return u.UsageMinutes
	}
	return 0
}

// ResetFor zeroes all counters and anchors the row at the month containing t.
func (u *UsageCounter) ResetFor(t time.Time) {
	u.SessionCount = 0
	u.TranscriptionCount = 0
	u.UsageMinutes = 0
	u.CurrentMonthStart = MonthStart(t)
}

// MonthStart truncates t to the first instant of its UTC calendar month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
