package types

// Plan describes a purchasable tier from the config catalog. Amounts are in
// the currency's smallest unit.
type Plan struct {
	ID           string `json:"id" mapstructure:"id"`
	Name         string `json:"name" mapstructure:"name"`
	MonthlyPrice int64  `json:"monthly_price" mapstructure:"monthly_price"`
	AnnualPrice  int64  `json:"annual_price" mapstructure:"annual_price"`
	Currency     string `json:"currency" mapstructure:"currency"`
	// Per-month usage limits. -1 means unlimited.
	SessionLimit       int64 `json:"session_limit" mapstructure:"session_limit"`
	TranscriptionLimit int64 `json:"transcription_limit" mapstructure:"transcription_limit"`
	MinuteLimit        int64 `json:"minute_limit" mapstructure:"minute_limit"`
}

// PriceFor returns the charge amount for one period of the given cycle.
func (p *Plan) PriceFor(cycle BillingCycle) int64 {
	if cycle == BillingCycleAnnual {
		return p.AnnualPrice
	}
	return p.MonthlyPrice
}

// LimitFor returns the plan limit for a usage metric; -1 means unlimited.
func (p *Plan) LimitFor(metric UsageMetric) int64 {
	switch metric {
	case UsageMetricSessions:
		return p.SessionLimit
	case UsageMetricTranscriptions:
		return p.TranscriptionLimit
	case UsageMetricMinutes:
		return p.MinuteLimit
	}
	return 0
}
