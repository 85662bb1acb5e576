package models

import (
	"math"
	"time"
)

// DefaultPeriod is the granularity of request datapoints
const DefaultPeriod = 5 * time.Minute

// SummaryWindow is the trailing window used for rate statistics
const SummaryWindow = 24 * time.Hour

// Sample is one datapoint of a metric window. Value is the request sum for the period.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// MetricWindow is an ordered series of samples at a fixed period.
// Periods without data are absent rather than zero.
type MetricWindow struct {
	Start   time.Time
	End     time.Time
	Period  time.Duration
	Samples []Sample
}

// Since returns the samples at or after t
func (w MetricWindow) Since(t time.Time) []Sample {
	for i, s := range w.Samples {
		if !s.Timestamp.Before(t) {
			return w.Samples[i:]
		}
	}
	return nil
}

// Rate converts a period sum into a per-second rate
func (w MetricWindow) Rate(s Sample) float64 {
	period := w.Period
	if period <= 0 {
		period = DefaultPeriod
	}
	return s.Value / period.Seconds()
}

// UtilizationSummary holds the statistics derived for one resource in one pass
type UtilizationSummary struct {
	ResourceARN string    `json:"resourceArn"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`

	AverageRate    float64 `json:"averageRate"`
	MinAverageRate float64 `json:"minAverageRate"`
	MaxAverageRate float64 `json:"maxAverageRate"`
	P95Rate        float64 `json:"p95Rate"`

	// UtilizationPct is +Inf when UtilizationDefined is false
	UtilizationPct     float64 `json:"-"`
	UtilizationDefined bool    `json:"utilizationDefined"`

	AgeHours                  int     `json:"ageHours"`
	IdleThresholdHours        int     `json:"idleThresholdHours"`
	TotalRequestsInIdleWindow float64 `json:"totalRequestsInIdleWindow"`

	// LatestRate and LatestUtilization describe the most recent complete period
	LatestPeriod      time.Time `json:"latestPeriod"`
	LatestRate        float64   `json:"latestRate"`
	LatestUtilization float64   `json:"latestUtilization"`
	// LatestUtilizationDefined is false when traffic meets a zero minimum rate
	LatestUtilizationDefined bool `json:"latestUtilizationDefined"`

	// Pattern classifies how variable traffic was over the window
	Pattern string `json:"pattern,omitempty"`

	// Datapoints are the per-period rates over the trailing 24h
	Datapoints []float64 `json:"datapoints"`

	// AlarmState is the outcome of replaying the window through the utilization alarm evaluator
	AlarmState AlarmState `json:"alarmState"`
}

// Utilization returns the percentage, or nil when it is undefined
func (s *UtilizationSummary) Utilization() *float64 {
	if !s.UtilizationDefined || math.IsInf(s.UtilizationPct, 0) || math.IsNaN(s.UtilizationPct) {
		return nil
	}
	v := s.UtilizationPct
	return &v
}
