package analyzer

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/opscart/personalize-monitor/pkg/datasource"
	"github.com/opscart/personalize-monitor/pkg/models"
	"github.com/opscart/personalize-monitor/pkg/policy"
)

// Options configure the aggregator
type Options struct {
	IdleThresholdHours int
	Period             time.Duration
	CallTimeout        time.Duration
	AlarmRule          policy.AlarmRule
}

// Aggregator turns a resource's request datapoints into a UtilizationSummary
type Aggregator struct {
	source datasource.MetricsSource
	opts   Options
	log    zerolog.Logger
}

func NewAggregator(source datasource.MetricsSource, opts Options, log zerolog.Logger) *Aggregator {
	if opts.Period <= 0 {
		opts.Period = models.DefaultPeriod
	}
	if opts.AlarmRule.Period <= 0 {
		opts.AlarmRule.Period = opts.Period
	}
	return &Aggregator{
		source: source,
		opts:   opts,
		log:    log.With().Str("component", "aggregator").Logger(),
	}
}

// Lookback is how far back datapoints are fetched: the 24h summary window or
// the idle window, whichever is longer
func (a *Aggregator) Lookback() time.Duration {
	idle := time.Duration(a.opts.IdleThresholdHours) * time.Hour
	if idle > models.SummaryWindow {
		return idle
	}
	return models.SummaryWindow
}

// Summarize fetches the trailing window for res and derives its statistics.
// Any source failure is reported as MetricsUnavailableError.
func (a *Aggregator) Summarize(ctx context.Context, res *models.InferenceResource, now time.Time) (*models.UtilizationSummary, error) {
	period := a.opts.Period
	end := now.UTC().Truncate(period)
	start := end.Add(-a.Lookback())

	if a.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.CallTimeout)
		defer cancel()
	}

	window, err := a.source.RequestSums(ctx, res, start, end, period)
	if err != nil {
		return nil, &models.MetricsUnavailableError{ARN: res.ARN, Err: err}
	}
	window.Period = period

	summary := &models.UtilizationSummary{
		ResourceARN:        res.ARN,
		WindowStart:        end.Add(-models.SummaryWindow),
		WindowEnd:          end,
		AgeHours:           res.AgeHours(now),
		IdleThresholdHours: a.opts.IdleThresholdHours,
		LatestPeriod:       end.Add(-period),
		AlarmState:         models.AlarmStateOK,
	}

	daySamples := inRange(window.Since(summary.WindowStart), end)
	rates := make([]float64, len(daySamples))
	for i, s := range daySamples {
		rates[i] = window.Rate(s)
	}
	summary.Datapoints = rates

	if stats, err := CalculateRateStats(rates); err == nil {
		summary.AverageRate = stats.Average
		summary.MinAverageRate = stats.Min
		summary.MaxAverageRate = stats.Peak
		summary.P95Rate = stats.P95
	}
	summary.Pattern = AnalyzeTrafficPattern(rates).Type

	idleStart := end.Add(-time.Duration(a.opts.IdleThresholdHours) * time.Hour)
	for _, s := range inRange(window.Since(idleStart), end) {
		summary.TotalRequestsInIdleWindow += s.Value
	}

	summary.UtilizationPct, summary.UtilizationDefined = Utilization(summary.AverageRate, res.CurrentMinRate)

	for _, s := range daySamples {
		if s.Timestamp.Equal(summary.LatestPeriod) {
			summary.LatestRate = window.Rate(s)
		}
	}
	if pct, ok := Utilization(summary.LatestRate, res.CurrentMinRate); ok {
		summary.LatestUtilization, summary.LatestUtilizationDefined = pct, true
	}

	evaluator := policy.NewAlarmEvaluator(a.opts.AlarmRule)
	for i, s := range daySamples {
		pct, defined := Utilization(rates[i], res.CurrentMinRate)
		evaluator.Observe(s.Timestamp, pct, defined)
	}
	summary.AlarmState = evaluator.State()

	a.log.Debug().
		Str("arn", res.ARN).
		Int("datapoints", len(rates)).
		Float64("average_rate", summary.AverageRate).
		Float64("min_average_rate", summary.MinAverageRate).
		Float64("max_average_rate", summary.MaxAverageRate).
		Float64("idle_window_requests", summary.TotalRequestsInIdleWindow).
		Str("pattern", summary.Pattern).
		Msg("summarized request metrics")

	return summary, nil
}

// Utilization is rate as a percentage of minRate. With a zero minimum, no
// traffic counts as fully utilized and any traffic is undefined (+Inf).
func Utilization(rate float64, minRate int) (float64, bool) {
	if minRate > 0 {
		return rate / float64(minRate) * 100, true
	}
	if rate == 0 {
		return 100, true
	}
	return math.Inf(1), false
}

func inRange(samples []models.Sample, end time.Time) []models.Sample {
	for i, s := range samples {
		if !s.Timestamp.Before(end) {
			return samples[:i]
		}
	}
	return samples
}
