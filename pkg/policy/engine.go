// Package policy turns utilization summaries into decisions.
package policy

import (
	"fmt"
	"math"

	"github.com/opscart/personalize-monitor/pkg/models"
)

// Settings are the policy switches taken from configuration
type Settings struct {
	IdleThresholdHours            int
	AutoDeleteOrStopIdleResources bool
	AutoAdjustMinRate             bool
}

// Engine evaluates one resource at a time. It performs no I/O and holds no
// state between calls, so the same input always gives the same decision.
type Engine struct {
	settings Settings
}

func NewEngine(settings Settings) *Engine {
	return &Engine{settings: settings}
}

// Evaluate decides what should happen to res given its summary. An idle
// resource is marked idle even when its rate could also be lowered.
func (e *Engine) Evaluate(res *models.InferenceResource, summary *models.UtilizationSummary) *models.Decision {
	d := &models.Decision{
		Type:     models.NoAction,
		Resource: res,
		Summary:  summary,
	}

	if e.isIdle(summary) {
		if !res.Updatable() {
			d.Reason = fmt.Sprintf("%s %s has been idle for at least %d hours but its status (%s) does not allow it to be %s on this run",
				res.Kind.Label(), res.ARN, e.settings.IdleThresholdHours, statusOf(res), idleVerbPast(res.Kind))
			return d
		}
		d.Type = models.MarkIdle
		d.Reason = fmt.Sprintf("%s %s has been idle for at least %d hours so initiating %s according to configuration",
			res.Kind.Label(), res.ARN, e.settings.IdleThresholdHours, idleVerb(res.Kind))
		return d
	}

	if e.settings.AutoAdjustMinRate {
		newRate := LowerBoundRate(summary.MinAverageRate)
		if newRate < res.CurrentMinRate {
			if !res.Updatable() {
				d.Reason = fmt.Sprintf("%s of %s could be lowered from %d to %d but its status (%s) does not allow updates on this run",
					res.RateLabel(), res.ARN, res.CurrentMinRate, newRate, statusOf(res))
				return d
			}
			d.Type = models.LowerMinRate
			d.NewRate = newRate
			d.Reason = fmt.Sprintf("Adjusting %s for %s down from %d to %d based on average rate low watermark of %.2f over the last %d hours",
				res.RateLabel(), res.ARN, res.CurrentMinRate, newRate, summary.MinAverageRate, int(models.SummaryWindow.Hours()))
			return d
		}
	}

	d.Reason = noActionReason(res, summary, e.settings)
	return d
}

func (e *Engine) isIdle(summary *models.UtilizationSummary) bool {
	return e.settings.AutoDeleteOrStopIdleResources &&
		summary.AgeHours >= e.settings.IdleThresholdHours &&
		summary.TotalRequestsInIdleWindow == 0
}

// LowerBoundRate is the lowest minimum rate that still covers the observed
// low watermark. It never goes below 1.
func LowerBoundRate(minAverageRate float64) int {
	if math.IsNaN(minAverageRate) || minAverageRate < 1 {
		return 1
	}
	return int(math.Floor(minAverageRate))
}

func noActionReason(res *models.InferenceResource, summary *models.UtilizationSummary, s Settings) string {
	switch {
	case s.AutoDeleteOrStopIdleResources && summary.TotalRequestsInIdleWindow == 0 && summary.AgeHours < s.IdleThresholdHours:
		return fmt.Sprintf("%s is only %d hours old; too new to consider idle", res.ARN, summary.AgeHours)
	case !s.AutoAdjustMinRate:
		return "automatic rate adjustment is disabled"
	default:
		return fmt.Sprintf("%s of %d is already at or below the observed low watermark of %.2f",
			res.RateLabel(), res.CurrentMinRate, summary.MinAverageRate)
	}
}

func idleVerb(kind models.ResourceKind) string {
	if kind == models.KindRecommender {
		return "stop"
	}
	return "delete"
}

func idleVerbPast(kind models.ResourceKind) string {
	if kind == models.KindRecommender {
		return "stopped"
	}
	return "deleted"
}

func statusOf(res *models.InferenceResource) string {
	if res.LatestUpdateStatus != "" {
		return res.Status + "/" + res.LatestUpdateStatus
	}
	return res.Status
}
