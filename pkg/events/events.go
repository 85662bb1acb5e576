// Package events turns decisions into bus events for the downstream actors.
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opscart/personalize-monitor/pkg/models"
)

// Detail keys shared by the downstream actors
const (
	KeyARN                     = "ARN"
	KeyRegion                  = "Region"
	KeyUtilization             = "Utilization"
	KeyAgeHours                = "AgeHours"
	KeyCurrentMinTPS           = "CurrentMinTPS"
	KeyNewMinTPS               = "NewMinTPS"
	KeyMinAverageTPS           = "MinAverageTPS"
	KeyMaxAverageTPS           = "MaxAverageTPS"
	KeyDatapoints              = "Datapoints"
	KeyIdleThresholdHours      = "IdleThresholdHours"
	KeyTotalRequestsDuringIdle = "TotalRequestsDuringIdleThresholdHours"
	KeyReason                  = "Reason"
)

// DetailType is the bus detail type for an event type on a resource kind
func DetailType(t models.EventType, kind models.ResourceKind) string {
	switch t {
	case models.EventUpdateMinRate:
		if kind == models.KindRecommender {
			return models.DetailUpdateRecommenderMinRPS
		}
		return models.DetailUpdateCampaignMinTPS
	case models.EventMarkIdle:
		if kind == models.KindRecommender {
			return models.DetailStopRecommender
		}
		return models.DetailDeleteCampaign
	case models.EventRebuildDashboard:
		return models.DetailBuildDashboard
	}
	return ""
}

// FromDecision builds the event for an actionable decision. It returns
// false for NoAction.
func FromDecision(d *models.Decision, now time.Time) (models.DecisionEvent, bool) {
	if !d.Actionable() || d.Resource == nil || d.Summary == nil {
		return models.DecisionEvent{}, false
	}
	res, s := d.Resource, d.Summary

	detail := map[string]any{
		KeyARN:         res.ARN,
		KeyRegion:      res.Region,
		KeyUtilization: s.Utilization(),
		KeyAgeHours:    s.AgeHours,
		KeyReason:      d.Reason,
	}

	var t models.EventType
	switch d.Type {
	case models.LowerMinRate:
		t = models.EventUpdateMinRate
		datapoints := s.Datapoints
		if datapoints == nil {
			datapoints = []float64{}
		}
		detail[KeyCurrentMinTPS] = res.CurrentMinRate
		detail[KeyNewMinTPS] = d.NewRate
		detail[KeyMinAverageTPS] = s.MinAverageRate
		detail[KeyMaxAverageTPS] = s.MaxAverageRate
		detail[KeyDatapoints] = datapoints
	case models.MarkIdle:
		t = models.EventMarkIdle
		detail[KeyIdleThresholdHours] = s.IdleThresholdHours
		detail[KeyTotalRequestsDuringIdle] = s.TotalRequestsInIdleWindow
	default:
		return models.DecisionEvent{}, false
	}

	return models.DecisionEvent{
		ID:          uuid.NewString(),
		Type:        t,
		DetailType:  DetailType(t, res.Kind),
		ResourceARN: res.ARN,
		Region:      res.Region,
		Detail:      detail,
		Time:        now,
	}, true
}

// DashboardRebuild is the event asking for the dashboard to be rebuilt
// after alarmsCreated new alarms appeared
func DashboardRebuild(region string, alarmsCreated int, now time.Time) models.DecisionEvent {
	return models.DecisionEvent{
		ID:         uuid.NewString(),
		Type:       models.EventRebuildDashboard,
		DetailType: models.DetailBuildDashboard,
		Region:     region,
		Detail: map[string]any{
			KeyReason: fmt.Sprintf("Triggered rebuild due to %d new alarm(s) being created", alarmsCreated),
		},
		Time: now,
	}
}
