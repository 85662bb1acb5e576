package models

import "time"

// EventSource is the bus source of every event the monitor publishes
const EventSource = "personalize.monitor"

type EventType string

const (
	EventUpdateMinRate    EventType = "UpdateMinRate"
	EventMarkIdle         EventType = "MarkIdle"
	EventRebuildDashboard EventType = "RebuildDashboard"
)

// Detail types consumed by the downstream actors
const (
	DetailUpdateCampaignMinTPS     = "UpdatePersonalizeCampaignMinProvisionedTPS"
	DetailUpdateRecommenderMinRPS  = "UpdatePersonalizeRecommenderMinRecommendationRPS"
	DetailDeleteCampaign           = "DeletePersonalizeCampaign"
	DetailStopRecommender          = "StopPersonalizeRecommender"
	DetailBuildDashboard           = "BuildPersonalizeMonitorDashboard"
	DetailCampaignMinTPSUpdated    = "PersonalizeCampaignMinProvisionedTPSUpdated"
	DetailCampaignDeleted          = "PersonalizeCampaignDeleted"
	DetailRecommenderMinRPSUpdated = "PersonalizeRecommenderMinRecommendationRPSUpdated"
	DetailRecommenderStopped       = "PersonalizeRecommenderStopped"
)

// DecisionEvent is one published decision
type DecisionEvent struct {
	ID          string
	Type        EventType
	DetailType  string
	ResourceARN string
	Region      string
	Detail      map[string]any
	Time        time.Time
}
