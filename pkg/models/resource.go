package models

import (
	"strings"
	"time"
)

// ResourceKind distinguishes the two kinds of inference endpoints we monitor
type ResourceKind string

const (
	KindCampaign    ResourceKind = "campaign"
	KindRecommender ResourceKind = "recommender"
)

// Resource status values reported by Personalize
const (
	StatusActive           = "ACTIVE"
	StatusCreateFailed     = "CREATE FAILED"
	StatusDeletePending    = "DELETE PENDING"
	StatusDeleteInProgress = "DELETE IN_PROGRESS"
)

// InferenceResource is a campaign or recommender as seen during one pass.
// It is rediscovered every pass and never persisted by the monitor itself.
type InferenceResource struct {
	ARN              string
	Name             string
	Kind             ResourceKind
	Region           string
	DatasetGroupName string
	DatasetGroupARN  string
	RecipeARN        string

	// CurrentMinRate is minProvisionedTPS for campaigns and
	// minRecommendationRequestsPerSecond for recommenders
	CurrentMinRate int

	CreatedAt          time.Time
	LastUpdatedAt      time.Time
	Status             string
	LatestUpdateStatus string
}

// Updatable reports whether the resource can accept a configuration change right now
func (r *InferenceResource) Updatable() bool {
	ok := func(s string) bool { return s == StatusActive || s == StatusCreateFailed }
	if !ok(r.Status) {
		return false
	}
	return r.LatestUpdateStatus == "" || ok(r.LatestUpdateStatus)
}

// Deleting reports whether the resource or its latest update is being torn down
func (r *InferenceResource) Deleting() bool {
	for _, s := range []string{r.Status, r.LatestUpdateStatus} {
		if s == StatusDeletePending || s == StatusDeleteInProgress {
			return true
		}
	}
	return false
}

// AgeHours is the whole number of hours since the resource was created
func (r *InferenceResource) AgeHours(now time.Time) int {
	if r.CreatedAt.IsZero() || now.Before(r.CreatedAt) {
		return 0
	}
	return int(now.Sub(r.CreatedAt) / time.Hour)
}

// DimensionName is the CloudWatch dimension that identifies the resource
func (r *InferenceResource) DimensionName() string {
	if r.Kind == KindRecommender {
		return "RecommenderArn"
	}
	return "CampaignArn"
}

// RateLabel is the short label used in reasons and event details
func (r *InferenceResource) RateLabel() string {
	if r.Kind == KindRecommender {
		return "minRecommendationRequestsPerSecond"
	}
	return "minProvisionedTPS"
}

// Label is a human-readable kind name
func (k ResourceKind) Label() string {
	if k == KindRecommender {
		return "Recommender"
	}
	return "Campaign"
}

// Request metric names published by Personalize
const (
	MetricGetRecommendations     = "GetRecommendations"
	MetricGetPersonalizedRanking = "GetPersonalizedRanking"
)

// RequestMetricName is the AWS/Personalize metric counting inference requests
// for the resource. Ranking campaigns report under their own metric.
func (r *InferenceResource) RequestMetricName() string {
	if r.Kind == KindCampaign && strings.Contains(r.RecipeARN, "recipe/aws-personalized-ranking") {
		return MetricGetPersonalizedRanking
	}
	return MetricGetRecommendations
}
