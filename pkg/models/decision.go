package models

import "time"

type DecisionType string

const (
	NoAction     DecisionType = "NO_ACTION"
	LowerMinRate DecisionType = "LOWER_MIN_RATE"
	MarkIdle     DecisionType = "MARK_IDLE"
)

// Decision is the policy outcome for one resource in one pass. It is built
// fresh every pass and not mutated afterwards.
type Decision struct {
	ID        string              `json:"id"`
	PassID    string              `json:"passId"`
	Type      DecisionType        `json:"type"`
	Resource  *InferenceResource  `json:"-"`
	Summary   *UtilizationSummary `json:"summary,omitempty"`
	NewRate   int                 `json:"newRate,omitempty"`
	Reason    string              `json:"reason"`
	CreatedAt time.Time           `json:"createdAt"`
}

// Actionable reports whether the decision results in an event
func (d *Decision) Actionable() bool {
	return d != nil && d.Type != NoAction
}

// DecisionRecord is the persisted form of a decision
type DecisionRecord struct {
	ID             string
	PassID         string
	ResourceARN    string
	ResourceKind   ResourceKind
	Region         string
	Type           DecisionType
	CurrentMinRate int
	NewRate        int
	AverageRate    float64
	Utilization    *float64
	AgeHours       int
	Reason         string
	EventPublished bool
	CreatedAt      time.Time
}
