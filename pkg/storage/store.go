package storage

import (
	"context"
	"time"

	"github.com/opscart/personalize-monitor/pkg/models"
)

// Store persists pass reports and the decisions they produced
type Store interface {
	SavePass(ctx context.Context, report *models.PassReport) error
	ListDecisions(ctx context.Context, filter DecisionFilter) ([]*models.DecisionRecord, error)

	Ping(ctx context.Context) error
	Close() error
}

// DecisionFilter narrows ListDecisions. Zero values match everything.
type DecisionFilter struct {
	ResourceARN    string
	Since          time.Time
	ActionableOnly bool
	Limit          int
}

// DecisionRecord flattens a decision of a finished resource pipeline for storage
func DecisionRecord(passID string, result models.ResourceResult) *models.DecisionRecord {
	d := result.Decision
	if d == nil {
		return nil
	}
	rec := &models.DecisionRecord{
		ID:             d.ID,
		PassID:         passID,
		ResourceARN:    result.ARN,
		ResourceKind:   result.Kind,
		Region:         result.Region,
		Type:           d.Type,
		NewRate:        d.NewRate,
		Reason:         d.Reason,
		EventPublished: result.EventPublished,
		CreatedAt:      d.CreatedAt,
	}
	if d.Resource != nil {
		rec.CurrentMinRate = d.Resource.CurrentMinRate
	}
	if d.Summary != nil {
		rec.AverageRate = d.Summary.AverageRate
		rec.Utilization = d.Summary.Utilization()
		rec.AgeHours = d.Summary.AgeHours
	}
	return rec
}
