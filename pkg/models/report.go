package models

import "time"

// ResourceResult is the outcome of one resource pipeline
type ResourceResult struct {
	ARN            string        `json:"arn"`
	Name           string        `json:"name"`
	Kind           ResourceKind  `json:"kind"`
	Region         string        `json:"region"`
	Decision       *Decision     `json:"decision,omitempty"`
	AlarmsCreated  int           `json:"alarmsCreated"`
	EventPublished bool          `json:"eventPublished"`
	Err            error         `json:"-"`
	ErrorKind      ErrorKind     `json:"errorKind,omitempty"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// PassReport summarizes one monitoring pass
type PassReport struct {
	ID                  string               `json:"id"`
	StartedAt           time.Time            `json:"startedAt"`
	FinishedAt          time.Time            `json:"finishedAt"`
	Regions             []string             `json:"regions"`
	ResourcesDiscovered int                  `json:"resourcesDiscovered"`
	ResourcesEvaluated  int                  `json:"resourcesEvaluated"`
	Decisions           map[DecisionType]int `json:"decisions"`
	AlarmsCreated       int                  `json:"alarmsCreated"`
	EventsPublished     int                  `json:"eventsPublished"`
	DashboardRebuild    bool                 `json:"dashboardRebuild"`
	ErrorCounts         map[ErrorKind]int    `json:"errorCounts"`
	Errors              []string             `json:"errors,omitempty"`
	Results             []ResourceResult     `json:"results"`
}

// NewPassReport creates an empty report
func NewPassReport(id string, started time.Time) *PassReport {
	return &PassReport{
		ID:          id,
		StartedAt:   started,
		Decisions:   make(map[DecisionType]int),
		ErrorCounts: make(map[ErrorKind]int),
	}
}

// RecordError counts err under its kind
func (r *PassReport) RecordError(err error) {
	if err == nil {
		return
	}
	r.ErrorCounts[KindOf(err)]++
	r.Errors = append(r.Errors, err.Error())
}

// ErrorTotal is the number of recorded errors of all kinds
func (r *PassReport) ErrorTotal() int {
	total := 0
	for _, n := range r.ErrorCounts {
		total += n
	}
	return total
}

func (r *PassReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
