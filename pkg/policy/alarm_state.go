package policy

import (
	"sort"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/opscart/personalize-monitor/pkg/models"
)

const (
	triggerBreached  = "breached"
	triggerRecovered = "recovered"
)

// AlarmRule is an M-of-N threshold rule over fixed periods
type AlarmRule struct {
	Threshold         float64
	EvaluationPeriods int
	DatapointsToAlarm int
	Period            time.Duration
}

type observation struct {
	at        time.Time
	breaching bool
}

// AlarmEvaluator tracks a utilization alarm across observations. The
// evaluation buffer covers the trailing EvaluationPeriods periods; periods
// without data do not count either way. Each period is counted once, so
// replaying a window does not produce further transitions.
type AlarmEvaluator struct {
	rule    AlarmRule
	machine *stateless.StateMachine
	buffer  []observation
	newest  time.Time
}

func NewAlarmEvaluator(rule AlarmRule) *AlarmEvaluator {
	if rule.Period <= 0 {
		rule.Period = models.DefaultPeriod
	}

	machine := stateless.NewStateMachine(models.AlarmStateOK)

	machine.Configure(models.AlarmStateOK).
		Permit(triggerBreached, models.AlarmStateAlarm).
		Ignore(triggerRecovered)

	machine.Configure(models.AlarmStateAlarm).
		Permit(triggerRecovered, models.AlarmStateOK).
		Ignore(triggerBreached)

	return &AlarmEvaluator{rule: rule, machine: machine}
}

// State is the current alarm state
func (e *AlarmEvaluator) State() models.AlarmState {
	return e.machine.MustState().(models.AlarmState)
}

func (e *AlarmEvaluator) span() time.Duration {
	return time.Duration(e.rule.EvaluationPeriods) * e.rule.Period
}

// Observe adds the utilization for the period starting at at and reports
// whether the alarm changed state. Undefined utilization never breaches.
func (e *AlarmEvaluator) Observe(at time.Time, utilization float64, defined bool) bool {
	at = at.Truncate(e.rule.Period)
	if !e.newest.IsZero() && !at.After(e.newest.Add(-e.span())) {
		return false
	}

	i := sort.Search(len(e.buffer), func(i int) bool { return !e.buffer[i].at.Before(at) })
	if i < len(e.buffer) && e.buffer[i].at.Equal(at) {
		return false
	}
	e.buffer = append(e.buffer, observation{})
	copy(e.buffer[i+1:], e.buffer[i:])
	e.buffer[i] = observation{at: at, breaching: defined && utilization < e.rule.Threshold}

	if at.After(e.newest) {
		e.newest = at
	}

	// drop periods that fell out of the evaluation range
	cutoff := e.newest.Add(-e.span())
	j := sort.Search(len(e.buffer), func(i int) bool { return e.buffer[i].at.After(cutoff) })
	e.buffer = e.buffer[j:]

	breaching := 0
	for _, o := range e.buffer {
		if o.breaching {
			breaching++
		}
	}
	healthy := len(e.buffer) - breaching

	before := e.State()
	var err error
	switch before {
	case models.AlarmStateOK:
		if breaching >= e.rule.DatapointsToAlarm {
			err = e.machine.Fire(triggerBreached)
		}
	case models.AlarmStateAlarm:
		if healthy >= e.rule.DatapointsToAlarm {
			err = e.machine.Fire(triggerRecovered)
		}
	}
	return err == nil && e.State() != before
}

// Replay feeds a series of per-period utilizations and returns the final state
func (e *AlarmEvaluator) Replay(samples []models.Sample, defined bool) models.AlarmState {
	for _, s := range samples {
		e.Observe(s.Timestamp, s.Value, defined)
	}
	return e.State()
}
