package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opscart/personalize-monitor/pkg/models"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func defaultRule() AlarmRule {
	return AlarmRule{Threshold: 100, EvaluationPeriods: 12, DatapointsToAlarm: 9, Period: 5 * time.Minute}
}

// window builds 12 consecutive five-minute samples with the first `low` below threshold
func window(low int) []models.Sample {
	samples := make([]models.Sample, 12)
	for i := range samples {
		v := 150.0
		if i < low {
			v = 40
		}
		samples[i] = models.Sample{Timestamp: base.Add(time.Duration(i) * 5 * time.Minute), Value: v}
	}
	return samples
}

func TestNineOfTwelveAlarms(t *testing.T) {
	e := NewAlarmEvaluator(defaultRule())
	assert.Equal(t, models.AlarmStateAlarm, e.Replay(window(9), true))
}

func TestEightOfTwelveStaysOK(t *testing.T) {
	e := NewAlarmEvaluator(defaultRule())
	assert.Equal(t, models.AlarmStateOK, e.Replay(window(8), true))
}

func TestReplayTransitionsOnce(t *testing.T) {
	e := NewAlarmEvaluator(defaultRule())

	transitions := 0
	samples := window(12)
	for pass := 0; pass < 2; pass++ {
		for _, s := range samples {
			if e.Observe(s.Timestamp, s.Value, true) {
				transitions++
			}
		}
	}

	assert.Equal(t, 1, transitions)
	assert.Equal(t, models.AlarmStateAlarm, e.State())
}

func TestOrderIndependent(t *testing.T) {
	samples := window(9)
	reversed := make([]models.Sample, len(samples))
	for i, s := range samples {
		reversed[len(samples)-1-i] = s
	}

	forward := NewAlarmEvaluator(defaultRule()).Replay(samples, true)
	backward := NewAlarmEvaluator(defaultRule()).Replay(reversed, true)
	assert.Equal(t, forward, backward)
}

func TestRecoveryNeedsSameCount(t *testing.T) {
	e := NewAlarmEvaluator(defaultRule())
	e.Replay(window(12), true)
	assert.Equal(t, models.AlarmStateAlarm, e.State())

	next := base.Add(12 * 5 * time.Minute)
	for i := 0; i < 8; i++ {
		e.Observe(next.Add(time.Duration(i)*5*time.Minute), 200, true)
	}
	assert.Equal(t, models.AlarmStateAlarm, e.State(), "8 healthy periods are not enough")

	changed := e.Observe(next.Add(8*5*time.Minute), 200, true)
	assert.True(t, changed)
	assert.Equal(t, models.AlarmStateOK, e.State())
}

func TestMissingPeriodsIgnored(t *testing.T) {
	e := NewAlarmEvaluator(defaultRule())
	// 8 breaching periods spread over 12 with gaps never reach 9
	for i := 0; i < 12; i += 3 {
		e.Observe(base.Add(time.Duration(i)*5*time.Minute), 10, true)
		e.Observe(base.Add(time.Duration(i+1)*5*time.Minute), 10, true)
	}
	assert.Equal(t, models.AlarmStateOK, e.State())
}

func TestUndefinedUtilizationNeverBreaches(t *testing.T) {
	e := NewAlarmEvaluator(defaultRule())
	assert.Equal(t, models.AlarmStateOK, e.Replay(window(12), false))
}

func TestStaleSamplesIgnored(t *testing.T) {
	e := NewAlarmEvaluator(defaultRule())
	e.Observe(base.Add(24*time.Hour), 200, true)
	assert.False(t, e.Observe(base, 10, true))
	assert.Len(t, e.buffer, 1)
}
