package policy

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opscart/personalize-monitor/pkg/models"
)

func activeCampaign(minRate int) *models.InferenceResource {
	return &models.InferenceResource{
		ARN:            "arn:aws:personalize:us-east-1:123456789012:campaign/R1",
		Name:           "R1",
		Kind:           models.KindCampaign,
		Region:         "us-east-1",
		CurrentMinRate: minRate,
		Status:         models.StatusActive,
	}
}

func defaultSettings() Settings {
	return Settings{IdleThresholdHours: 24, AutoDeleteOrStopIdleResources: true, AutoAdjustMinRate: true}
}

func TestLowerMinRateScenario(t *testing.T) {
	engine := NewEngine(defaultSettings())
	summary := &models.UtilizationSummary{
		AverageRate:               3,
		MinAverageRate:            2.4,
		MaxAverageRate:            4,
		AgeHours:                  100,
		TotalRequestsInIdleWindow: 50000,
	}

	d := engine.Evaluate(activeCampaign(10), summary)

	require.Equal(t, models.LowerMinRate, d.Type)
	assert.Equal(t, 2, d.NewRate)
	assert.Contains(t, d.Reason, "from 10 to 2")
	assert.Contains(t, d.Reason, "2.40")
}

func TestMarkIdleScenario(t *testing.T) {
	engine := NewEngine(defaultSettings())
	summary := &models.UtilizationSummary{AgeHours: 30}

	res := activeCampaign(5)
	res.Name = "R2"
	d := engine.Evaluate(res, summary)

	assert.Equal(t, models.MarkIdle, d.Type)
	assert.Equal(t, 0, d.NewRate)
	assert.Contains(t, d.Reason, "idle for at least 24 hours")
	assert.Contains(t, d.Reason, "delete")
}

func TestMarkIdleRecommenderStops(t *testing.T) {
	engine := NewEngine(defaultSettings())
	res := activeCampaign(5)
	res.Kind = models.KindRecommender

	d := engine.Evaluate(res, &models.UtilizationSummary{AgeHours: 48})
	assert.Equal(t, models.MarkIdle, d.Type)
	assert.Contains(t, d.Reason, "stop")
}

func TestIdleRequiresAgeAndFlag(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		age      int
		requests float64
		want     models.DecisionType
	}{
		{"too young", defaultSettings(), 23, 0, models.LowerMinRate},
		{"had traffic", defaultSettings(), 30, 1, models.LowerMinRate},
		{"idle action disabled", Settings{IdleThresholdHours: 24, AutoAdjustMinRate: true}, 30, 0, models.LowerMinRate},
		{"exactly at threshold", defaultSettings(), 24, 0, models.MarkIdle},
		{"everything disabled", Settings{IdleThresholdHours: 24}, 30, 0, models.NoAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewEngine(tt.settings).Evaluate(activeCampaign(5), &models.UtilizationSummary{
				AgeHours:                  tt.age,
				TotalRequestsInIdleWindow: tt.requests,
			})
			if d.Type != tt.want {
				t.Errorf("Expected %s, got %s (%s)", tt.want, d.Type, d.Reason)
			}
		})
	}
}

func TestRateNeverRaised(t *testing.T) {
	engine := NewEngine(defaultSettings())
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		current := rng.Intn(50) + 1
		minAvg := rng.Float64() * 60
		summary := &models.UtilizationSummary{
			MinAverageRate:            minAvg,
			AgeHours:                  100,
			TotalRequestsInIdleWindow: 1,
		}

		d := engine.Evaluate(activeCampaign(current), summary)

		want := int(math.Max(1, math.Floor(minAvg)))
		switch {
		case want < current:
			if d.Type != models.LowerMinRate || d.NewRate != want {
				t.Fatalf("current=%d min=%.3f: expected LowerMinRate to %d, got %s %d", current, minAvg, want, d.Type, d.NewRate)
			}
		default:
			if d.Type != models.NoAction {
				t.Fatalf("current=%d min=%.3f: expected NoAction, got %s %d", current, minAvg, d.Type, d.NewRate)
			}
		}
		if d.NewRate > current {
			t.Fatalf("rate raised from %d to %d", current, d.NewRate)
		}
	}
}

func TestIdleTakesPrecedence(t *testing.T) {
	engine := NewEngine(defaultSettings())
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		summary := &models.UtilizationSummary{
			MinAverageRate: rng.Float64() * 3,
			AgeHours:       24 + rng.Intn(100),
		}
		d := engine.Evaluate(activeCampaign(rng.Intn(20)+2), summary)
		if d.Type != models.MarkIdle {
			t.Fatalf("Expected MarkIdle, got %s", d.Type)
		}
	}
}

func TestNotUpdatableSuppressesActions(t *testing.T) {
	engine := NewEngine(defaultSettings())

	res := activeCampaign(10)
	res.LatestUpdateStatus = "UPDATE IN_PROGRESS"

	d := engine.Evaluate(res, &models.UtilizationSummary{MinAverageRate: 2, AgeHours: 100, TotalRequestsInIdleWindow: 10})
	assert.Equal(t, models.NoAction, d.Type)
	assert.True(t, strings.Contains(d.Reason, "does not allow updates"), d.Reason)

	d = engine.Evaluate(res, &models.UtilizationSummary{AgeHours: 100})
	assert.Equal(t, models.NoAction, d.Type)
	assert.Contains(t, d.Reason, "does not allow it to be deleted")
}

func TestLowerBoundRate(t *testing.T) {
	assert.Equal(t, 1, LowerBoundRate(0))
	assert.Equal(t, 1, LowerBoundRate(0.99))
	assert.Equal(t, 1, LowerBoundRate(math.NaN()))
	assert.Equal(t, 3, LowerBoundRate(3.999))
	assert.Equal(t, 12, LowerBoundRate(12))
}
