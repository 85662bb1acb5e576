package alarms

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opscart/personalize-monitor/pkg/models"
)

// memoryStore is an in-memory alarm store that counts writes
type memoryStore struct {
	mu      sync.Mutex
	alarms  map[string]models.AlarmSpec
	actions map[string]bool
	puts    int
	toggles int
	deletes int
	failFor string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{alarms: make(map[string]models.AlarmSpec), actions: make(map[string]bool)}
}

func (s *memoryStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts + s.toggles + s.deletes
}

func (s *memoryStore) ForMetric(_ context.Context, region, namespace, metricName, dimName, dimValue string) ([]models.ExistingAlarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor != "" && s.failFor == metricName {
		return nil, errors.New("throttled")
	}
	var out []models.ExistingAlarm
	for _, a := range s.alarms {
		if a.Region == region && a.Namespace == namespace && a.MetricName == metricName && a.Dimension == dimName && a.ResourceARN == dimValue {
			out = append(out, s.existing(a))
		}
	}
	return out, nil
}

func (s *memoryStore) existing(a models.AlarmSpec) models.ExistingAlarm {
	return models.ExistingAlarm{
		Name:           a.Name,
		ARN:            "arn:aws:cloudwatch:" + a.Region + ":123456789012:alarm:" + a.Name,
		Comparison:     a.Comparison,
		Threshold:      a.Threshold,
		ActionsEnabled: s.actions[a.Name],
		AlarmActions:   a.ActionARNs,
		Dimensions:     map[string]string{a.Dimension: a.ResourceARN},
		Tags:           a.Tags,
	}
}

func (s *memoryStore) Put(_ context.Context, spec models.AlarmSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	s.alarms[spec.Name] = spec
	s.actions[spec.Name] = spec.ActionsEnabled
	return nil
}

func (s *memoryStore) SetActionsEnabled(_ context.Context, _, name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toggles++
	s.actions[name] = enabled
	return nil
}

func (s *memoryStore) ListOwned(_ context.Context, region string) ([]models.ExistingAlarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ExistingAlarm
	for _, a := range s.alarms {
		if a.Region == region && strings.HasPrefix(a.Name, models.AlarmNamePrefix) && a.Tags[models.OwnerTagKey] == models.OwnerTagValue {
			out = append(out, s.existing(a))
		}
	}
	return out, nil
}

func (s *memoryStore) Delete(_ context.Context, _ string, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range names {
		s.deletes++
		delete(s.alarms, n)
	}
	return nil
}

func testResource(name string, kind models.ResourceKind, minRate int) *models.InferenceResource {
	return &models.InferenceResource{
		ARN:            "arn:aws:personalize:us-east-1:123456789012:" + string(kind) + "/" + name,
		Name:           name,
		Kind:           kind,
		Region:         "us-east-1",
		CurrentMinRate: minRate,
		Status:         models.StatusActive,
	}
}

func testManager(store Store) *Manager {
	return NewManager(store, Options{
		UtilizationAlarms:    true,
		UtilizationThreshold: 100,
		IdleAlarms:           true,
		IdleThresholdHours:   24,
		ActionTargets: func(region string) []string {
			return []string{"arn:aws:sns:" + region + ":123456789012:PersonalizeMonitorNotifications"}
		},
	}, zerolog.Nop())
}

func TestSpecs(t *testing.T) {
	m := testManager(newMemoryStore())
	specs := m.Specs(testResource("movies", models.KindCampaign, 5), &models.UtilizationSummary{AgeHours: 30})
	require.Len(t, specs, 2)

	util, idle := specs[0], specs[1]
	assert.Equal(t, "PersonalizeMonitor-LowCampaignUtilization-movies", util.Name)
	assert.Equal(t, "PersonalizeMonitor", util.Namespace)
	assert.Equal(t, "campaignUtilization", util.MetricName)
	assert.Equal(t, "Average", util.Statistic)
	assert.Equal(t, int32(12), util.EvaluationPeriods)
	assert.Equal(t, int32(9), util.DatapointsToAlarm)
	assert.Equal(t, models.CompareLessThan, util.Comparison)
	assert.Equal(t, models.MissingDataMissing, util.TreatMissingData)
	assert.True(t, util.ActionsEnabled)

	assert.Equal(t, "PersonalizeMonitor-IdleCampaign-movies", idle.Name)
	assert.Equal(t, "AWS/Personalize", idle.Namespace)
	assert.Equal(t, "GetRecommendations", idle.MetricName)
	assert.Equal(t, "Sum", idle.Statistic)
	assert.Equal(t, int32(288), idle.EvaluationPeriods)
	assert.Equal(t, 0.0, idle.Threshold)
	assert.Equal(t, models.CompareLessThanOrEqualTo, idle.Comparison)
	assert.Equal(t, models.MissingDataBreaching, idle.TreatMissingData)
	assert.True(t, idle.ActionsEnabled)

	for _, s := range specs {
		assert.Equal(t, "CampaignArn", s.Dimension)
		assert.Equal(t, models.OwnerTagValue, s.Tags[models.OwnerTagKey])
		assert.Equal(t, []string{"arn:aws:sns:us-east-1:123456789012:PersonalizeMonitorNotifications"}, s.ActionARNs)
	}
}

func TestSpecsActionsDisabled(t *testing.T) {
	m := testManager(newMemoryStore())
	specs := m.Specs(testResource("shows", models.KindRecommender, 1), &models.UtilizationSummary{AgeHours: 3})
	require.Len(t, specs, 2)

	assert.Equal(t, "PersonalizeMonitor-LowRecommenderUtilization-shows", specs[0].Name)
	assert.Equal(t, "recommenderUtilization", specs[0].MetricName)
	assert.False(t, specs[0].ActionsEnabled, "minimum rate of 1 cannot be lowered")

	assert.Equal(t, "PersonalizeMonitor-IdleRecommender-shows", specs[1].Name)
	assert.Equal(t, "RecommenderArn", specs[1].Dimension)
	assert.False(t, specs[1].ActionsEnabled, "younger than the idle threshold")
}

func TestSpecsDisabledKinds(t *testing.T) {
	m := NewManager(newMemoryStore(), Options{IdleAlarms: true, IdleThresholdHours: 2}, zerolog.Nop())
	specs := m.Specs(testResource("a", models.KindCampaign, 2), &models.UtilizationSummary{})
	require.Len(t, specs, 1)
	assert.Equal(t, models.AlarmIdle, specs[0].Kind)
	assert.Equal(t, int32(24), specs[0].EvaluationPeriods)
}

func TestSpecsLongIdleWindowUsesHourlyPeriods(t *testing.T) {
	for _, tc := range []struct {
		hours   int
		period  int32
		periods int32
	}{
		{hours: 2, period: 300, periods: 24},
		{hours: 24, period: 300, periods: 288},
		{hours: 25, period: 3600, periods: 25},
		{hours: 48, period: 3600, periods: 48},
	} {
		m := NewManager(newMemoryStore(), Options{IdleAlarms: true, IdleThresholdHours: tc.hours}, zerolog.Nop())
		specs := m.Specs(testResource("a", models.KindCampaign, 2), &models.UtilizationSummary{})
		require.Len(t, specs, 1)
		idle := specs[0]
		assert.Equal(t, tc.period, idle.PeriodSeconds, "%dh", tc.hours)
		assert.Equal(t, tc.periods, idle.EvaluationPeriods, "%dh", tc.hours)
		assert.Equal(t, tc.periods, idle.DatapointsToAlarm, "%dh", tc.hours)
		assert.Equal(t, int64(tc.hours)*3600, int64(idle.PeriodSeconds)*int64(idle.EvaluationPeriods))
		if idle.PeriodSeconds < 3600 {
			assert.LessOrEqual(t, int64(idle.PeriodSeconds)*int64(idle.EvaluationPeriods), int64(86400))
		}
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	m := testManager(store)
	res := testResource("movies", models.KindCampaign, 5)
	summary := &models.UtilizationSummary{AgeHours: 30}

	created, err := m.Reconcile(context.Background(), res, summary)
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Equal(t, 2, store.writes())

	created, err = m.Reconcile(context.Background(), res, summary)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Equal(t, 2, store.writes(), "second reconcile must not write")
}

func TestReconcileTogglesActions(t *testing.T) {
	store := newMemoryStore()
	m := testManager(store)
	res := testResource("movies", models.KindCampaign, 1)

	_, err := m.Reconcile(context.Background(), res, &models.UtilizationSummary{AgeHours: 1})
	require.NoError(t, err)
	assert.False(t, store.actions["PersonalizeMonitor-IdleCampaign-movies"])
	assert.False(t, store.actions["PersonalizeMonitor-LowCampaignUtilization-movies"])

	res.CurrentMinRate = 4
	created, err := m.Reconcile(context.Background(), res, &models.UtilizationSummary{AgeHours: 25})
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Equal(t, 2, store.toggles)
	assert.True(t, store.actions["PersonalizeMonitor-IdleCampaign-movies"])
	assert.True(t, store.actions["PersonalizeMonitor-LowCampaignUtilization-movies"])
}

func TestReconcileAddsActionsOnceTopicExists(t *testing.T) {
	store := newMemoryStore()
	var topic []string
	m := NewManager(store, Options{
		UtilizationAlarms:    true,
		UtilizationThreshold: 100,
		IdleAlarms:           true,
		IdleThresholdHours:   24,
		ActionTargets:        func(string) []string { return topic },
	}, zerolog.Nop())
	res := testResource("movies", models.KindCampaign, 5)
	summary := &models.UtilizationSummary{AgeHours: 30}

	created, err := m.Reconcile(context.Background(), res, summary)
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	for _, a := range store.alarms {
		assert.Empty(t, a.ActionARNs)
	}

	topic = []string{"arn:aws:sns:us-east-1:123456789012:PersonalizeMonitorNotifications"}
	created, err = m.Reconcile(context.Background(), res, summary)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Equal(t, 4, store.puts)
	for name, a := range store.alarms {
		assert.Equal(t, topic, a.ActionARNs, name)
	}

	_, err = m.Reconcile(context.Background(), res, summary)
	require.NoError(t, err)
	assert.Equal(t, 4, store.writes(), "actions already in place")
}

func TestReconcileIgnoresForeignAlarms(t *testing.T) {
	store := newMemoryStore()
	res := testResource("movies", models.KindCampaign, 5)
	// a user alarm on the same metric with a different name
	store.alarms["my-high-traffic-alarm"] = models.AlarmSpec{
		Name: "my-high-traffic-alarm", Region: res.Region, Namespace: "AWS/Personalize",
		MetricName: "GetRecommendations", Dimension: "CampaignArn", ResourceARN: res.ARN,
		Comparison: "GreaterThanThreshold", Threshold: 1000,
	}

	created, err := testManager(store).Reconcile(context.Background(), res, &models.UtilizationSummary{AgeHours: 30})
	require.NoError(t, err)
	assert.Equal(t, 2, created)
}

func TestReconcileStoreErrorIsPerKind(t *testing.T) {
	store := newMemoryStore()
	store.failFor = "campaignUtilization"

	created, err := testManager(store).Reconcile(context.Background(), testResource("movies", models.KindCampaign, 5), &models.UtilizationSummary{AgeHours: 30})
	require.Error(t, err)
	assert.Equal(t, 1, created, "idle alarm is still created")
	assert.Equal(t, models.ErrKindAlarmStore, models.KindOf(err))
}

func TestDeleteForResource(t *testing.T) {
	store := newMemoryStore()
	m := testManager(store)
	movies := testResource("movies", models.KindCampaign, 5)
	shows := testResource("shows", models.KindRecommender, 5)
	for _, r := range []*models.InferenceResource{movies, shows} {
		_, err := m.Reconcile(context.Background(), r, &models.UtilizationSummary{AgeHours: 30})
		require.NoError(t, err)
	}

	deleted, err := m.DeleteForResource(context.Background(), movies.ARN)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Len(t, store.alarms, 2)
	for name := range store.alarms {
		assert.Contains(t, name, "shows")
	}

	deleted, err = m.DeleteForResource(context.Background(), movies.ARN)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	_, err = m.DeleteForResource(context.Background(), "not-an-arn")
	assert.Error(t, err)
}

func TestDeleteAllKeepsUnownedAlarms(t *testing.T) {
	store := newMemoryStore()
	m := testManager(store)
	_, err := m.Reconcile(context.Background(), testResource("movies", models.KindCampaign, 5), &models.UtilizationSummary{AgeHours: 30})
	require.NoError(t, err)
	store.alarms["PersonalizeMonitor-handmade"] = models.AlarmSpec{Name: "PersonalizeMonitor-handmade", Region: "us-east-1"}

	deleted, err := m.DeleteAll(context.Background(), "us-east-1")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Len(t, store.alarms, 1)

	deleted, err = m.DeleteAll(context.Background(), "eu-west-1")
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}
