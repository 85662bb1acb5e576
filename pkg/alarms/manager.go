// Package alarms keeps one idle and one utilization alarm per monitored resource.
package alarms

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/opscart/personalize-monitor/pkg/arn"
	"github.com/opscart/personalize-monitor/pkg/datasource"
	"github.com/opscart/personalize-monitor/pkg/models"
)

// PeriodSeconds is the period of the utilization alarm and of idle alarms up to MaxShortPeriodHours
const PeriodSeconds = 300

// MaxShortPeriodHours is the longest idle window evaluated at PeriodSeconds.
// Longer windows use hourly periods.
const MaxShortPeriodHours = 24

// Utilization alarm window: 9 breaching of the last 12 periods (45 of 60 minutes)
const (
	DefaultEvaluationPeriods = 12
	DefaultDatapointsToAlarm = 9
)

const (
	utilizationDescription = "Alarms when utilization falls below threshold indicating possible over provisioning condition"
	idleDescription        = "Alarms when there are no requests for a contiguous length of time indicating a potentially abandoned resource"
)

// Options select which alarm kinds are kept and how they are configured
type Options struct {
	UtilizationAlarms    bool
	UtilizationThreshold float64
	EvaluationPeriods    int
	DatapointsToAlarm    int

	IdleAlarms         bool
	IdleThresholdHours int

	// ActionTargets returns the alarm and OK action ARNs for a region
	ActionTargets func(region string) []string
}

// Manager reconciles alarms against a Store
type Manager struct {
	store Store
	opts  Options
	log   zerolog.Logger
}

func NewManager(store Store, opts Options, log zerolog.Logger) *Manager {
	if opts.EvaluationPeriods <= 0 {
		opts.EvaluationPeriods = DefaultEvaluationPeriods
	}
	if opts.DatapointsToAlarm <= 0 {
		opts.DatapointsToAlarm = DefaultDatapointsToAlarm
	}
	return &Manager{
		store: store,
		opts:  opts,
		log:   log.With().Str("component", "alarms").Logger(),
	}
}

// NamePrefix is the alarm name prefix for a kind of alarm on a kind of resource
func NamePrefix(alarm models.AlarmKind, kind models.ResourceKind) string {
	if alarm == models.AlarmIdle {
		return models.AlarmNamePrefix + "Idle" + kind.Label() + "-"
	}
	return models.AlarmNamePrefix + "Low" + kind.Label() + "Utilization-"
}

// Specs returns the desired alarms for res given its current summary
func (m *Manager) Specs(res *models.InferenceResource, summary *models.UtilizationSummary) []models.AlarmSpec {
	var actions []string
	if m.opts.ActionTargets != nil {
		actions = m.opts.ActionTargets(res.Region)
	}
	tags := map[string]string{models.OwnerTagKey: models.OwnerTagValue}

	var specs []models.AlarmSpec
	if m.opts.UtilizationAlarms {
		specs = append(specs, models.AlarmSpec{
			Name:              NamePrefix(models.AlarmUtilization, res.Kind) + res.Name,
			Kind:              models.AlarmUtilization,
			ResourceKind:      res.Kind,
			ResourceARN:       res.ARN,
			Region:            res.Region,
			Description:       utilizationDescription,
			Namespace:         datasource.MonitorNamespace,
			MetricName:        datasource.UtilizationMetricName(res.Kind),
			Dimension:         res.DimensionName(),
			Statistic:         "Average",
			PeriodSeconds:     PeriodSeconds,
			EvaluationPeriods: int32(m.opts.EvaluationPeriods),
			DatapointsToAlarm: int32(m.opts.DatapointsToAlarm),
			Threshold:         m.opts.UtilizationThreshold,
			Comparison:        models.CompareLessThan,
			TreatMissingData:  models.MissingDataMissing,
			// lowering below 1 is impossible, so the idle alarm covers that case
			ActionsEnabled: res.CurrentMinRate > 1,
			ActionARNs:     actions,
			Tags:           tags,
		})
	}
	if m.opts.IdleAlarms {
		period, periods := int32(PeriodSeconds), int32(3600/PeriodSeconds*m.opts.IdleThresholdHours)
		if m.opts.IdleThresholdHours > MaxShortPeriodHours {
			// CloudWatch evaluates sub-hour periods over at most one day
			period, periods = 3600, int32(m.opts.IdleThresholdHours)
		}
		specs = append(specs, models.AlarmSpec{
			Name:              NamePrefix(models.AlarmIdle, res.Kind) + res.Name,
			Kind:              models.AlarmIdle,
			ResourceKind:      res.Kind,
			ResourceARN:       res.ARN,
			Region:            res.Region,
			Description:       idleDescription,
			Namespace:         datasource.PersonalizeNamespace,
			MetricName:        res.RequestMetricName(),
			Dimension:         res.DimensionName(),
			Statistic:         "Sum",
			PeriodSeconds:     period,
			EvaluationPeriods: periods,
			DatapointsToAlarm: periods,
			Threshold:         0,
			Comparison:        models.CompareLessThanOrEqualTo,
			// idle resources publish no datapoints
			TreatMissingData: models.MissingDataBreaching,
			// missing data breaches, so young resources would alarm immediately
			ActionsEnabled: summary != nil && summary.AgeHours >= m.opts.IdleThresholdHours,
			ActionARNs:     actions,
			Tags:           tags,
		})
	}
	return specs
}

// Reconcile creates missing alarms for res and aligns the actions of
// existing ones. It returns the number of alarms created. Running it twice
// against an unchanged store performs no writes the second time.
func (m *Manager) Reconcile(ctx context.Context, res *models.InferenceResource, summary *models.UtilizationSummary) (int, error) {
	var (
		created int
		result  *multierror.Error
	)
	for _, spec := range m.Specs(res, summary) {
		ok, err := m.reconcileOne(ctx, spec)
		if err != nil {
			result = multierror.Append(result, &models.AlarmStoreError{ARN: res.ARN, Alarm: spec.Name, Err: err})
			continue
		}
		if ok {
			created++
		}
	}
	return created, result.ErrorOrNil()
}

func (m *Manager) reconcileOne(ctx context.Context, spec models.AlarmSpec) (bool, error) {
	found, err := m.store.ForMetric(ctx, spec.Region, spec.Namespace, spec.MetricName, spec.Dimension, spec.ResourceARN)
	if err != nil {
		return false, err
	}

	prefix := NamePrefix(spec.Kind, spec.ResourceKind)
	for _, alarm := range found {
		if !strings.HasPrefix(alarm.Name, prefix) || !matches(spec, alarm) {
			continue
		}
		if !sameActions(alarm.AlarmActions, spec.ActionARNs) {
			// created while the notification topic was unavailable
			m.log.Info().
				Str("alarm", alarm.Name).
				Strs("actions", spec.ActionARNs).
				Msg("updating alarm actions")
			return false, m.store.Put(ctx, spec)
		}
		if alarm.ActionsEnabled == spec.ActionsEnabled {
			return false, nil
		}
		m.log.Info().
			Str("alarm", alarm.Name).
			Bool("actions_enabled", spec.ActionsEnabled).
			Msg("toggling alarm actions")
		return false, m.store.SetActionsEnabled(ctx, spec.Region, alarm.Name, spec.ActionsEnabled)
	}

	m.log.Info().
		Str("arn", spec.ResourceARN).
		Str("alarm", spec.Name).
		Str("kind", string(spec.Kind)).
		Msg("creating alarm")
	if err := m.store.Put(ctx, spec); err != nil {
		return false, err
	}
	return true, nil
}

// matches reports whether an existing alarm already serves the purpose of spec
func matches(spec models.AlarmSpec, alarm models.ExistingAlarm) bool {
	if spec.Kind == models.AlarmIdle {
		return alarm.Comparison == models.CompareLessThanOrEqualTo && alarm.Threshold == 0
	}
	return alarm.Comparison == models.CompareLessThan || alarm.Comparison == models.CompareLessThanOrEqualTo
}

func sameActions(have, want []string) bool {
	if len(have) != len(want) {
		return false
	}
	a, b := slices.Clone(have), slices.Clone(want)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

// DeleteForResource removes every owned alarm watching resourceARN and
// returns how many were deleted
func (m *Manager) DeleteForResource(ctx context.Context, resourceARN string) (int, error) {
	parsed, err := arn.Parse(resourceARN)
	if err != nil {
		return 0, err
	}
	owned, err := m.store.ListOwned(ctx, parsed.Region)
	if err != nil {
		return 0, &models.AlarmStoreError{ARN: resourceARN, Err: err}
	}

	var names []string
	for _, alarm := range owned {
		for name, value := range alarm.Dimensions {
			if value == resourceARN && (name == "CampaignArn" || name == "RecommenderArn") {
				names = append(names, alarm.Name)
				break
			}
		}
	}
	return m.delete(ctx, parsed.Region, resourceARN, names)
}

// DeleteAll removes every alarm owned by the application in region
func (m *Manager) DeleteAll(ctx context.Context, region string) (int, error) {
	owned, err := m.store.ListOwned(ctx, region)
	if err != nil {
		return 0, &models.AlarmStoreError{Err: fmt.Errorf("region %s: %w", region, err)}
	}
	names := make([]string, 0, len(owned))
	for _, alarm := range owned {
		names = append(names, alarm.Name)
	}
	return m.delete(ctx, region, "", names)
}

func (m *Manager) delete(ctx context.Context, region, resourceARN string, names []string) (int, error) {
	if len(names) == 0 {
		m.log.Info().Str("region", region).Str("arn", resourceARN).Msg("no alarms to delete")
		return 0, nil
	}
	sort.Strings(names)
	if err := m.store.Delete(ctx, region, names); err != nil {
		return 0, &models.AlarmStoreError{ARN: resourceARN, Err: err}
	}
	m.log.Info().
		Str("region", region).
		Str("arn", resourceARN).
		Strs("alarms", names).
		Msg("deleted alarms")
	return len(names), nil
}
