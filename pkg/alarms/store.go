package alarms

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/opscart/personalize-monitor/pkg/models"
)

// MaxAlarmsPerDelete is the DeleteAlarms batch limit
const MaxAlarmsPerDelete = 100

// Store reads and writes metric alarms in one region at a time
type Store interface {
	// ForMetric returns the alarms watching the metric with the given dimension
	ForMetric(ctx context.Context, region, namespace, metricName, dimName, dimValue string) ([]models.ExistingAlarm, error)
	Put(ctx context.Context, spec models.AlarmSpec) error
	SetActionsEnabled(ctx context.Context, region, name string, enabled bool) error
	// ListOwned returns alarms with the application name prefix and ownership tag
	ListOwned(ctx context.Context, region string) ([]models.ExistingAlarm, error)
	Delete(ctx context.Context, region string, names []string) error
}

// CloudWatchAPI is the subset of the CloudWatch client used for alarms
type CloudWatchAPI interface {
	DescribeAlarmsForMetric(ctx context.Context, in *cloudwatch.DescribeAlarmsForMetricInput, opts ...func(*cloudwatch.Options)) (*cloudwatch.DescribeAlarmsForMetricOutput, error)
	DescribeAlarms(ctx context.Context, in *cloudwatch.DescribeAlarmsInput, opts ...func(*cloudwatch.Options)) (*cloudwatch.DescribeAlarmsOutput, error)
	PutMetricAlarm(ctx context.Context, in *cloudwatch.PutMetricAlarmInput, opts ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricAlarmOutput, error)
	EnableAlarmActions(ctx context.Context, in *cloudwatch.EnableAlarmActionsInput, opts ...func(*cloudwatch.Options)) (*cloudwatch.EnableAlarmActionsOutput, error)
	DisableAlarmActions(ctx context.Context, in *cloudwatch.DisableAlarmActionsInput, opts ...func(*cloudwatch.Options)) (*cloudwatch.DisableAlarmActionsOutput, error)
	ListTagsForResource(ctx context.Context, in *cloudwatch.ListTagsForResourceInput, opts ...func(*cloudwatch.Options)) (*cloudwatch.ListTagsForResourceOutput, error)
	DeleteAlarms(ctx context.Context, in *cloudwatch.DeleteAlarmsInput, opts ...func(*cloudwatch.Options)) (*cloudwatch.DeleteAlarmsOutput, error)
}

// CloudWatchStore keeps alarms in CloudWatch
type CloudWatchStore struct {
	clients func(region string) CloudWatchAPI
}

func NewCloudWatchStore(clients func(region string) CloudWatchAPI) *CloudWatchStore {
	return &CloudWatchStore{clients: clients}
}

func (s *CloudWatchStore) ForMetric(ctx context.Context, region, namespace, metricName, dimName, dimValue string) ([]models.ExistingAlarm, error) {
	out, err := s.clients(region).DescribeAlarmsForMetric(ctx, &cloudwatch.DescribeAlarmsForMetricInput{
		Namespace:  aws.String(namespace),
		MetricName: aws.String(metricName),
		Dimensions: []types.Dimension{{Name: aws.String(dimName), Value: aws.String(dimValue)}},
	})
	if err != nil {
		return nil, fmt.Errorf("DescribeAlarmsForMetric %s/%s failed: %w", namespace, metricName, err)
	}

	alarms := make([]models.ExistingAlarm, 0, len(out.MetricAlarms))
	for _, a := range out.MetricAlarms {
		alarms = append(alarms, existing(a))
	}
	return alarms, nil
}

func (s *CloudWatchStore) Put(ctx context.Context, spec models.AlarmSpec) error {
	in := &cloudwatch.PutMetricAlarmInput{
		AlarmName:          aws.String(spec.Name),
		AlarmDescription:   aws.String(spec.Description),
		ActionsEnabled:     aws.Bool(spec.ActionsEnabled),
		AlarmActions:       spec.ActionARNs,
		OKActions:          spec.ActionARNs,
		Namespace:          aws.String(spec.Namespace),
		MetricName:         aws.String(spec.MetricName),
		Statistic:          types.Statistic(spec.Statistic),
		Dimensions:         []types.Dimension{{Name: aws.String(spec.Dimension), Value: aws.String(spec.ResourceARN)}},
		Period:             aws.Int32(spec.PeriodSeconds),
		EvaluationPeriods:  aws.Int32(spec.EvaluationPeriods),
		Threshold:          aws.Float64(spec.Threshold),
		ComparisonOperator: types.ComparisonOperator(spec.Comparison),
		TreatMissingData:   aws.String(spec.TreatMissingData),
	}
	if spec.DatapointsToAlarm > 0 {
		in.DatapointsToAlarm = aws.Int32(spec.DatapointsToAlarm)
	}
	for k, v := range spec.Tags {
		in.Tags = append(in.Tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	if _, err := s.clients(spec.Region).PutMetricAlarm(ctx, in); err != nil {
		return fmt.Errorf("PutMetricAlarm %s failed: %w", spec.Name, err)
	}
	return nil
}

func (s *CloudWatchStore) SetActionsEnabled(ctx context.Context, region, name string, enabled bool) error {
	client := s.clients(region)
	var err error
	if enabled {
		_, err = client.EnableAlarmActions(ctx, &cloudwatch.EnableAlarmActionsInput{AlarmNames: []string{name}})
	} else {
		_, err = client.DisableAlarmActions(ctx, &cloudwatch.DisableAlarmActionsInput{AlarmNames: []string{name}})
	}
	if err != nil {
		return fmt.Errorf("failed to set actions enabled=%t on %s: %w", enabled, name, err)
	}
	return nil
}

func (s *CloudWatchStore) ListOwned(ctx context.Context, region string) ([]models.ExistingAlarm, error) {
	client := s.clients(region)
	paginator := cloudwatch.NewDescribeAlarmsPaginator(client, &cloudwatch.DescribeAlarmsInput{
		AlarmNamePrefix: aws.String(models.AlarmNamePrefix),
		AlarmTypes:      []types.AlarmType{types.AlarmTypeMetricAlarm},
	})

	var owned []models.ExistingAlarm
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("DescribeAlarms in %s failed: %w", region, err)
		}
		for _, a := range page.MetricAlarms {
			alarm := existing(a)
			tags, err := client.ListTagsForResource(ctx, &cloudwatch.ListTagsForResourceInput{ResourceARN: a.AlarmArn})
			if err != nil {
				return nil, fmt.Errorf("ListTagsForResource %s failed: %w", alarm.Name, err)
			}
			alarm.Tags = make(map[string]string, len(tags.Tags))
			for _, t := range tags.Tags {
				alarm.Tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
			}
			if alarm.Tags[models.OwnerTagKey] == models.OwnerTagValue {
				owned = append(owned, alarm)
			}
		}
	}
	return owned, nil
}

func (s *CloudWatchStore) Delete(ctx context.Context, region string, names []string) error {
	client := s.clients(region)
	for start := 0; start < len(names); start += MaxAlarmsPerDelete {
		end := min(start+MaxAlarmsPerDelete, len(names))
		if _, err := client.DeleteAlarms(ctx, &cloudwatch.DeleteAlarmsInput{AlarmNames: names[start:end]}); err != nil {
			return fmt.Errorf("DeleteAlarms in %s failed: %w", region, err)
		}
	}
	return nil
}

func existing(a types.MetricAlarm) models.ExistingAlarm {
	alarm := models.ExistingAlarm{
		Name:           aws.ToString(a.AlarmName),
		ARN:            aws.ToString(a.AlarmArn),
		Comparison:     string(a.ComparisonOperator),
		Threshold:      aws.ToFloat64(a.Threshold),
		ActionsEnabled: aws.ToBool(a.ActionsEnabled),
		AlarmActions:   a.AlarmActions,
		Dimensions:     make(map[string]string, len(a.Dimensions)),
	}
	for _, d := range a.Dimensions {
		alarm.Dimensions[aws.ToString(d.Name)] = aws.ToString(d.Value)
	}
	return alarm
}
