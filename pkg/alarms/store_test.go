package alarms

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opscart/personalize-monitor/pkg/models"
)

type fakeCloudWatch struct {
	metricAlarms []types.MetricAlarm
	tags         map[string][]types.Tag
	put          []*cloudwatch.PutMetricAlarmInput
	deleted      [][]string
	enabled      []string
	disabled     []string
}

func (f *fakeCloudWatch) DescribeAlarmsForMetric(_ context.Context, in *cloudwatch.DescribeAlarmsForMetricInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.DescribeAlarmsForMetricOutput, error) {
	var out []types.MetricAlarm
	for _, a := range f.metricAlarms {
		if aws.ToString(a.MetricName) == aws.ToString(in.MetricName) {
			out = append(out, a)
		}
	}
	return &cloudwatch.DescribeAlarmsForMetricOutput{MetricAlarms: out}, nil
}

func (f *fakeCloudWatch) DescribeAlarms(_ context.Context, in *cloudwatch.DescribeAlarmsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.DescribeAlarmsOutput, error) {
	// two pages to exercise the paginator
	if in.NextToken == nil {
		return &cloudwatch.DescribeAlarmsOutput{MetricAlarms: f.metricAlarms[:1], NextToken: aws.String("page2")}, nil
	}
	return &cloudwatch.DescribeAlarmsOutput{MetricAlarms: f.metricAlarms[1:]}, nil
}

func (f *fakeCloudWatch) PutMetricAlarm(_ context.Context, in *cloudwatch.PutMetricAlarmInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricAlarmOutput, error) {
	f.put = append(f.put, in)
	return &cloudwatch.PutMetricAlarmOutput{}, nil
}

func (f *fakeCloudWatch) EnableAlarmActions(_ context.Context, in *cloudwatch.EnableAlarmActionsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.EnableAlarmActionsOutput, error) {
	f.enabled = append(f.enabled, in.AlarmNames...)
	return &cloudwatch.EnableAlarmActionsOutput{}, nil
}

func (f *fakeCloudWatch) DisableAlarmActions(_ context.Context, in *cloudwatch.DisableAlarmActionsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.DisableAlarmActionsOutput, error) {
	f.disabled = append(f.disabled, in.AlarmNames...)
	return &cloudwatch.DisableAlarmActionsOutput{}, nil
}

func (f *fakeCloudWatch) ListTagsForResource(_ context.Context, in *cloudwatch.ListTagsForResourceInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.ListTagsForResourceOutput, error) {
	return &cloudwatch.ListTagsForResourceOutput{Tags: f.tags[aws.ToString(in.ResourceARN)]}, nil
}

func (f *fakeCloudWatch) DeleteAlarms(_ context.Context, in *cloudwatch.DeleteAlarmsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.DeleteAlarmsOutput, error) {
	f.deleted = append(f.deleted, in.AlarmNames)
	return &cloudwatch.DeleteAlarmsOutput{}, nil
}

func metricAlarm(name, metric string) types.MetricAlarm {
	return types.MetricAlarm{
		AlarmName:          aws.String(name),
		AlarmArn:           aws.String("arn:aws:cloudwatch:us-east-1:123456789012:alarm:" + name),
		MetricName:         aws.String(metric),
		ComparisonOperator: types.ComparisonOperatorLessThanOrEqualToThreshold,
		Threshold:          aws.Float64(0),
		ActionsEnabled:     aws.Bool(true),
		Dimensions: []types.Dimension{
			{Name: aws.String("CampaignArn"), Value: aws.String("arn:aws:personalize:us-east-1:123456789012:campaign/movies")},
		},
	}
}

func TestCloudWatchStoreForMetric(t *testing.T) {
	fake := &fakeCloudWatch{metricAlarms: []types.MetricAlarm{
		metricAlarm("PersonalizeMonitor-IdleCampaign-movies", "GetRecommendations"),
		metricAlarm("PersonalizeMonitor-LowCampaignUtilization-movies", "campaignUtilization"),
	}}
	store := NewCloudWatchStore(func(string) CloudWatchAPI { return fake })

	found, err := store.ForMetric(context.Background(), "us-east-1", "AWS/Personalize", "GetRecommendations", "CampaignArn", "arn")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "PersonalizeMonitor-IdleCampaign-movies", found[0].Name)
	assert.Equal(t, models.CompareLessThanOrEqualTo, found[0].Comparison)
	assert.True(t, found[0].ActionsEnabled)
	assert.Equal(t, "arn:aws:personalize:us-east-1:123456789012:campaign/movies", found[0].Dimensions["CampaignArn"])
}

func TestCloudWatchStorePut(t *testing.T) {
	fake := &fakeCloudWatch{}
	store := NewCloudWatchStore(func(string) CloudWatchAPI { return fake })
	m := NewManager(store, Options{UtilizationAlarms: true, UtilizationThreshold: 80}, zerolog.Nop())

	spec := m.Specs(testResource("movies", models.KindCampaign, 3), &models.UtilizationSummary{})[0]
	spec.ActionARNs = []string{"arn:aws:sns:us-east-1:123456789012:topic"}
	require.NoError(t, store.Put(context.Background(), spec))

	require.Len(t, fake.put, 1)
	in := fake.put[0]
	assert.Equal(t, "PersonalizeMonitor-LowCampaignUtilization-movies", aws.ToString(in.AlarmName))
	assert.Equal(t, types.StatisticAverage, in.Statistic)
	assert.Equal(t, types.ComparisonOperatorLessThanThreshold, in.ComparisonOperator)
	assert.Equal(t, int32(9), aws.ToInt32(in.DatapointsToAlarm))
	assert.Equal(t, 80.0, aws.ToFloat64(in.Threshold))
	assert.Equal(t, spec.ActionARNs, in.AlarmActions)
	assert.Equal(t, spec.ActionARNs, in.OKActions)
	require.Len(t, in.Tags, 1)
	assert.Equal(t, "CreatedBy", aws.ToString(in.Tags[0].Key))
}

func TestCloudWatchStoreListOwned(t *testing.T) {
	owned := metricAlarm("PersonalizeMonitor-IdleCampaign-movies", "GetRecommendations")
	foreign := metricAlarm("PersonalizeMonitor-someone-else", "GetRecommendations")
	fake := &fakeCloudWatch{
		metricAlarms: []types.MetricAlarm{owned, foreign},
		tags: map[string][]types.Tag{
			aws.ToString(owned.AlarmArn):   {{Key: aws.String("CreatedBy"), Value: aws.String("PersonalizeMonitor")}},
			aws.ToString(foreign.AlarmArn): {{Key: aws.String("team"), Value: aws.String("search")}},
		},
	}
	store := NewCloudWatchStore(func(string) CloudWatchAPI { return fake })

	alarms, err := store.ListOwned(context.Background(), "us-east-1")
	require.NoError(t, err)
	require.Len(t, alarms, 1)
	assert.Equal(t, "PersonalizeMonitor-IdleCampaign-movies", alarms[0].Name)
}

func TestCloudWatchStoreDeleteBatches(t *testing.T) {
	fake := &fakeCloudWatch{}
	store := NewCloudWatchStore(func(string) CloudWatchAPI { return fake })

	names := make([]string, 250)
	for i := range names {
		names[i] = fmt.Sprintf("PersonalizeMonitor-IdleCampaign-%03d", i)
	}
	require.NoError(t, store.Delete(context.Background(), "us-east-1", names))

	require.Len(t, fake.deleted, 3)
	assert.Len(t, fake.deleted[0], 100)
	assert.Len(t, fake.deleted[1], 100)
	assert.Len(t, fake.deleted[2], 50)
}

func TestCloudWatchStoreSetActionsEnabled(t *testing.T) {
	fake := &fakeCloudWatch{}
	store := NewCloudWatchStore(func(string) CloudWatchAPI { return fake })

	require.NoError(t, store.SetActionsEnabled(context.Background(), "us-east-1", "a", true))
	require.NoError(t, store.SetActionsEnabled(context.Background(), "us-east-1", "b", false))
	assert.Equal(t, []string{"a"}, fake.enabled)
	assert.Equal(t, []string{"b"}, fake.disabled)
}
