package datasource

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/opscart/personalize-monitor/pkg/models"
)

// CloudWatchAPI is the subset of the CloudWatch client used for metric reads and writes
type CloudWatchAPI interface {
	GetMetricData(ctx context.Context, in *cloudwatch.GetMetricDataInput, opts ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error)
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, opts ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchSource reads AWS/Personalize request metrics
type CloudWatchSource struct {
	clients func(region string) CloudWatchAPI
}

func NewCloudWatchSource(clients func(region string) CloudWatchAPI) *CloudWatchSource {
	return &CloudWatchSource{clients: clients}
}

// RequestSums fetches the Sum of the resource's request metric per period.
// Periods with no data are absent from the result.
func (c *CloudWatchSource) RequestSums(ctx context.Context, resource *models.InferenceResource, start, end time.Time, period time.Duration) (models.MetricWindow, error) {
	window := models.MetricWindow{Start: start, End: end, Period: period}

	input := &cloudwatch.GetMetricDataInput{
		StartTime: aws.Time(start),
		EndTime:   aws.Time(end),
		ScanBy:    types.ScanByTimestampAscending,
		MetricDataQueries: []types.MetricDataQuery{
			{
				Id: aws.String("requests"),
				MetricStat: &types.MetricStat{
					Metric: &types.Metric{
						Namespace:  aws.String(PersonalizeNamespace),
						MetricName: aws.String(resource.RequestMetricName()),
						Dimensions: []types.Dimension{
							{Name: aws.String(resource.DimensionName()), Value: aws.String(resource.ARN)},
						},
					},
					Period: aws.Int32(int32(period.Seconds())),
					Stat:   aws.String("Sum"),
				},
				ReturnData: aws.Bool(true),
			},
		},
	}

	paginator := cloudwatch.NewGetMetricDataPaginator(c.clients(resource.Region), input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return window, fmt.Errorf("GetMetricData failed for %s: %w", resource.ARN, err)
		}
		for _, result := range page.MetricDataResults {
			for i, ts := range result.Timestamps {
				if i >= len(result.Values) {
					break
				}
				window.Samples = append(window.Samples, models.Sample{Timestamp: ts, Value: result.Values[i]})
			}
		}
	}

	sort.Slice(window.Samples, func(i, j int) bool {
		return window.Samples[i].Timestamp.Before(window.Samples[j].Timestamp)
	})
	return window, nil
}

func (c *CloudWatchSource) IsAvailable(ctx context.Context) bool {
	return c.clients != nil
}

func (c *CloudWatchSource) Name() string {
	return "CloudWatch"
}
