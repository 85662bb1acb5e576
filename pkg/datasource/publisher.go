package datasource

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/hashicorp/go-multierror"

	"github.com/opscart/personalize-monitor/pkg/models"
)

// MaxDatumsPerCall is the PutMetricData batch limit
const MaxDatumsPerCall = 20

// Custom metric names in the monitor namespace
const (
	MetricMonitoredResourceCount = "monitoredResourceCount"
	MetricCampaignMinTPS         = "minProvisionedTPS"
	MetricRecommenderMinRPS      = "minRecommendationRequestsPerSecond"
	MetricCampaignAverageTPS     = "averageTPS"
	MetricRecommenderAverageRPS  = "averageRPS"
	MetricCampaignUtilization    = "campaignUtilization"
	MetricRecommenderUtilization = "recommenderUtilization"
)

// UtilizationMetricName is the custom metric the utilization alarm watches
func UtilizationMetricName(kind models.ResourceKind) string {
	if kind == models.KindRecommender {
		return MetricRecommenderUtilization
	}
	return MetricCampaignUtilization
}

// Publisher buffers custom metrics per region and writes them in batches
type Publisher struct {
	clients func(region string) CloudWatchAPI

	mu      sync.Mutex
	pending map[string][]types.MetricDatum
}

func NewPublisher(clients func(region string) CloudWatchAPI) *Publisher {
	return &Publisher{
		clients: clients,
		pending: make(map[string][]types.MetricDatum),
	}
}

func (p *Publisher) add(region string, datums ...types.MetricDatum) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[region] = append(p.pending[region], datums...)
}

// AddResourceCount records how many resources a pass monitored
func (p *Publisher) AddResourceCount(region string, count int) {
	p.add(region, types.MetricDatum{
		MetricName: aws.String(MetricMonitoredResourceCount),
		Value:      aws.Float64(float64(count)),
		Unit:       types.StandardUnitCount,
	})
}

// AddResource records the minimum rate, the latest average rate and utilization of a resource.
// The average rate is only written when there was traffic in the latest period,
// and utilization only when it is defined.
func (p *Publisher) AddResource(res *models.InferenceResource, summary *models.UtilizationSummary) {
	dims := []types.Dimension{{Name: aws.String(res.DimensionName()), Value: aws.String(res.ARN)}}

	minName, avgName := MetricCampaignMinTPS, MetricCampaignAverageTPS
	if res.Kind == models.KindRecommender {
		minName, avgName = MetricRecommenderMinRPS, MetricRecommenderAverageRPS
	}

	datums := []types.MetricDatum{{
		MetricName: aws.String(minName),
		Dimensions: dims,
		Value:      aws.Float64(float64(res.CurrentMinRate)),
		Unit:       types.StandardUnitCountSecond,
	}}
	if summary.LatestRate > 0 {
		datums = append(datums, types.MetricDatum{
			MetricName: aws.String(avgName),
			Dimensions: dims,
			Value:      aws.Float64(summary.LatestRate),
			Unit:       types.StandardUnitCountSecond,
		})
	}
	if summary.LatestUtilizationDefined {
		datums = append(datums, types.MetricDatum{
			MetricName: aws.String(UtilizationMetricName(res.Kind)),
			Dimensions: dims,
			Value:      aws.Float64(summary.LatestUtilization),
			Unit:       types.StandardUnitPercent,
		})
	}

	p.add(res.Region, datums...)
}

// Pending is the number of buffered datums
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, d := range p.pending {
		n += len(d)
	}
	return n
}

// Flush writes every buffered datum, MaxDatumsPerCall at a time, and clears the buffer.
// It returns the number of datums written.
func (p *Publisher) Flush(ctx context.Context) (int, error) {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[string][]types.MetricDatum)
	p.mu.Unlock()

	regions := make([]string, 0, len(pending))
	for region := range pending {
		regions = append(regions, region)
	}
	sort.Strings(regions)

	var result *multierror.Error
	written := 0
	for _, region := range regions {
		client := p.clients(region)
		for _, chunk := range chunk(pending[region], MaxDatumsPerCall) {
			_, err := client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
				Namespace:  aws.String(MonitorNamespace),
				MetricData: chunk,
			})
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("PutMetricData in %s: %w", region, err))
				continue
			}
			written += len(chunk)
		}
	}
	return written, result.ErrorOrNil()
}

func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for size < len(items) {
		items, out = items[size:], append(out, items[:size])
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
