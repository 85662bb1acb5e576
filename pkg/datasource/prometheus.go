package datasource

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"

	"github.com/opscart/personalize-monitor/pkg/models"
)

// PrometheusSource reads Personalize request sums scraped into Prometheus by a
// CloudWatch exporter, e.g. aws_personalize_get_recommendations_sum{dimension_CampaignArn="..."}
type PrometheusSource struct {
	client v1.API
	url    string
	log    zerolog.Logger
}

func NewPrometheusSource(url string, log zerolog.Logger) (*PrometheusSource, error) {
	client, err := api.NewClient(api.Config{
		Address: url,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return NewPrometheusSourceFromAPI(v1.NewAPI(client), url, log), nil
}

func NewPrometheusSourceFromAPI(client v1.API, url string, log zerolog.Logger) *PrometheusSource {
	return &PrometheusSource{
		client: client,
		url:    url,
		log:    log.With().Str("component", "prometheus").Logger(),
	}
}

// RequestQuery is the PromQL selector for the resource's request metric
func RequestQuery(resource *models.InferenceResource) string {
	return fmt.Sprintf(`sum(aws_personalize_%s_sum{dimension_%s="%s"})`,
		snakeCase(resource.RequestMetricName()), resource.DimensionName(), resource.ARN)
}

func (p *PrometheusSource) RequestSums(ctx context.Context, resource *models.InferenceResource, start, end time.Time, period time.Duration) (models.MetricWindow, error) {
	window := models.MetricWindow{Start: start, End: end, Period: period}
	query := RequestQuery(resource)

	r := v1.Range{
		Start: start,
		End:   end,
		Step:  period,
	}

	p.log.Debug().Str("query", query).Time("start", start).Time("end", end).Dur("step", period).Msg("prometheus range query")

	result, warnings, err := p.client.QueryRange(ctx, query, r)
	if err != nil {
		return window, fmt.Errorf("prometheus query failed: %w", err)
	}
	if len(warnings) > 0 {
		p.log.Warn().Strs("warnings", warnings).Str("arn", resource.ARN).Msg("prometheus returned warnings")
	}

	samples, err := parsePrometheusResult(result)
	if err != nil {
		return window, fmt.Errorf("failed to parse request results: %w", err)
	}
	window.Samples = samples
	return window, nil
}

// parsePrometheusResult flattens a range-query matrix into samples ordered by time.
// An empty matrix means no data, not an error.
func parsePrometheusResult(result model.Value) ([]models.Sample, error) {
	matrix, ok := result.(model.Matrix)
	if !ok {
		return nil, fmt.Errorf("unexpected result type: %T", result)
	}

	if len(matrix) == 0 {
		return []models.Sample{}, nil
	}

	byTime := make(map[time.Time]float64)
	for _, series := range matrix {
		for _, value := range series.Values {
			byTime[value.Timestamp.Time().UTC()] += float64(value.Value)
		}
	}

	samples := make([]models.Sample, 0, len(byTime))
	for ts, v := range byTime {
		samples = append(samples, models.Sample{Timestamp: ts, Value: v})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Timestamp.Before(samples[j].Timestamp) })
	return samples, nil
}

func (p *PrometheusSource) IsAvailable(ctx context.Context) bool {
	_, _, err := p.client.Query(ctx, "up", time.Now())
	return err == nil
}

func (p *PrometheusSource) Name() string {
	return "Prometheus"
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
