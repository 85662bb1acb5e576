package datasource

import (
	"context"
	"time"

	"github.com/opscart/personalize-monitor/pkg/models"
)

// MetricsSource returns request sums per period for a resource
type MetricsSource interface {
	RequestSums(ctx context.Context, resource *models.InferenceResource, start, end time.Time, period time.Duration) (models.MetricWindow, error)
	IsAvailable(ctx context.Context) bool
	Name() string
}

// Namespaces used by the monitor
const (
	PersonalizeNamespace = "AWS/Personalize"
	MonitorNamespace     = models.ApplicationName
)
