// Package awsclients builds per-region AWS service clients with a shared retry policy.
package awsclients

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/personalize"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// Factory hands out one client per service and region
type Factory struct {
	base aws.Config

	mu          sync.Mutex
	personalize map[string]*personalize.Client
	cloudwatch  map[string]*cloudwatch.Client
	eventbridge map[string]*eventbridge.Client
	sns         map[string]*sns.Client
}

// NewFactory loads the default credential chain and configures the standard
// retryer with exponential backoff, bounded to maxAttempts
func NewFactory(ctx context.Context, maxAttempts int) (*Factory, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), maxAttempts)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewFactoryFromConfig(cfg), nil
}

// NewFactoryFromConfig wraps an already loaded configuration
func NewFactoryFromConfig(cfg aws.Config) *Factory {
	return &Factory{
		base:        cfg,
		personalize: make(map[string]*personalize.Client),
		cloudwatch:  make(map[string]*cloudwatch.Client),
		eventbridge: make(map[string]*eventbridge.Client),
		sns:         make(map[string]*sns.Client),
	}
}

// DefaultRegion is the region of the loaded configuration
func (f *Factory) DefaultRegion() string {
	return f.base.Region
}

func (f *Factory) regional(region string) aws.Config {
	cfg := f.base.Copy()
	if region != "" {
		cfg.Region = region
	}
	return cfg
}

func (f *Factory) Personalize(region string) *personalize.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.personalize[region]; ok {
		return c
	}
	c := personalize.NewFromConfig(f.regional(region))
	f.personalize[region] = c
	return c
}

func (f *Factory) CloudWatch(region string) *cloudwatch.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.cloudwatch[region]; ok {
		return c
	}
	c := cloudwatch.NewFromConfig(f.regional(region))
	f.cloudwatch[region] = c
	return c
}

func (f *Factory) EventBridge(region string) *eventbridge.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.eventbridge[region]; ok {
		return c
	}
	c := eventbridge.NewFromConfig(f.regional(region))
	f.eventbridge[region] = c
	return c
}

func (f *Factory) SNS(region string) *sns.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.sns[region]; ok {
		return c
	}
	c := sns.NewFromConfig(f.regional(region))
	f.sns[region] = c
	return c
}
