package main

import (
	"context"
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	"github.com/opscart/personalize-monitor/pkg/alarms"
	"github.com/opscart/personalize-monitor/pkg/analyzer"
	"github.com/opscart/personalize-monitor/pkg/awsclients"
	"github.com/opscart/personalize-monitor/pkg/config"
	"github.com/opscart/personalize-monitor/pkg/datasource"
	"github.com/opscart/personalize-monitor/pkg/events"
	"github.com/opscart/personalize-monitor/pkg/models"
	"github.com/opscart/personalize-monitor/pkg/monitor"
	"github.com/opscart/personalize-monitor/pkg/notifications"
	"github.com/opscart/personalize-monitor/pkg/policy"
	"github.com/opscart/personalize-monitor/pkg/registry"
	"github.com/opscart/personalize-monitor/pkg/storage"
	"github.com/opscart/personalize-monitor/pkg/telemetry"
)

// app is the fully wired monitor for one process
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	monitor   *monitor.Monitor
	alarms    *alarms.Manager
	telemetry *telemetry.Metrics
	store     storage.Store
}

func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	factory, err := awsclients.NewFactory(ctx, cfg.MaxAttempts)
	if err != nil {
		return nil, err
	}

	regions := cfg.Regions
	if len(regions) == 0 && factory.DefaultRegion() != "" {
		regions = []string{factory.DefaultRegion()}
	}

	var strategy registry.Strategy
	if cfg.DiscoverAll() {
		strategy = registry.DiscoverAll{Regions: regions}
	} else {
		strategy = registry.ExplicitList{ARNs: cfg.ResourceARNs, Regions: regions}
	}
	reg := registry.New(
		func(region string) registry.PersonalizeAPI { return factory.Personalize(region) },
		strategy,
		registry.Options{
			DescribeRatePerSecond: cfg.DescribeRatePerSecond,
			CacheTTL:              cfg.ResourceCacheTTL,
			CallTimeout:           cfg.CallTimeout,
		},
		log,
	)

	cloudWatch := func(region string) datasource.CloudWatchAPI { return factory.CloudWatch(region) }

	var source datasource.MetricsSource
	switch cfg.MetricsSource {
	case config.SourcePrometheus:
		source, err = datasource.NewPrometheusSource(cfg.PrometheusURL, log)
		if err != nil {
			return nil, &models.ConfigError{Err: err}
		}
	default:
		source = datasource.NewCloudWatchSource(cloudWatch)
	}

	aggregator := analyzer.NewAggregator(source, analyzer.Options{
		IdleThresholdHours: cfg.IdleThresholdHours,
		CallTimeout:        cfg.CallTimeout,
		AlarmRule: policy.AlarmRule{
			Threshold:         cfg.UtilizationThresholdAlarmLowerBound,
			EvaluationPeriods: cfg.EvaluationPeriods,
			DatapointsToAlarm: cfg.DatapointsToAlarm,
		},
	}, log)

	engine := policy.NewEngine(policy.Settings{
		IdleThresholdHours:            cfg.IdleThresholdHours,
		AutoDeleteOrStopIdleResources: cfg.AutoDeleteOrStopIdleResources,
		AutoAdjustMinRate:             cfg.AutoAdjustMinRate,
	})

	topics := notifications.NewBootstrapper(
		func(region string) notifications.SNSAPI { return factory.SNS(region) },
		func(region string) notifications.RulesAPI { return factory.EventBridge(region) },
		cfg.NotificationEndpoint,
		log,
	)

	alarmManager := alarms.NewManager(
		alarms.NewCloudWatchStore(func(region string) alarms.CloudWatchAPI { return factory.CloudWatch(region) }),
		alarms.Options{
			UtilizationAlarms:    cfg.AutoCreateUtilizationAlarms,
			UtilizationThreshold: cfg.UtilizationThresholdAlarmLowerBound,
			EvaluationPeriods:    cfg.EvaluationPeriods,
			DatapointsToAlarm:    cfg.DatapointsToAlarm,
			IdleAlarms:           cfg.AutoCreateIdleAlarms,
			IdleThresholdHours:   cfg.IdleThresholdHours,
			ActionTargets:        topics.ActionTargets,
		},
		log,
	)

	publisher := events.NewEventBridgePublisher(
		func(region string) events.EventBridgeAPI { return factory.EventBridge(region) },
		cfg.EventBusName,
		log,
	)

	metrics := telemetry.New()

	a := &app{
		cfg:       cfg,
		log:       log,
		alarms:    alarmManager,
		telemetry: metrics,
	}

	deps := monitor.Deps{
		Registry:   reg,
		Aggregator: aggregator,
		Policy:     engine,
		Events:     publisher,
		Observers:  []monitor.PassObserver{metrics},
	}
	if cfg.AutoCreateUtilizationAlarms || cfg.AutoCreateIdleAlarms {
		deps.Alarms = alarmManager
		deps.Topics = topics
	}
	if cfg.PublishUtilizationMetrics {
		deps.Metrics = datasource.NewPublisher(cloudWatch)
	}
	if cfg.StorageEnabled {
		store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.store = store
		deps.History = store
	}

	dashboardRegion := factory.DefaultRegion()
	if dashboardRegion == "" && len(regions) > 0 {
		dashboardRegion = regions[0]
	}
	a.monitor = monitor.New(deps, monitor.Options{
		MaxConcurrency:  cfg.MaxConcurrency,
		PassTimeout:     cfg.PassTimeout,
		DashboardRegion: dashboardRegion,
	}, log)

	return a, nil
}

// runPass runs one pass, pushes its counters and reports failures to Sentry
func (a *app) runPass(ctx context.Context) (*models.PassReport, error) {
	report, err := a.monitor.RunOnce(ctx)
	if err != nil {
		sentry.CaptureException(err)
		return nil, err
	}

	if a.cfg.PushgatewayURL != "" {
		if err := a.telemetry.Push(ctx, a.cfg.PushgatewayURL); err != nil {
			a.log.Warn().Err(err).Msg("pushgateway push failed")
		}
	}

	if total := report.ErrorTotal(); total > 0 {
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("pass_id", report.ID)
			for kind, n := range report.ErrorCounts {
				scope.SetExtra(string(kind), n)
			}
			sentry.CaptureMessage(fmt.Sprintf("monitoring pass finished with %d error(s)", total))
		})
	}
	return report, nil
}

// RunOnce lets the HTTP server trigger passes
func (a *app) RunOnce(ctx context.Context) (*models.PassReport, error) {
	return a.runPass(ctx)
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close storage")
		}
	}
}
