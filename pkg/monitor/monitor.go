// Package monitor runs monitoring passes: discover, summarize, decide,
// reconcile alarms and emit events for every resource.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/opscart/personalize-monitor/pkg/events"
	"github.com/opscart/personalize-monitor/pkg/models"
)

// Discoverer resolves the resources a pass monitors
type Discoverer interface {
	Discover(ctx context.Context) ([]*models.InferenceResource, []error)
}

// Summarizer derives a utilization summary from request metrics
type Summarizer interface {
	Summarize(ctx context.Context, res *models.InferenceResource, now time.Time) (*models.UtilizationSummary, error)
}

// Decider is the policy applied to a summary
type Decider interface {
	Evaluate(res *models.InferenceResource, summary *models.UtilizationSummary) *models.Decision
}

// AlarmReconciler keeps a resource's alarms in place
type AlarmReconciler interface {
	Reconcile(ctx context.Context, res *models.InferenceResource, summary *models.UtilizationSummary) (int, error)
}

// TopicResolver provisions the notification topic of each region
type TopicResolver interface {
	Resolve(ctx context.Context, regions []string) (map[string]string, error)
}

// MetricsPublisher writes the per-resource custom metrics
type MetricsPublisher interface {
	AddResource(res *models.InferenceResource, summary *models.UtilizationSummary)
	AddResourceCount(region string, count int)
	Flush(ctx context.Context) (int, error)
}

// HistoryStore persists finished passes
type HistoryStore interface {
	SavePass(ctx context.Context, report *models.PassReport) error
}

// PassObserver is told about every finished pass
type PassObserver interface {
	ObservePass(report *models.PassReport)
}

// Deps are the collaborators of a Monitor. Registry, Aggregator, Policy and
// Events are required; the rest are optional.
type Deps struct {
	Registry   Discoverer
	Aggregator Summarizer
	Policy     Decider
	Events     events.Publisher

	Alarms    AlarmReconciler
	Topics    TopicResolver
	Metrics   MetricsPublisher
	History   HistoryStore
	Observers []PassObserver
}

// Options tune pass execution
type Options struct {
	MaxConcurrency int
	PassTimeout    time.Duration
	// FinalizeTimeout bounds the work after the resource pool: metric flush,
	// dashboard event and history
	FinalizeTimeout time.Duration
	// DashboardRegion receives the dashboard rebuild event
	DashboardRegion string
}

// Monitor runs passes. It holds no state between passes.
type Monitor struct {
	deps Deps
	opts Options
	log  zerolog.Logger
	now  func() time.Time
}

func New(deps Deps, opts Options, log zerolog.Logger) *Monitor {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = 30 * time.Second
	}
	return &Monitor{
		deps: deps,
		opts: opts,
		log:  log.With().Str("component", "monitor").Logger(),
		now:  time.Now,
	}
}

// RunOnce performs one pass. Per-resource failures are recorded in the
// report; the returned error is only set when the pass could not start.
func (m *Monitor) RunOnce(ctx context.Context) (*models.PassReport, error) {
	if m.deps.Registry == nil || m.deps.Aggregator == nil || m.deps.Policy == nil || m.deps.Events == nil {
		return nil, &models.ConfigError{Err: errors.New("monitor is missing a required dependency")}
	}

	started := m.now().UTC()
	report := models.NewPassReport(uuid.NewString(), started)
	log := m.log.With().Str("pass_id", report.ID).Logger()
	log.Info().Msg("starting pass")

	passCtx := ctx
	if m.opts.PassTimeout > 0 {
		var cancel context.CancelFunc
		passCtx, cancel = context.WithTimeout(ctx, m.opts.PassTimeout)
		defer cancel()
	}

	resources, discoveryErrs := m.deps.Registry.Discover(passCtx)
	for _, err := range discoveryErrs {
		log.Warn().Err(err).Msg("discovery error")
		report.RecordError(err)
	}
	report.ResourcesDiscovered = len(resources)
	report.Regions = regionsOf(resources)

	if m.deps.Alarms != nil && m.deps.Topics != nil && len(report.Regions) > 0 {
		if _, err := m.deps.Topics.Resolve(passCtx, report.Regions); err != nil {
			log.Warn().Err(err).Msg("notification topic unavailable; alarms are created without actions until a later pass resolves it")
		}
	}

	report.Results = m.evaluateAll(passCtx, report.ID, resources, started, log)

	m.finalize(ctx, report, log)
	return report, nil
}

// evaluateAll runs the per-resource pipeline on a bounded pool. Each worker
// writes only its own slot of the results.
func (m *Monitor) evaluateAll(ctx context.Context, passID string, resources []*models.InferenceResource, now time.Time, log zerolog.Logger) []models.ResourceResult {
	results := make([]models.ResourceResult, len(resources))

	var g errgroup.Group
	g.SetLimit(m.opts.MaxConcurrency)
	for i, res := range resources {
		i, res := i, res
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = abandoned(res, err)
				return nil
			}
			results[i] = m.evaluate(ctx, passID, res, now, log)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (m *Monitor) evaluate(ctx context.Context, passID string, res *models.InferenceResource, now time.Time, passLog zerolog.Logger) (result models.ResourceResult) {
	start := time.Now()
	log := passLog.With().Str("arn", res.ARN).Str("region", res.Region).Logger()
	result = models.ResourceResult{ARN: res.ARN, Name: res.Name, Kind: res.Kind, Region: res.Region}
	defer func() { result.Duration = time.Since(start) }()

	summary, err := m.deps.Aggregator.Summarize(ctx, res, now)
	if err != nil {
		log.Warn().Err(err).Msg("skipping resource")
		return withError(result, err)
	}
	if m.deps.Metrics != nil {
		m.deps.Metrics.AddResource(res, summary)
	}

	decision := m.deps.Policy.Evaluate(res, summary)
	decision.ID = uuid.NewString()
	decision.PassID = passID
	decision.CreatedAt = now
	result.Decision = decision

	log.Info().
		Str("decision", string(decision.Type)).
		Float64("average_rate", summary.AverageRate).
		Int("current_min_rate", res.CurrentMinRate).
		Str("reason", decision.Reason).
		Msg("evaluated resource")

	var errs *multierror.Error

	// a resource about to be deleted or stopped gets no new alarms
	if m.deps.Alarms != nil && decision.Type != models.MarkIdle {
		created, err := m.deps.Alarms.Reconcile(ctx, res, summary)
		result.AlarmsCreated = created
		if err != nil {
			log.Warn().Err(err).Msg("alarm reconcile failed")
			errs = multierror.Append(errs, err)
		}
	}

	if event, ok := events.FromDecision(decision, now); ok {
		if err := m.deps.Events.Publish(ctx, event); err != nil {
			log.Warn().Err(err).Str("detail_type", event.DetailType).Msg("event not published")
			errs = multierror.Append(errs, err)
		} else {
			result.EventPublished = true
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return withError(result, err)
	}
	return result
}

func (m *Monitor) finalize(ctx context.Context, report *models.PassReport, log zerolog.Logger) {
	for _, r := range report.Results {
		if r.Decision != nil {
			report.ResourcesEvaluated++
			report.Decisions[r.Decision.Type]++
		}
		report.AlarmsCreated += r.AlarmsCreated
		if r.EventPublished {
			report.EventsPublished++
		}
		for _, err := range flatten(r.Err) {
			report.RecordError(err)
		}
	}

	// the pass deadline may have expired; bookkeeping still gets its own budget
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.FinalizeTimeout)
	defer cancel()

	if m.deps.Metrics != nil {
		counts := make(map[string]int)
		for _, r := range report.Results {
			counts[r.Region]++
		}
		for _, region := range report.Regions {
			m.deps.Metrics.AddResourceCount(region, counts[region])
		}
		written, err := m.deps.Metrics.Flush(fctx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to publish utilization metrics")
		}
		log.Debug().Int("datums", written).Msg("published utilization metrics")
	}

	if report.AlarmsCreated > 0 {
		region := m.opts.DashboardRegion
		if region == "" && len(report.Regions) > 0 {
			region = report.Regions[0]
		}
		event := events.DashboardRebuild(region, report.AlarmsCreated, m.now().UTC())
		if err := m.deps.Events.Publish(fctx, event); err != nil {
			log.Warn().Err(err).Msg("dashboard rebuild event not published")
			report.RecordError(err)
		} else {
			report.DashboardRebuild = true
			report.EventsPublished++
		}
	}

	report.FinishedAt = m.now().UTC()

	if m.deps.History != nil {
		if err := m.deps.History.SavePass(fctx, report); err != nil {
			log.Warn().Err(err).Msg("failed to save pass history")
		}
	}
	for _, o := range m.deps.Observers {
		o.ObservePass(report)
	}

	log.Info().
		Int("discovered", report.ResourcesDiscovered).
		Int("evaluated", report.ResourcesEvaluated).
		Int("lower_min_rate", report.Decisions[models.LowerMinRate]).
		Int("mark_idle", report.Decisions[models.MarkIdle]).
		Int("alarms_created", report.AlarmsCreated).
		Int("events_published", report.EventsPublished).
		Int("errors", report.ErrorTotal()).
		Dur("duration", report.Duration()).
		Msg("pass complete")
}

// abandoned is the result of a resource the pass deadline left unevaluated
func abandoned(res *models.InferenceResource, cause error) models.ResourceResult {
	result := models.ResourceResult{ARN: res.ARN, Name: res.Name, Kind: res.Kind, Region: res.Region}
	return withError(result, &models.MetricsUnavailableError{ARN: res.ARN, Err: cause})
}

func withError(result models.ResourceResult, err error) models.ResourceResult {
	result.Err = err
	result.ErrorKind = models.KindOf(err)
	result.Error = err.Error()
	return result
}

func flatten(err error) []error {
	if err == nil {
		return nil
	}
	var merr *multierror.Error
	if errors.As(err, &merr) {
		return merr.WrappedErrors()
	}
	return []error{err}
}

func regionsOf(resources []*models.InferenceResource) []string {
	seen := make(map[string]bool)
	var regions []string
	for _, r := range resources {
		if !seen[r.Region] {
			seen[r.Region] = true
			regions = append(regions, r.Region)
		}
	}
	return regions
}
