// Package registry resolves the campaigns and recommenders to monitor.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/personalize"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/opscart/personalize-monitor/pkg/arn"
	"github.com/opscart/personalize-monitor/pkg/awsclients"
	"github.com/opscart/personalize-monitor/pkg/models"
)

// PersonalizeAPI is the subset of the Personalize client used for discovery
type PersonalizeAPI interface {
	DescribeCampaign(ctx context.Context, in *personalize.DescribeCampaignInput, opts ...func(*personalize.Options)) (*personalize.DescribeCampaignOutput, error)
	DescribeRecommender(ctx context.Context, in *personalize.DescribeRecommenderInput, opts ...func(*personalize.Options)) (*personalize.DescribeRecommenderOutput, error)
	DescribeSolutionVersion(ctx context.Context, in *personalize.DescribeSolutionVersionInput, opts ...func(*personalize.Options)) (*personalize.DescribeSolutionVersionOutput, error)
	ListCampaigns(ctx context.Context, in *personalize.ListCampaignsInput, opts ...func(*personalize.Options)) (*personalize.ListCampaignsOutput, error)
	ListRecommenders(ctx context.Context, in *personalize.ListRecommendersInput, opts ...func(*personalize.Options)) (*personalize.ListRecommendersOutput, error)
}

// ClientFunc returns the Personalize client for a region
type ClientFunc func(region string) PersonalizeAPI

// Strategy selects which resources a pass monitors
type Strategy interface {
	regions() []string
}

// ExplicitList monitors exactly the given ARNs. Region and kind come from each ARN.
type ExplicitList struct {
	ARNs []string
	// Regions orders the output; regions not listed follow in sorted order
	Regions []string
}

// DiscoverAll monitors every campaign and recommender in each region
type DiscoverAll struct {
	Regions []string
}

func (s ExplicitList) regions() []string {
	seen := make(map[string]bool)
	var ordered []string
	for _, r := range s.Regions {
		if !seen[r] {
			seen[r] = true
			ordered = append(ordered, r)
		}
	}
	var extra []string
	for _, a := range s.ARNs {
		r := arn.Region(a)
		if r != "" && !seen[r] {
			seen[r] = true
			extra = append(extra, r)
		}
	}
	sort.Strings(extra)
	return append(ordered, extra...)
}

func (s DiscoverAll) regions() []string { return s.Regions }

type solutionInfo struct {
	recipeARN       string
	datasetGroupARN string
}

// Options tunes the registry
type Options struct {
	DescribeRatePerSecond float64
	CacheTTL              time.Duration
	CallTimeout           time.Duration
}

// Registry resolves a Strategy into resource descriptors
type Registry struct {
	clients   ClientFunc
	strategy  Strategy
	limiter   *rate.Limiter
	resources *Cache[*models.InferenceResource]
	recipes   *Cache[solutionInfo]
	timeout   time.Duration
	log       zerolog.Logger
}

func New(clients ClientFunc, strategy Strategy, opts Options, log zerolog.Logger) *Registry {
	rps := opts.DescribeRatePerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 22 * time.Minute
	}
	return &Registry{
		clients:   clients,
		strategy:  strategy,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		resources: NewCache[*models.InferenceResource](ttl),
		recipes:   NewCache[solutionInfo](ttl),
		timeout:   opts.CallTimeout,
		log:       log.With().Str("component", "registry").Logger(),
	}
}

// Discover returns the monitored resources, sorted by ARN within each region and
// with regions in configured order. Failures are per resource or per region and
// never abort the rest.
func (r *Registry) Discover(ctx context.Context) ([]*models.InferenceResource, []error) {
	regions := r.strategy.regions()
	perRegion := make([][]*models.InferenceResource, len(regions))
	perRegionErrs := make([][]error, len(regions))

	g, gctx := errgroup.WithContext(ctx)
	for i, region := range regions {
		i, region := i, region
		g.Go(func() error {
			switch s := r.strategy.(type) {
			case ExplicitList:
				perRegion[i], perRegionErrs[i] = r.resolveExplicit(gctx, region, s.ARNs)
			case DiscoverAll:
				perRegion[i], perRegionErrs[i] = r.discoverRegion(gctx, region)
			}
			return nil
		})
	}
	_ = g.Wait()

	var resources []*models.InferenceResource
	var errs []error
	for i := range regions {
		sort.Slice(perRegion[i], func(a, b int) bool { return perRegion[i][a].ARN < perRegion[i][b].ARN })
		resources = append(resources, perRegion[i]...)
		errs = append(errs, perRegionErrs[i]...)
	}
	return resources, errs
}

func (r *Registry) resolveExplicit(ctx context.Context, region string, arns []string) ([]*models.InferenceResource, []error) {
	var resources []*models.InferenceResource
	var errs []error
	seen := make(map[string]bool)

	for _, s := range arns {
		if arn.Region(s) != region || seen[s] {
			continue
		}
		seen[s] = true

		res, err := r.Lookup(ctx, s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !monitorable(res) {
			r.log.Info().Str("arn", s).Str("status", res.Status).Str("latest_update_status", res.LatestUpdateStatus).
				Msg("skipping resource that is not active")
			continue
		}
		resources = append(resources, res)
	}
	return resources, errs
}

func (r *Registry) discoverRegion(ctx context.Context, region string) ([]*models.InferenceResource, []error) {
	client := r.clients(region)
	var candidates []string

	campaigns := personalize.NewListCampaignsPaginator(client, &personalize.ListCampaignsInput{})
	for campaigns.HasMorePages() {
		var page *personalize.ListCampaignsOutput
		err := r.paced(ctx, func(ctx context.Context) (err error) {
			page, err = campaigns.NextPage(ctx)
			return err
		})
		if err != nil {
			return nil, []error{&models.DiscoveryError{Region: region, Err: err}}
		}
		for _, c := range page.Campaigns {
			if aws.ToString(c.Status) == models.StatusActive {
				candidates = append(candidates, aws.ToString(c.CampaignArn))
			}
		}
	}

	recommenders := personalize.NewListRecommendersPaginator(client, &personalize.ListRecommendersInput{})
	for recommenders.HasMorePages() {
		var page *personalize.ListRecommendersOutput
		err := r.paced(ctx, func(ctx context.Context) (err error) {
			page, err = recommenders.NextPage(ctx)
			return err
		})
		if err != nil {
			return nil, []error{&models.DiscoveryError{Region: region, Err: err}}
		}
		for _, rec := range page.Recommenders {
			if aws.ToString(rec.Status) == models.StatusActive {
				candidates = append(candidates, aws.ToString(rec.RecommenderArn))
			}
		}
	}

	r.log.Debug().Str("region", region).Int("candidates", len(candidates)).Msg("listed active resources")

	var resources []*models.InferenceResource
	var errs []error
	for _, s := range candidates {
		res, err := r.Lookup(ctx, s)
		if err != nil {
			// resources deleted between list and describe are not errors in discovery mode
			if awsclients.IsNotFound(err) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		if !monitorable(res) {
			continue
		}
		resources = append(resources, res)
	}
	return resources, errs
}

// paced waits for the describe rate limiter and runs call under the per-call timeout
func (r *Registry) paced(ctx context.Context, call func(context.Context) error) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return call(ctx)
}

// monitorable keeps active resources whose latest update is not a delete
func monitorable(res *models.InferenceResource) bool {
	return res.Status == models.StatusActive && !res.Deleting()
}

// Lookup describes a single resource. A throttled describe falls back to the
// cached descriptor when one is still fresh.
func (r *Registry) Lookup(ctx context.Context, resourceARN string) (*models.InferenceResource, error) {
	parsed, err := arn.Parse(resourceARN)
	if err != nil {
		return nil, &models.ResourceLookupError{ARN: resourceARN, Err: err}
	}
	kind, err := parsed.Kind()
	if err != nil {
		return nil, &models.ResourceLookupError{ARN: resourceARN, Err: err}
	}

	var res *models.InferenceResource
	switch kind {
	case models.KindCampaign:
		res, err = r.describeCampaign(ctx, parsed)
	case models.KindRecommender:
		res, err = r.describeRecommender(ctx, parsed)
	}

	if err != nil {
		if awsclients.IsThrottle(err) {
			if cached, ok := r.resources.Get(resourceARN); ok {
				r.log.Warn().Str("arn", resourceARN).Msg("describe throttled, using cached descriptor")
				return cached, nil
			}
		}
		return nil, &models.ResourceLookupError{ARN: resourceARN, Err: err}
	}

	r.resources.Set(resourceARN, res)
	return res, nil
}

func (r *Registry) describeCampaign(ctx context.Context, a *arn.ARN) (*models.InferenceResource, error) {
	client := r.clients(a.Region)

	var out *personalize.DescribeCampaignOutput
	err := r.paced(ctx, func(ctx context.Context) (err error) {
		out, err = client.DescribeCampaign(ctx, &personalize.DescribeCampaignInput{CampaignArn: aws.String(a.String())})
		return err
	})
	if err != nil {
		return nil, err
	}
	c := out.Campaign
	if c == nil {
		return nil, errors.New("empty campaign description")
	}

	res := &models.InferenceResource{
		ARN:            aws.ToString(c.CampaignArn),
		Name:           aws.ToString(c.Name),
		Kind:           models.KindCampaign,
		Region:         a.Region,
		CurrentMinRate: int(aws.ToInt32(c.MinProvisionedTPS)),
		CreatedAt:      aws.ToTime(c.CreationDateTime),
		LastUpdatedAt:  aws.ToTime(c.LastUpdatedDateTime),
		Status:         aws.ToString(c.Status),
	}
	if c.LatestCampaignUpdate != nil {
		res.LatestUpdateStatus = aws.ToString(c.LatestCampaignUpdate.Status)
	}

	svARN := aws.ToString(c.SolutionVersionArn)
	if svARN != "" {
		sv, err := r.solutionVersion(ctx, client, svARN)
		if err != nil {
			return nil, fmt.Errorf("failed to describe solution version %s: %w", svARN, err)
		}
		res.RecipeARN = sv.recipeARN
		res.DatasetGroupARN = sv.datasetGroupARN
		res.DatasetGroupName = arn.ResourceName(sv.datasetGroupARN)
	}
	return res, nil
}

func (r *Registry) solutionVersion(ctx context.Context, client PersonalizeAPI, svARN string) (solutionInfo, error) {
	if cached, ok := r.recipes.Get(svARN); ok {
		return cached, nil
	}

	var out *personalize.DescribeSolutionVersionOutput
	err := r.paced(ctx, func(ctx context.Context) (err error) {
		out, err = client.DescribeSolutionVersion(ctx, &personalize.DescribeSolutionVersionInput{SolutionVersionArn: aws.String(svARN)})
		return err
	})
	if err != nil {
		return solutionInfo{}, err
	}
	if out.SolutionVersion == nil {
		return solutionInfo{}, errors.New("empty solution version description")
	}
	info := solutionInfo{
		recipeARN:       aws.ToString(out.SolutionVersion.RecipeArn),
		datasetGroupARN: aws.ToString(out.SolutionVersion.DatasetGroupArn),
	}
	r.recipes.Set(svARN, info)
	return info, nil
}

func (r *Registry) describeRecommender(ctx context.Context, a *arn.ARN) (*models.InferenceResource, error) {
	var out *personalize.DescribeRecommenderOutput
	err := r.paced(ctx, func(ctx context.Context) (err error) {
		out, err = r.clients(a.Region).DescribeRecommender(ctx, &personalize.DescribeRecommenderInput{RecommenderArn: aws.String(a.String())})
		return err
	})
	if err != nil {
		return nil, err
	}
	rec := out.Recommender
	if rec == nil {
		return nil, errors.New("empty recommender description")
	}

	res := &models.InferenceResource{
		ARN:              aws.ToString(rec.RecommenderArn),
		Name:             aws.ToString(rec.Name),
		Kind:             models.KindRecommender,
		Region:           a.Region,
		RecipeARN:        aws.ToString(rec.RecipeArn),
		DatasetGroupARN:  aws.ToString(rec.DatasetGroupArn),
		DatasetGroupName: arn.ResourceName(aws.ToString(rec.DatasetGroupArn)),
		CreatedAt:        aws.ToTime(rec.CreationDateTime),
		LastUpdatedAt:    aws.ToTime(rec.LastUpdatedDateTime),
		Status:           aws.ToString(rec.Status),
	}
	if rec.RecommenderConfig != nil {
		res.CurrentMinRate = int(aws.ToInt32(rec.RecommenderConfig.MinRecommendationRequestsPerSecond))
	}
	if rec.LatestRecommenderUpdate != nil {
		res.LatestUpdateStatus = aws.ToString(rec.LatestRecommenderUpdate.Status)
	}
	return res, nil
}
