// Package notifications provisions the per-region SNS topic that alarms and
// actor notifications are delivered to.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/opscart/personalize-monitor/pkg/awsclients"
	"github.com/opscart/personalize-monitor/pkg/models"
)

// Names of the provisioned resources
const (
	TopicName = models.ApplicationName + "Notifications"
	RuleName  = models.ApplicationName + "-NotificationsRule"
	TargetID  = models.ApplicationName + "NotificationsId"
)

// NotificationDetailTypes are the actor events forwarded to the topic
var NotificationDetailTypes = []string{
	models.DetailCampaignMinTPSUpdated,
	models.DetailCampaignDeleted,
	models.DetailRecommenderMinRPSUpdated,
	models.DetailRecommenderStopped,
}

// SNSAPI is the subset of the SNS client used here
type SNSAPI interface {
	CreateTopic(ctx context.Context, in *sns.CreateTopicInput, opts ...func(*sns.Options)) (*sns.CreateTopicOutput, error)
	SetTopicAttributes(ctx context.Context, in *sns.SetTopicAttributesInput, opts ...func(*sns.Options)) (*sns.SetTopicAttributesOutput, error)
	ListSubscriptionsByTopic(ctx context.Context, in *sns.ListSubscriptionsByTopicInput, opts ...func(*sns.Options)) (*sns.ListSubscriptionsByTopicOutput, error)
	GetSubscriptionAttributes(ctx context.Context, in *sns.GetSubscriptionAttributesInput, opts ...func(*sns.Options)) (*sns.GetSubscriptionAttributesOutput, error)
	Subscribe(ctx context.Context, in *sns.SubscribeInput, opts ...func(*sns.Options)) (*sns.SubscribeOutput, error)
}

// RulesAPI is the subset of the EventBridge client used here
type RulesAPI interface {
	DescribeRule(ctx context.Context, in *eventbridge.DescribeRuleInput, opts ...func(*eventbridge.Options)) (*eventbridge.DescribeRuleOutput, error)
	PutRule(ctx context.Context, in *eventbridge.PutRuleInput, opts ...func(*eventbridge.Options)) (*eventbridge.PutRuleOutput, error)
	PutTargets(ctx context.Context, in *eventbridge.PutTargetsInput, opts ...func(*eventbridge.Options)) (*eventbridge.PutTargetsOutput, error)
}

// Bootstrapper ensures the topic, routing rule and subscription exist.
// Topic ARNs are cached per region for the life of the process.
type Bootstrapper struct {
	topics   func(region string) SNSAPI
	rules    func(region string) RulesAPI
	endpoint string
	log      zerolog.Logger

	mu    sync.Mutex
	cache map[string]string
}

func NewBootstrapper(topics func(region string) SNSAPI, rules func(region string) RulesAPI, endpoint string, log zerolog.Logger) *Bootstrapper {
	return &Bootstrapper{
		topics:   topics,
		rules:    rules,
		endpoint: endpoint,
		log:      log.With().Str("component", "notifications").Logger(),
		cache:    make(map[string]string),
	}
}

// Resolve ensures the topic in every region. Regions that fail are left out
// of the result and reported in the returned error.
func (b *Bootstrapper) Resolve(ctx context.Context, regions []string) (map[string]string, error) {
	arns := make(map[string]string, len(regions))
	var result *multierror.Error
	for _, region := range regions {
		arn, err := b.TopicARN(ctx, region)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		arns[region] = arn
	}
	return arns, result.ErrorOrNil()
}

// ActionTargets returns the already resolved topic of region as alarm
// actions, or nil when the region has not been resolved
func (b *Bootstrapper) ActionTargets(region string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if arn, ok := b.cache[region]; ok {
		return []string{arn}
	}
	return nil
}

// TopicARN returns the notification topic of region, creating it and its
// routing on first use
func (b *Bootstrapper) TopicARN(ctx context.Context, region string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if arn, ok := b.cache[region]; ok {
		return arn, nil
	}

	log := b.log.With().Str("region", region).Logger()
	client := b.topics(region)

	created, err := client.CreateTopic(ctx, &sns.CreateTopicInput{Name: aws.String(TopicName)})
	if err != nil {
		return "", fmt.Errorf("failed to create topic %s in %s: %w", TopicName, region, err)
	}
	topicARN := aws.ToString(created.TopicArn)

	policy, err := publishPolicy(topicARN)
	if err != nil {
		return "", err
	}
	if _, err := client.SetTopicAttributes(ctx, &sns.SetTopicAttributesInput{
		TopicArn:       aws.String(topicARN),
		AttributeName:  aws.String("Policy"),
		AttributeValue: aws.String(policy),
	}); err != nil {
		return "", fmt.Errorf("failed to set policy on %s: %w", topicARN, err)
	}

	if err := b.ensureRule(ctx, region, topicARN); err != nil {
		return "", err
	}
	if err := b.ensureSubscription(ctx, client, topicARN, log); err != nil {
		return "", err
	}

	b.cache[region] = topicARN
	log.Info().Str("topic", topicARN).Msg("notification topic ready")
	return topicARN, nil
}

func (b *Bootstrapper) ensureRule(ctx context.Context, region, topicARN string) error {
	rules := b.rules(region)

	_, err := rules.DescribeRule(ctx, &eventbridge.DescribeRuleInput{Name: aws.String(RuleName)})
	if err == nil {
		return nil
	}
	if !awsclients.IsNotFound(err) {
		return fmt.Errorf("failed to describe rule %s in %s: %w", RuleName, region, err)
	}

	pattern, err := json.Marshal(map[string][]string{
		"detail-type": NotificationDetailTypes,
		"source":      {models.EventSource},
	})
	if err != nil {
		return err
	}

	b.log.Info().Str("region", region).Str("rule", RuleName).Msg("creating notifications rule")
	if _, err := rules.PutRule(ctx, &eventbridge.PutRuleInput{
		Name:         aws.String(RuleName),
		EventPattern: aws.String(string(pattern)),
		State:        ebtypes.RuleStateEnabled,
		Description:  aws.String("Routes Personalize Monitor notifications to notification SNS topic"),
	}); err != nil {
		return fmt.Errorf("failed to create rule %s in %s: %w", RuleName, region, err)
	}

	out, err := rules.PutTargets(ctx, &eventbridge.PutTargetsInput{
		Rule:    aws.String(RuleName),
		Targets: []ebtypes.Target{{Id: aws.String(TargetID), Arn: aws.String(topicARN)}},
	})
	if err != nil {
		return fmt.Errorf("failed to set target on rule %s: %w", RuleName, err)
	}
	if out.FailedEntryCount > 0 {
		return fmt.Errorf("rule %s rejected target %s", RuleName, topicARN)
	}
	return nil
}

func (b *Bootstrapper) ensureSubscription(ctx context.Context, client SNSAPI, topicARN string, log zerolog.Logger) error {
	if b.endpoint == "" {
		log.Warn().Msg("no notification endpoint configured so not adding subscriber")
		return nil
	}

	paginator := sns.NewListSubscriptionsByTopicPaginator(client, &sns.ListSubscriptionsByTopicInput{TopicArn: aws.String(topicARN)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list subscriptions of %s: %w", topicARN, err)
		}
		for _, sub := range page.Subscriptions {
			if aws.ToString(sub.Endpoint) != b.endpoint {
				continue
			}
			if sub.SubscriptionArn != nil && aws.ToString(sub.SubscriptionArn) != "PendingConfirmation" {
				attrs, err := client.GetSubscriptionAttributes(ctx, &sns.GetSubscriptionAttributesInput{SubscriptionArn: sub.SubscriptionArn})
				if err == nil && attrs.Attributes["PendingConfirmation"] != "true" {
					log.Debug().Str("endpoint", b.endpoint).Msg("endpoint is subscribed and confirmed")
					return nil
				}
			}
			log.Warn().Str("endpoint", b.endpoint).Msg("topic subscription is still pending confirmation")
			return nil
		}
	}

	log.Info().Str("endpoint", b.endpoint).Str("topic", topicARN).Msg("subscribing endpoint")
	if _, err := client.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn: aws.String(topicARN),
		Protocol: aws.String("email"),
		Endpoint: aws.String(b.endpoint),
	}); err != nil {
		return fmt.Errorf("failed to subscribe %s to %s: %w", b.endpoint, topicARN, err)
	}
	return nil
}

type policyDocument struct {
	Version   string            `json:"Version"`
	ID        string            `json:"Id"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Effect    string              `json:"Effect"`
	Principal map[string][]string `json:"Principal"`
	Action    []string            `json:"Action"`
	Resource  string              `json:"Resource"`
}

// publishPolicy lets CloudWatch alarms and EventBridge rules publish to the topic
func publishPolicy(topicARN string) (string, error) {
	doc := policyDocument{
		Version: "2008-10-17",
		ID:      "PublishPolicy",
		Statement: []policyStatement{{
			Effect:    "Allow",
			Principal: map[string][]string{"Service": {"cloudwatch.amazonaws.com", "events.amazonaws.com"}},
			Action:    []string{"sns:Publish"},
			Resource:  topicARN,
		}},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode topic policy: %w", err)
	}
	return string(b), nil
}
