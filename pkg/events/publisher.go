package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog"

	"github.com/opscart/personalize-monitor/pkg/models"
)

// Publisher delivers one event to the bus
type Publisher interface {
	Publish(ctx context.Context, event models.DecisionEvent) error
}

// EventBridgeAPI is the subset of the EventBridge client used to publish
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, opts ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgePublisher puts events on an EventBridge bus in the event's region
type EventBridgePublisher struct {
	clients func(region string) EventBridgeAPI
	busName string
	log     zerolog.Logger
}

func NewEventBridgePublisher(clients func(region string) EventBridgeAPI, busName string, log zerolog.Logger) *EventBridgePublisher {
	return &EventBridgePublisher{
		clients: clients,
		busName: busName,
		log:     log.With().Str("component", "events").Logger(),
	}
}

// Publish sends event. A rejected entry is reported as EventPublishError.
func (p *EventBridgePublisher) Publish(ctx context.Context, event models.DecisionEvent) error {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return &models.EventPublishError{ARN: event.ResourceARN, DetailType: event.DetailType, Err: err}
	}

	entry := types.PutEventsRequestEntry{
		Source:     aws.String(models.EventSource),
		DetailType: aws.String(event.DetailType),
		Detail:     aws.String(string(detail)),
	}
	if p.busName != "" {
		entry.EventBusName = aws.String(p.busName)
	}
	if event.ResourceARN != "" {
		entry.Resources = []string{event.ResourceARN}
	}
	if !event.Time.IsZero() {
		entry.Time = aws.Time(event.Time)
	}

	out, err := p.clients(event.Region).PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{entry},
	})
	if err != nil {
		return &models.EventPublishError{ARN: event.ResourceARN, DetailType: event.DetailType, Err: err}
	}
	if out.FailedEntryCount > 0 {
		reason := "entry rejected"
		if len(out.Entries) > 0 && out.Entries[0].ErrorCode != nil {
			reason = fmt.Sprintf("%s: %s", aws.ToString(out.Entries[0].ErrorCode), aws.ToString(out.Entries[0].ErrorMessage))
		}
		return &models.EventPublishError{ARN: event.ResourceARN, DetailType: event.DetailType, Err: errors.New(reason)}
	}

	p.log.Info().
		Str("event_id", event.ID).
		Str("detail_type", event.DetailType).
		Str("arn", event.ResourceARN).
		Str("region", event.Region).
		Msg("published event")
	return nil
}
