package events

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
)

// EventBridgeAPI is the subset of the EventBridge client used here.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgePublisher puts events on an EventBridge bus.
type EventBridgePublisher struct {
	api     EventBridgeAPI
	busName string
}

// NewEventBridgePublisher creates a publisher. An empty bus name means
// "default".
func NewEventBridgePublisher(api EventBridgeAPI, busName string) *EventBridgePublisher {
	if busName == "" {
		busName = "default"
	}
	return &EventBridgePublisher{api: api, busName: busName}
}

// Publish sends one event.
func (p *EventBridgePublisher) Publish(ctx context.Context, ev Event) error {
	detail, err := ev.Detail()
	if err != nil {
		return fmt.Errorf("encoding %s detail: %w", ev.Type, err)
	}
	entry := types.PutEventsRequestEntry{
		Source:       aws.String(Source),
		DetailType:   aws.String(string(ev.Type)),
		Detail:       aws.String(detail),
		EventBusName: aws.String(p.busName),
	}
	if !ev.Timestamp.IsZero() {
		entry.Time = aws.Time(ev.Timestamp)
	}

	out, err := p.api.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{entry},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", ev.Type, err)
	}
	if out.FailedEntryCount > 0 && len(out.Entries) > 0 {
		e := out.Entries[0]
		return fmt.Errorf("put %s rejected: %s %s", ev.Type, aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
	}
	return nil
}
