package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"
)

// Event envelope values for publish requests.
const (
	EventSource     = "media-publisher"
	EventDetailType = "PublishRequested"
)

// EventBridgeAPI is the subset of the EventBridge client used here.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBus emits a PublishRequested event. Deduplication is left to the
// rule target, which receives the run name in the detail.
type EventBus struct {
	client EventBridgeAPI
	bus    string
}

// NewEventBus returns a Starter for bus.
func NewEventBus(client EventBridgeAPI, bus string) *EventBus {
	return &EventBus{client: client, bus: bus}
}

type busDetail struct {
	Name string `json:"name"`
	PublishInput
}

func (b *EventBus) Start(ctx context.Context, name string, input PublishInput) (string, error) {
	detail, err := json.Marshal(busDetail{Name: executionName(name), PublishInput: input})
	if err != nil {
		return "", fmt.Errorf("marshal event detail: %w", err)
	}
	out, err := b.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{{
			EventBusName: aws.String(b.bus),
			Source:       aws.String(EventSource),
			DetailType:   aws.String(EventDetailType),
			Detail:       aws.String(string(detail)),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("PutEvents: %w", err)
	}
	if out.FailedEntryCount > 0 {
		for _, e := range out.Entries {
			if e.ErrorCode != nil {
				return "", fmt.Errorf("PutEvents entry failed: %s - %s", aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
			}
		}
		return "", fmt.Errorf("PutEvents: %d entries failed", out.FailedEntryCount)
	}
	id := ""
	if len(out.Entries) > 0 {
		id = aws.ToString(out.Entries[0].EventId)
	}
	log.Info().Str("jobId", input.JobID).Str("eventId", id).Msg("Publish event emitted")
	return id, nil
}
