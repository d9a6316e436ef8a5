package store

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"storefront/api/models"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// ActivityPublisher streams activity records to a Kafka topic, keyed by browser id.
type ActivityPublisher struct {
	w MessageWriter
}

func NewActivityPublisher(w MessageWriter) *ActivityPublisher {
	return &ActivityPublisher{w: w}
}

func (p *ActivityPublisher) WriteActivities(ctx context.Context, items []models.UserActivity) error {
	if len(items) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(items))
	for _, a := range items {
		value, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode activity %s: %w", a.ActivityID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(a.BrowserID),
			Value: value,
			Time:  a.LastActivity,
		})
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d activities: %w", len(msgs), err)
	}
	return nil
}
