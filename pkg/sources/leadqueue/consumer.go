// Package leadqueue consumes lead activity events pushed by the CRM layer
// onto a Redis list and forwards them to the trigger matcher.
package leadqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/leadflow/leadflow/pkg/eventbus"
	"github.com/leadflow/leadflow/pkg/events"
)

const DefaultQueue = "leadflow:lead-events"

// queueMessage is the wire form the CRM pushes: a flat JSON object with an
// event_type discriminator.
type queueMessage struct {
	EventType string `json:"event_type"`
	LeadID    string `json:"lead_id"`
	Tag       string `json:"tag,omitempty"`
	Source    string `json:"source,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Consumer pops lead events off a Redis list and republishes them on the
// event bus, where the trigger matcher picks them up.
type Consumer struct {
	queue     string
	client    redis.UniversalClient
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func NewConsumer(redisURL, queue string, publisher eventbus.EventPublisher, logger *slog.Logger) (*Consumer, error) {
	if queue == "" {
		queue = DefaultQueue
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	return &Consumer{
		queue:     queue,
		client:    redis.NewClient(opts),
		publisher: publisher,
		logger:    logger.With("module", "leadqueue", "queue", queue),
		stopCh:    make(chan struct{}),
	}, nil
}

func (c *Consumer) Start(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.client.Ping(pingCtx).Err()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c.logger.InfoContext(ctx, "Starting lead event consumer")

	c.wg.Add(1)

	go c.consume(ctx)

	return nil
}

func (c *Consumer) consume(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			c.logger.InfoContext(ctx, "Lead event consumer stopped")

			return
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Context cancelled, stopping lead event consumer")

			return
		default:
			err := c.processMessage(ctx)
			if err != nil {
				c.logger.ErrorContext(ctx, "Error processing lead event", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context) error {
	result, err := c.client.BLPop(ctx, 1*time.Second, c.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop lead event: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	var msg queueMessage

	err = json.Unmarshal([]byte(result[1]), &msg)
	if err != nil {
		return fmt.Errorf("malformed lead event %q: %w", result[1], err)
	}

	if msg.LeadID == "" {
		return fmt.Errorf("lead event without lead_id: %q", result[1])
	}

	event, err := c.toEvent(msg)
	if err != nil {
		return err
	}

	return c.publisher.Publish(ctx, msg.LeadID, event)
}

func (c *Consumer) toEvent(msg queueMessage) (eventbus.Event, error) {
	switch events.EventType(msg.EventType) {
	case events.LeadTagAddedEvent:
		return events.LeadTagAdded{
			BaseEvent: events.NewBaseEvent(events.LeadTagAddedEvent),
			LeadID:    msg.LeadID,
			Tag:       msg.Tag,
		}, nil
	case events.LeadCreatedEvent:
		return events.LeadCreated{
			BaseEvent: events.NewBaseEvent(events.LeadCreatedEvent),
			LeadID:    msg.LeadID,
			Source:    msg.Source,
		}, nil
	case events.LeadRepliedEvent:
		return events.LeadReplied{
			BaseEvent: events.NewBaseEvent(events.LeadRepliedEvent),
			LeadID:    msg.LeadID,
			Content:   msg.Content,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported lead event type %q", msg.EventType)
	}
}

func (c *Consumer) Stop(ctx context.Context) error {
	close(c.stopCh)
	c.wg.Wait()

	if c.client != nil {
		err := c.client.Close()
		if err != nil {
			c.logger.ErrorContext(ctx, "Error closing Redis client", "error", err)
		}
	}

	return nil
}
