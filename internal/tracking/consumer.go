package tracking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// Consumer drains tracking events published by the tracking service and
// records them through a store-backed sink.
type Consumer struct {
	client   SQSAPI
	queueURL string
	sink     EventSink
	done     chan struct{}
}

func NewConsumer(client SQSAPI, queueURL string, sink EventSink) *Consumer {
	return &Consumer{
		client:   client,
		queueURL: queueURL,
		sink:     sink,
		done:     make(chan struct{}),
	}
}

func (c *Consumer) Start(ctx context.Context) {
	logger.Info("SQS tracking consumer started", "component", "tracking", "queue", c.queueURL)
	go c.poll(ctx)
}

func (c *Consumer) Stop() {
	close(c.done)
}

func (c *Consumer) poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		if err := c.PollOnce(ctx, 20); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("SQS receive error", "component", "tracking", "error", err)
			time.Sleep(5 * time.Second)
		}
	}
}

// PollOnce receives one batch and records every event in it. Messages that
// fail to record stay on the queue for redelivery; malformed ones are dropped.
func (c *Consumer) PollOnce(ctx context.Context, waitSeconds int32) error {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     waitSeconds,
	})
	if err != nil {
		return err
	}

	for _, msg := range out.Messages {
		var evt domain.TrackingEvent
		if msg.Body == nil || json.Unmarshal([]byte(*msg.Body), &evt) != nil {
			logger.Warn("SQS bad message", "component", "tracking")
			c.deleteMessage(ctx, msg.ReceiptHandle)
			continue
		}

		if err := c.sink.Record(ctx, evt); err != nil {
			logger.Error("SQS process error", "component", "tracking", "event", string(evt.EventType), "error", err)
			continue
		}

		c.deleteMessage(ctx, msg.ReceiptHandle)
	}
	return nil
}

func (c *Consumer) deleteMessage(ctx context.Context, handle *string) {
	if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	}); err != nil {
		logger.Warn("SQS delete failed", "component", "tracking", "error", err)
	}
}
