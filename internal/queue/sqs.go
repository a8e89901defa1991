package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/openhls/s2-downloader/internal/config"
)

// SQSAPI is the subset of the SQS client used by this package.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue implements Publisher and Consumer over one SQS queue.
type SQSQueue struct {
	client            SQSAPI
	queueURL          string
	visibilityTimeout time.Duration
	waitTime          time.Duration
	logger            *slog.Logger
}

// NewSQSQueue creates a queue client for the configured to-download queue.
func NewSQSQueue(client SQSAPI, cfg config.QueueConfig, logger *slog.Logger) *SQSQueue {
	return &SQSQueue{
		client:            client,
		queueURL:          cfg.ToDownloadURL,
		visibilityTimeout: cfg.VisibilityTimeout,
		waitTime:          cfg.WaitTime,
		logger:            logger,
	}
}

// URL returns the queue URL.
func (q *SQSQueue) URL() string {
	return q.queueURL
}

// Publish sends one message to the queue.
func (q *SQSQueue) Publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to publish message for granule %s: %w", msg.ID, err)
	}
	return nil
}

// Run drains the queue with a fixed-size worker pool. Each worker is a
// straight-line receive / handle / delete loop; there are no channels
// between workers, the broker is the only coordination point.
func (q *SQSQueue) Run(ctx context.Context, workers int, handler Handler) error {
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			q.workerLoop(ctx, worker, handler)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (q *SQSQueue) workerLoop(ctx context.Context, worker int, handler Handler) {
	for ctx.Err() == nil {
		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     int32(q.waitTime.Seconds()),
			VisibilityTimeout:   int32(q.visibilityTimeout.Seconds()),
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.logger.Error("receive failed", slog.Int("worker", worker), slog.String("error", err.Error()))
			// Back off briefly so a broken queue does not spin the loop.
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, raw := range out.Messages {
			q.handleOne(ctx, worker, raw, handler)
		}
	}
}

func (q *SQSQueue) handleOne(ctx context.Context, worker int, raw types.Message, handler Handler) {
	var msg Message
	if err := json.Unmarshal([]byte(aws.ToString(raw.Body)), &msg); err != nil {
		// A malformed message will never parse; delete it rather than let
		// it cycle through redelivery forever.
		q.logger.Error("dropping malformed message",
			slog.Int("worker", worker),
			slog.String("error", err.Error()),
		)
		q.delete(ctx, raw)
		return
	}

	if err := handler(ctx, msg); err != nil {
		// Leave the message inflight; the broker redelivers it after the
		// visibility timeout.
		q.logger.Error("handler failed, message left for redelivery",
			slog.Int("worker", worker),
			slog.String("granule_id", msg.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	q.delete(ctx, raw)
}

func (q *SQSQueue) delete(ctx context.Context, raw types.Message) {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: raw.ReceiptHandle,
	})
	if err != nil {
		q.logger.Error("failed to delete message", slog.String("error", err.Error()))
	}
}

// Compile-time checks.
var (
	_ Publisher = (*SQSQueue)(nil)
	_ Consumer  = (*SQSQueue)(nil)
)
