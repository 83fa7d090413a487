package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/S-Corkum/prd-engine/internal/models"
	"github.com/S-Corkum/prd-engine/internal/observability"
)

const (
	// receiveWaitSeconds enables long polling on Lease
	receiveWaitSeconds = 10

	// visibilityTimeoutSeconds is how long a leased message stays hidden
	visibilityTimeoutSeconds = 300
)

// SQSAPI is the slice of the SQS client the queue uses; tests inject a fake
type SQSAPI interface {
	SendMessage(ctx context.Context, input *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, input *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue is the production JobQueue backed by one SQS queue
type SQSQueue struct {
	client   SQSAPI
	queueURL string
	logger   observability.Logger
}

// NewSQSQueue builds the queue from ambient AWS configuration
func NewSQSQueue(ctx context.Context, queueURL string, logger observability.Logger) (*SQSQueue, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, models.WrapError(models.ErrProcessingFailed, "loading aws config", err)
	}
	return NewSQSQueueWithAPI(sqs.NewFromConfig(cfg), queueURL, logger), nil
}

// NewSQSQueueWithAPI injects a custom SQSAPI, used by tests and LocalStack
func NewSQSQueueWithAPI(api SQSAPI, queueURL string, logger observability.Logger) *SQSQueue {
	return &SQSQueue{client: api, queueURL: queueURL, logger: logger}
}

func (q *SQSQueue) Enqueue(ctx context.Context, msg JobMessage) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return models.WrapError(models.ErrProcessingFailed, "encoding job message", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return models.WrapError(models.ErrProcessingFailed, "enqueueing job", err)
	}
	return nil
}

func (q *SQSQueue) Lease(ctx context.Context, workerID string) (*Lease, error) {
	resp, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     receiveWaitSeconds,
		VisibilityTimeout:   visibilityTimeoutSeconds,
	})
	if err != nil {
		return nil, models.WrapError(models.ErrProcessingFailed, "receiving job", err)
	}
	for _, raw := range resp.Messages {
		var msg JobMessage
		if err := json.Unmarshal([]byte(aws.ToString(raw.Body)), &msg); err != nil {
			// A malformed body can never succeed; drop it.
			q.logger.Warn("dropping malformed queue message", map[string]interface{}{
				"worker_id": workerID,
				"error":     err.Error(),
			})
			_, _ = q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(q.queueURL),
				ReceiptHandle: raw.ReceiptHandle,
			})
			continue
		}
		return &Lease{Message: msg, receipt: aws.ToString(raw.ReceiptHandle)}, nil
	}
	return nil, nil
}

func (q *SQSQueue) Ack(ctx context.Context, lease *Lease) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(lease.receipt),
	})
	if err != nil {
		return models.WrapError(models.ErrProcessingFailed, "acking job", err)
	}
	return nil
}

// Fail re-enqueues retryable failures with the attempt counter bumped before
// deleting the original delivery; fatal failures are dropped
func (q *SQSQueue) Fail(ctx context.Context, lease *Lease, reason string, retryable bool) error {
	if retryable {
		retry := lease.Message
		retry.Attempt++
		if err := q.Enqueue(ctx, retry); err != nil {
			return err
		}
	}
	q.logger.Info("job delivery failed", map[string]interface{}{
		"job_id":    lease.Message.JobID,
		"attempt":   lease.Message.Attempt,
		"reason":    reason,
		"retryable": retryable,
	})
	return q.Ack(ctx, lease)
}
