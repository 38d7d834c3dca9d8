// Package pubsub adapts a Google Cloud Pub/Sub subscription to the job
// queue interface.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/jayteealao/htbase/internal/capture"
)

// Queue receives capture jobs from a Pub/Sub subscription. Messages that
// fail to decode are acked and dropped so they cannot wedge the
// subscription.
type Queue struct {
	client *pubsub.Client
	sub    *pubsub.Subscription
	jobs   chan capture.Job
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// New connects to the subscription using Application Default Credentials
// and starts receiving in the background.
func New(ctx context.Context, projectID, subscriptionID string, logger *zap.Logger) (*Queue, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	sub := client.Subscription(subscriptionID)
	ok, err := sub.Exists(ctx)
	if err != nil {
		closeErr := client.Close()
		if closeErr != nil {
			logger.Warn("pubsub client close failed after existence check error", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check subscription %q: %w", subscriptionID, err)
	}
	if !ok {
		closeErr := client.Close()
		if closeErr != nil {
			logger.Warn("pubsub client close failed", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub subscription %q does not exist in project %q", subscriptionID, projectID)
	}

	recvCtx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		client: client,
		sub:    sub,
		jobs:   make(chan capture.Job),
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.receive(recvCtx)
	return q, nil
}

func (q *Queue) receive(ctx context.Context) {
	defer close(q.done)
	err := q.sub.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
		var job capture.Job
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			q.logger.Warn("dropping undecodable job message",
				zap.String("message_id", msg.ID),
				zap.Error(err))
			msg.Ack()
			return
		}
		if job.URL == "" || job.Tool == "" {
			q.logger.Warn("dropping job missing url or tool",
				zap.String("message_id", msg.ID))
			msg.Ack()
			return
		}
		select {
		case q.jobs <- job:
			msg.Ack()
		case <-msgCtx.Done():
			msg.Nack()
		}
	})
	if err != nil && ctx.Err() == nil {
		q.logger.Error("pubsub receive stopped", zap.Error(err))
	}
}

// Dequeue returns the next decoded job from the subscription.
func (q *Queue) Dequeue(ctx context.Context) (capture.Job, error) {
	select {
	case <-ctx.Done():
		return capture.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.jobs:
		if !ok {
			return capture.Job{}, fmt.Errorf("queue closed")
		}
		return job, nil
	}
}

// Close stops receiving and closes the client.
func (q *Queue) Close() {
	q.cancel()
	<-q.done
	if err := q.client.Close(); err != nil {
		q.logger.Warn("pubsub client close failed", zap.Error(err))
	}
}
