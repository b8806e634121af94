// Package handlers connects the message queue and the event bus to the
// import services.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/fundflow/receipts/modules/imports/services"
	"github.com/fundflow/receipts/pkg/composables"
	"github.com/fundflow/receipts/pkg/queue"
)

// QueueDispatcher routes relayed messages to the parse and scheduler
// services. Returning an error nacks the message for redelivery with backoff.
type QueueDispatcher struct {
	pool      *pgxpool.Pool
	logger    *logrus.Logger
	parser    *services.ParseService
	scheduler *services.SchedulerService
}

func NewQueueDispatcher(
	pool *pgxpool.Pool,
	logger *logrus.Logger,
	parser *services.ParseService,
	scheduler *services.SchedulerService,
) *QueueDispatcher {
	return &QueueDispatcher{
		pool:      pool,
		logger:    logger,
		parser:    parser,
		scheduler: scheduler,
	}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, msg queue.DispatchedMessage) error {
	var payload services.JobMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("malformed payload for %s: %w", msg.Meta.Topic, err)
	}

	entry := d.logger.WithFields(logrus.Fields{
		"topic":    msg.Meta.Topic,
		"event_id": msg.Meta.EventID,
		"attempt":  msg.Meta.Attempts,
		"job_id":   payload.JobID,
	})
	ctx = composables.WithPool(ctx, d.pool)
	ctx = composables.WithLogger(ctx, entry)

	switch msg.Meta.Topic {
	case services.TopicParse:
		return d.parser.Run(ctx, payload.JobID)
	case services.TopicProcess:
		return d.scheduler.RunOnce(ctx, payload.JobID)
	default:
		return fmt.Errorf("no handler for topic %s", msg.Meta.Topic)
	}
}
