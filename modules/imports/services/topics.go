package services

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/fundflow/receipts/pkg/composables"
	"github.com/fundflow/receipts/pkg/queue"
)

const (
	TopicParse   = "import.parse.v1"
	TopicProcess = "import.process.v1"
)

// JobMessage is the only payload the queue carries. All job state lives in
// the database, so a lost or duplicated message is harmless to replay.
type JobMessage struct {
	JobID uuid.UUID `json:"job_id"`
}

func enqueueJobMessage(ctx context.Context, publisher queue.Publisher, topic string, jobID uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(JobMessage{JobID: jobID})
	if err != nil {
		return errors.Wrap(err, "failed to marshal job message")
	}
	_, err = publisher.Enqueue(ctx, tx, queue.Message{
		Topic:   topic,
		EventID: uuid.New(),
		Payload: payload,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to enqueue %s", topic)
	}
	return nil
}
