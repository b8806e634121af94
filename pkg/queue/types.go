package queue

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Table is the durable message table drained by the Relay. Import jobs live
// entirely in their own tables; a message carries only a topic and a small
// JSON payload (the job id), so redelivery is always safe to replay.
const Table = "queue_messages"

// Message is the unit stored in queue_messages.
type Message struct {
	Topic   string
	EventID uuid.UUID
	Payload json.RawMessage
}

// Meta is the stable dispatch metadata (idempotency + ops).
type Meta struct {
	Topic    string
	EventID  uuid.UUID
	Sequence int64
	Attempts int
}

// DispatchedMessage is the unit delivered by Relay to a Dispatcher.
type DispatchedMessage struct {
	Meta    Meta
	Payload json.RawMessage
}
