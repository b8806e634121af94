package queue

import "github.com/google/uuid"

func uuidZero() uuid.UUID {
	return uuid.UUID{}
}
