package esclient

import "github.com/google/uuid"

// Command is an intent addressed to one aggregate.
type Command interface {
	AggregateID() uuid.UUID
}
