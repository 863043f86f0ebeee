package esclient

import (
	"time"

	"github.com/google/uuid"
)

// UnsetRevision marks an event that has not been read back from the store yet.
const UnsetRevision int64 = -1

var now = time.Now

// Event is a domain fact recorded in an aggregate's stream.
//
// Concrete events embed Base and return a constant tag from EventType.
// The tag is the key the Codec uses to find the variant again on read.
type Event interface {
	AggregateID() uuid.UUID
	EventType() string
	Revision() int64
	SetRevision(revision int64)
	CreatedDate() time.Time
}

// Base carries the fields every event shares. Revision is owned by the store:
// it is ignored on append and overwritten with the stored position on read.
type Base struct {
	Aggregate uuid.UUID `json:"aggregateId"`
	Rev       int64     `json:"revision"`
	Created   time.Time `json:"createdDate"`
}

// NewBase stamps the creation date with the producer's clock.
func NewBase(aggregateID uuid.UUID) Base {
	return Base{
		Aggregate: aggregateID,
		Rev:       UnsetRevision,
		Created:   now().UTC(),
	}
}

func (b *Base) AggregateID() uuid.UUID { return b.Aggregate }

func (b *Base) Revision() int64 { return b.Rev }

func (b *Base) SetRevision(revision int64) { b.Rev = revision }

func (b *Base) CreatedDate() time.Time { return b.Created }
