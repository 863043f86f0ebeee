package esclient

import "fmt"

// NoStreamRevision is the expected revision for "the stream must not exist yet".
const NoStreamRevision int64 = -1

// StreamState is the precondition a backend checks atomically when appending.
type StreamState interface {
	// Int64 returns the wire value, using the KurrentDB markers for the sentinels.
	Int64() int64
}

// Any means append without checking current revision.
type Any struct{}

func (Any) Int64() int64 { return -2 }

func (Any) String() string { return "any" }

// NoStream means the stream should not exist yet.
type NoStream struct{}

func (NoStream) Int64() int64 { return NoStreamRevision }

func (NoStream) String() string { return "no stream" }

// StreamExists means the stream must exist.
type StreamExists struct{}

func (StreamExists) Int64() int64 { return -4 }

func (StreamExists) String() string { return "stream exists" }

// Revision matches exactly the revision of the last event in the stream.
type Revision uint64

func (r Revision) Int64() int64 { return int64(r) }

func (r Revision) String() string { return fmt.Sprintf("revision %d", uint64(r)) }

// ExpectedRevision converts a caller's last known revision into a StreamState.
// Any negative value means the stream must not exist yet.
func ExpectedRevision(revision int64) StreamState {
	if revision < 0 {
		return NoStream{}
	}
	return Revision(revision)
}
