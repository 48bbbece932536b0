// Package broker adapts a Kafka cluster to the minimal surface a session
// needs: connect, list topics, assign explicit partitions, poll one record
// at a time, disconnect. It deliberately never uses a consumer group — each
// session owns its own explicit partition assignment so the broker never
// attempts a rebalance against it (spec.md §9).
package broker

import (
	"context"

	"github.com/c360/kasocki/assignment"
	"github.com/c360/kasocki/message"
)

// ResetPolicy controls where a session lands when its requested offset is
// beyond the partition's retained range.
type ResetPolicy string

const (
	ResetLatest   ResetPolicy = "latest"
	ResetEarliest ResetPolicy = "earliest"
)

// Config carries connection parameters as an opaque map so transport
// details (bootstrap servers, security protocol, SASL, TLS material) can be
// supplied without the broker package knowing about every deployment's
// config schema.
type Config struct {
	Brokers  []string
	ClientID string
	Reset    ResetPolicy
	Opts     map[string]any
}

// Broker is the surface a session depends on. One Broker instance backs
// exactly one session's lifetime.
type Broker interface {
	// Connect opens the underlying client. Called once, before any other
	// method.
	Connect(ctx context.Context, cfg Config) error

	// ListTopics returns every topic visible to this client mapped to its
	// partition ids.
	ListTopics(ctx context.Context) (map[string][]int32, error)

	// Assign replaces the current partition assignment with assignments.
	// Calling Assign again (e.g. after a filter reset does NOT call this —
	// only subscribe does) tears down the previous set first.
	Assign(ctx context.Context, assignments []assignment.Assignment) error

	// PollOne returns the next record across all assigned partitions,
	// blocking until one arrives, ctx is done, or a hard error occurs.
	PollOne(ctx context.Context) (message.Record, error)

	// Disconnect tears down every partition consumer and the client,
	// bounded by an internal timeout. Never panics; a timed-out close is
	// abandoned and treated as non-fatal. It is neither logged nor returned.
	Disconnect() error
}
