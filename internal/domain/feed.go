package domain

import (
	"context"
	"time"
)

// RawAlert is an unparsed alert message from the feed topic, with enough
// metadata to commit its offset after a successful load.
type RawAlert struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Headers   map[string]string

	// Commit acknowledges the message after it has been durably handled.
	// Nil when the source does not track offsets.
	Commit func(ctx context.Context) error
}
