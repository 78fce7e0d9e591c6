// Package netbuf implements the "network" buffer backend: a stream edge whose
// writer and readers are connected by a publish/subscribe transport instead
// of shared memory.
//
// The writer half (Sender) stages items locally and publishes each commit as
// a msgpack Frame. The reader half (Receiver) writes frames into a host Ring
// and acknowledges consumption. The Sender never has more than Capacity
// unacknowledged items in flight, so backpressure crosses the transport
// without loss.
package netbuf

import (
	"context"
)

// Backend is the registry name of the network backend.
const Backend = "network"

// SubjectOption overrides the generated subject prefix of an edge.
const SubjectOption = "subject"

// DefaultSubjectPrefix prefixes generated edge subjects.
const DefaultSubjectPrefix = "streamrt.buffer"

// Transport moves opaque payloads between subjects. Deliveries to one
// subscription must preserve publish order. natsclient.Client satisfies it.
type Transport interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) (func() error, error)
}

// flusher is implemented by transports that can confirm subscriptions
// reached the server.
type flusher interface {
	Flush(ctx context.Context) error
}

func dataSubject(prefix string) string { return prefix + ".data" }

func ackSubject(prefix string) string { return prefix + ".ack" }
