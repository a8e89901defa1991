// Package queue provides the durable to-download queue used to hand
// granules from the link fetcher to the download workers.
package queue

import "context"

// Message is the payload carried on the to-download queue. One message is
// published per admitted granule; the download worker re-publishes the same
// payload on transient failure.
type Message struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	DownloadURL string `json:"download_url"`
	Checksum    string `json:"checksum,omitempty"`
}

// Publisher publishes messages to the to-download queue.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Handler processes one received message. Returning an error leaves the
// message on the queue for broker redelivery after the visibility timeout;
// returning nil deletes it.
type Handler func(ctx context.Context, msg Message) error

// Consumer drains the to-download queue with a bounded worker pool.
type Consumer interface {
	// Run blocks until ctx is cancelled, processing messages with up to
	// `workers` concurrent handlers.
	Run(ctx context.Context, workers int, handler Handler) error
}
