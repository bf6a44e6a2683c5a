// internal/intake/transport.go
package intake

import "context"

// InboundMessage is a candidate message observed on a private channel.
type InboundMessage struct {
	AuthorID string
	Content  string
}

// DirectChannel is an open private channel to one candidate. Replies are
// delivered in channel order; the transport closes the channel when the
// conversation ends.
type DirectChannel interface {
	Send(ctx context.Context, text string) error
	Replies() <-chan InboundMessage
	Close() error
}

// Messenger is the platform transport the intake engine calls out to. An
// implementation that cannot reach the candidate (inbound messages blocked)
// must fail OpenDirectChannel rather than return a dead channel.
type Messenger interface {
	OpenDirectChannel(ctx context.Context, candidateID string) (DirectChannel, error)
}
