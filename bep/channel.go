package bep

import (
	"context"
	"sync"

	"stpush/events"
)

// Completion is the write-completion handle a channel hands out for every
// enqueued message. Obtaining it never blocks on the wire; the channel
// resolves it once the message has been written (or has failed).
type Completion struct {
	done chan struct{}
	err  error
	once sync.Once
}

func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Complete resolves the handle. The first resolution wins.
func (c *Completion) Complete(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done is closed once the write has finished, successfully or not.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Err reports the write outcome. Only valid after Done is closed.
func (c *Completion) Err() error {
	return c.err
}

// Completed polls without blocking.
func (c *Completion) Completed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the write has finished or the context is cancelled.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.err
	}
}

// CompletedCompletion returns an already-resolved handle. Useful for channel
// implementations that fail a send before it reaches the write queue.
func CompletedCompletion(err error) *Completion {
	c := NewCompletion()
	c.Complete(err)
	return c
}

// Channel is the engine's view of the established, authenticated, framed
// connection to one remote device. Implementations must be safe for
// concurrent use and must preserve FIFO ordering of sent messages.
//
// Inbound messages are delivered through typed subscriptions. Handlers run
// off the channel's delivery goroutine, so a handler may block on disk or on
// further sends without stalling message intake.
type Channel interface {
	// Send enqueues a message and returns its write-completion handle.
	Send(msg Message) *Completion

	// SubscribeRequests registers a handler for inbound Request messages.
	// The subscription handle cancels the registration.
	SubscribeRequests(fn func(*Request)) *events.Subscription

	// SubscribeIndexUpdates registers a handler for inbound IndexUpdate
	// messages (the remote's index echo path).
	SubscribeIndexUpdates(fn func(*IndexUpdate)) *events.Subscription

	// HasFolder reports whether the remote shares the given folder on this
	// connection.
	HasFolder(folder string) bool

	Close() error
}
