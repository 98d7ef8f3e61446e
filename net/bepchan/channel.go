// Package bepchan implements bep.Channel over an established connection.
// Messages are framed as a CBOR header value carrying the message type
// followed by the CBOR-encoded message body, in the order they were enqueued.
package bepchan

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/fxamacker/cbor/v2"
	log "github.com/sirupsen/logrus"

	"stpush/bep"
	"stpush/events"
)

var ErrShutdown = errors.New("connection is shut down")

// MessageHeader precedes every message body on the wire.
type MessageHeader struct {
	Type bep.MessageType `cbor:"1,keyasint,omitempty"`
}

type outgoing struct {
	msg        bep.Message
	completion *bep.Completion
}

var _ bep.Channel = (*Conn)(nil)

// Conn is a message channel bound to one remote device. Sends are enqueued
// without blocking and written by a single writer goroutine, which preserves
// FIFO ordering per peer. Inbound messages are decoded on a reader goroutine
// and handed off to subscribers on fresh goroutines, so a slow handler never
// stalls message intake.
type Conn struct {
	conn    io.ReadWriteCloser
	folders map[string]bool

	mu      sync.Mutex
	queue   []*outgoing
	wake    chan struct{}
	closing bool

	requests     *events.Bus[*bep.Request]
	indexUpdates *events.Bus[*bep.IndexUpdate]
	responses    *events.Bus[*bep.Response]
}

// New wraps an established, authenticated connection. folders is the set of
// folder IDs the remote shares on this connection.
func New(conn io.ReadWriteCloser, folders []string) *Conn {
	shared := make(map[string]bool, len(folders))
	for _, f := range folders {
		shared[f] = true
	}

	c := &Conn{
		conn:         conn,
		folders:      shared,
		wake:         make(chan struct{}, 1),
		requests:     events.NewBus[*bep.Request](),
		indexUpdates: events.NewBus[*bep.IndexUpdate](),
		responses:    events.NewBus[*bep.Response](),
	}
	go c.writeLoop()
	go c.readLoop()
	return c
}

// Dial connects to a remote device at the given address.
func Dial(network, address string, folders []string) (*Conn, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return New(conn, folders), nil
}

func (c *Conn) HasFolder(folder string) bool {
	return c.folders[folder]
}

// Send enqueues a message for transmission. The returned handle resolves once
// the message has been written to the connection.
func (c *Conn) Send(msg bep.Message) *bep.Completion {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return bep.CompletedCompletion(ErrShutdown)
	}
	completion := bep.NewCompletion()
	c.queue = append(c.queue, &outgoing{msg: msg, completion: completion})
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return completion
}

func (c *Conn) writeLoop() {
	wb := bufio.NewWriter(c.conn)
	encoder := cbor.NewEncoder(wb)

	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closing {
			c.mu.Unlock()
			<-c.wake
			c.mu.Lock()
		}
		if c.closing && len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		out := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		err := encoder.Encode(&MessageHeader{Type: bep.TypeOf(out.msg)})
		if err == nil {
			err = encoder.Encode(out.msg)
		}
		if err == nil {
			err = wb.Flush()
		}
		if err != nil {
			log.Warnf("bepchan: write failed: %v", err)
		}
		out.completion.Complete(err)
	}
}

func (c *Conn) readLoop() {
	decoder := cbor.NewDecoder(c.conn)

	var err error
	for err == nil {
		header := MessageHeader{}
		if err = decoder.Decode(&header); err != nil {
			break
		}

		switch header.Type {
		case bep.MessageTypeRequest:
			msg := &bep.Request{}
			if err = decoder.Decode(msg); err == nil {
				go c.requests.Publish(msg)
			}
		case bep.MessageTypeIndexUpdate:
			msg := &bep.IndexUpdate{}
			if err = decoder.Decode(msg); err == nil {
				go c.indexUpdates.Publish(msg)
			}
		case bep.MessageTypeResponse:
			msg := &bep.Response{}
			if err = decoder.Decode(msg); err == nil {
				go c.responses.Publish(msg)
			}
		default:
			log.Errorf("bepchan: unknown message type %d, dropping connection", header.Type)
			err = errors.New("unknown message type")
		}
	}

	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		log.Debugf("bepchan: connection closed: %v", err)
	} else {
		log.Errorf("bepchan: read loop error: %v", err)
	}

	// Fail anything still queued; the connection is gone.
	c.mu.Lock()
	c.closing = true
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	for _, out := range pending {
		out.completion.Complete(ErrShutdown)
	}
}

func (c *Conn) SubscribeRequests(fn func(*bep.Request)) *events.Subscription {
	return c.requests.Subscribe(fn)
}

func (c *Conn) SubscribeIndexUpdates(fn func(*bep.IndexUpdate)) *events.Subscription {
	return c.indexUpdates.Subscribe(fn)
}

// SubscribeResponses is used by tooling acting as the requesting side; the
// push engine itself never reads responses.
func (c *Conn) SubscribeResponses(fn func(*bep.Response)) *events.Subscription {
	return c.responses.Subscribe(fn)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return ErrShutdown
	}
	c.closing = true
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	for _, out := range pending {
		out.completion.Complete(ErrShutdown)
	}
	return c.conn.Close()
}
