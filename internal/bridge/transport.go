package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/ent0n29/vaani/internal/protocol"
)

// ErrTransportClosed is returned by a transport after Close.
var ErrTransportClosed = errors.New("worker transport closed")

// Transport carries worker frames in both directions. Send must be safe for
// concurrent use; Receive is called from a single reader goroutine.
type Transport interface {
	Send(ctx context.Context, msg protocol.WorkerMessage) error
	Receive(ctx context.Context) (protocol.WorkerMessage, error)
	Close() error
}

// Dialer opens the transport to a worker host.
type Dialer func(ctx context.Context) (Transport, error)

type pipeEnd struct {
	in   <-chan protocol.WorkerMessage
	out  chan<- protocol.WorkerMessage
	done chan struct{}
	once *sync.Once
}

// NewPipe returns two connected in-process transports. Closing either end
// closes both.
func NewPipe() (Transport, Transport) {
	a := make(chan protocol.WorkerMessage, 64)
	b := make(chan protocol.WorkerMessage, 64)
	done := make(chan struct{})
	once := &sync.Once{}
	return &pipeEnd{in: b, out: a, done: done, once: once},
		&pipeEnd{in: a, out: b, done: done, once: once}
}

func (p *pipeEnd) Send(ctx context.Context, msg protocol.WorkerMessage) error {
	select {
	case <-p.done:
		return ErrTransportClosed
	default:
	}
	select {
	case p.out <- msg:
		return nil
	case <-p.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Receive(ctx context.Context) (protocol.WorkerMessage, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.done:
		return protocol.WorkerMessage{}, ErrTransportClosed
	case <-ctx.Done():
		return protocol.WorkerMessage{}, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

// PipeDialer serves a fresh pipe to host on every dial.
func PipeDialer(host func(Transport)) Dialer {
	return func(context.Context) (Transport, error) {
		client, server := NewPipe()
		go host(server)
		return client, nil
	}
}
