// Package session tracks connected clients: their outbound frame queues,
// the character each one controls and when each was last heard from.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOutboxFull is returned by Push when the client is not keeping up.
var ErrOutboxFull = errors.New("outbox full")

// ErrOutboxClosed is returned by Push after Close.
var ErrOutboxClosed = errors.New("outbox closed")

// Outbox is a bounded queue of encoded frames drained by the connection's
// writer goroutine.
type Outbox struct {
	id     string
	frames chan []byte
	mu     sync.Mutex
	closed bool
}

// NewOutbox creates an Outbox for the given session id.
//
// Precondition: id must be non-empty.
// Postcondition: Returns an open Outbox; a non-positive size defaults to 64.
func NewOutbox(id string, size int) *Outbox {
	if size <= 0 {
		size = 64
	}
	return &Outbox{
		id:     id,
		frames: make(chan []byte, size),
	}
}

// Push enqueues a frame without blocking.
//
// Postcondition: The frame is queued, or ErrOutboxFull / ErrOutboxClosed is returned.
func (o *Outbox) Push(frame []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("session %s: %w", o.id, ErrOutboxClosed)
	}
	select {
	case o.frames <- frame:
		return nil
	default:
		return fmt.Errorf("session %s: %w", o.id, ErrOutboxFull)
	}
}

// Frames returns the channel the writer drains. It is closed by Close.
func (o *Outbox) Frames() <-chan []byte {
	return o.frames
}

// Close closes the frame channel. Calling Close twice is safe.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.frames)
	}
}

// IsClosed reports whether Close has been called.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
