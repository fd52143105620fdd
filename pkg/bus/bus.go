package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var ErrBusClosed = errors.New("message bus closed")

// MessageBus carries inbound events from gateways to the engine and
// gateway errors to whoever drains Errors().
type MessageBus struct {
	inbound chan InboundEvent
	errs    chan ErrorEvent
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

func NewMessageBus(size int) *MessageBus {
	if size <= 0 {
		size = 64
	}
	return &MessageBus{
		inbound: make(chan InboundEvent, size),
		errs:    make(chan ErrorEvent, size),
		done:    make(chan struct{}),
	}
}

// PublishInbound blocks until the event is queued, ctx is done or the bus
// is closed.
func (mb *MessageBus) PublishInbound(ctx context.Context, ev InboundEvent) error {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	select {
	case <-mb.done:
		return ErrBusClosed
	default:
	}
	select {
	case mb.inbound <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-mb.done:
		return ErrBusClosed
	}
}

// ConsumeInbound returns false once ctx is done or the bus is closed.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundEvent, bool) {
	select {
	case ev := <-mb.inbound:
		return ev, true
	case <-ctx.Done():
		return InboundEvent{}, false
	case <-mb.done:
		return InboundEvent{}, false
	}
}

// ReportError never blocks; when the error buffer is full the event is
// counted and dropped.
func (mb *MessageBus) ReportError(ev ErrorEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case mb.errs <- ev:
	default:
		mb.dropped.Add(1)
	}
}

func (mb *MessageBus) Errors() <-chan ErrorEvent {
	return mb.errs
}

func (mb *MessageBus) DroppedErrors() int64 {
	return mb.dropped.Load()
}

func (mb *MessageBus) Done() <-chan struct{} {
	return mb.done
}

func (mb *MessageBus) Close() {
	mb.once.Do(func() { close(mb.done) })
}
