// Package engine drives conversations: it takes inbound events off the bus,
// runs each through the form machine in arrival order per chat and performs
// the resulting sends.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/findbot/findbot/pkg/bus"
	"github.com/findbot/findbot/pkg/form"
	"github.com/findbot/findbot/pkg/journal"
	"github.com/findbot/findbot/pkg/logger"
	"github.com/findbot/findbot/pkg/metrics"
	"github.com/findbot/findbot/pkg/session"
)

var ErrStopped = errors.New("engine stopped")

// Sender performs outbound sends for a gateway.
type Sender interface {
	SendText(ctx context.Context, msg bus.OutboundMessage) error
	SendMediaGroup(ctx context.Context, group bus.OutboundMediaGroup) error
}

// FindRecorder receives every published find.
type FindRecorder interface {
	Append(r journal.Record) error
}

type Options struct {
	QueueSize    int // initial backlog capacity per chat
	SendTimeout  time.Duration
	DrainTimeout time.Duration
	Notifier     Notifier
	Journal      FindRecorder
	Metrics      *metrics.Metrics
}

// worker owns the backlog of one chat. The backlog is unbounded so that
// Dispatch never waits on a busy chat.
type worker struct {
	queue []bus.InboundEvent
}

type Engine struct {
	bus    *bus.MessageBus
	store  *session.Store
	sender Sender
	opts   Options

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	wg      sync.WaitGroup

	// base carries values for sends; it is never cancelled by shutdown.
	base context.Context
}

func New(mb *bus.MessageBus, store *session.Store, sender Sender, opts Options) *Engine {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{}
	}
	return &Engine{
		bus:     mb,
		store:   store,
		sender:  sender,
		opts:    opts,
		workers: make(map[string]*worker),
		base:    context.Background(),
	}
}

// Run consumes the bus until ctx is cancelled or the bus closes, then stops
// accepting events and waits up to DrainTimeout for in-flight chats.
func (e *Engine) Run(ctx context.Context) error {
	e.base = context.WithoutCancel(ctx)
	logger.InfoC("engine", "Engine started")

	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		e.pumpErrors(pumpCtx)
	}()

	for {
		ev, ok := e.bus.ConsumeInbound(ctx)
		if !ok {
			break
		}
		if err := e.Dispatch(ev); err != nil {
			logger.WarnCF("engine", "Dropping event", map[string]interface{}{
				"chat_id": ev.ChatID,
				"error":   err.Error(),
			})
		}
	}

	e.shutdown()
	stopPump()
	<-pumpDone
	return nil
}

// Dispatch hands ev to the worker of its chat, starting one if needed.
// Events of one chat are processed strictly in the order dispatched.
func (e *Engine) Dispatch(ev bus.InboundEvent) error {
	if ev.ChatID == "" {
		return fmt.Errorf("event without chat id")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrStopped
	}
	w, ok := e.workers[ev.ChatID]
	if !ok {
		w = &worker{queue: make([]bus.InboundEvent, 0, e.opts.QueueSize)}
		e.workers[ev.ChatID] = w
		e.wg.Add(1)
		go e.runWorker(ev.ChatID, w)
	}
	w.queue = append(w.queue, ev)
	e.mu.Unlock()
	return nil
}

// runWorker drains the chat's backlog in order and exits once it is empty.
// A worker stays in the map until then, so Dispatch never starts a second
// one for the same chat.
func (e *Engine) runWorker(chatID string, w *worker) {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		if len(w.queue) == 0 {
			delete(e.workers, chatID)
			e.mu.Unlock()
			return
		}
		ev := w.queue[0]
		w.queue[0] = bus.InboundEvent{}
		w.queue = w.queue[1:]
		e.mu.Unlock()

		e.process(ev)
	}
}

func (e *Engine) shutdown() {
	e.mu.Lock()
	e.closed = true
	busy := len(e.workers)
	e.mu.Unlock()

	logger.InfoCF("engine", "Engine stopping, draining chats", map[string]interface{}{
		"busy_chats": busy,
	})

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	if e.opts.DrainTimeout <= 0 {
		<-done
		logger.InfoC("engine", "Engine stopped")
		return
	}
	select {
	case <-done:
		logger.InfoC("engine", "Engine stopped")
	case <-time.After(e.opts.DrainTimeout):
		e.mu.Lock()
		left := len(e.workers)
		e.mu.Unlock()
		logger.WarnCF("engine", "Drain timeout, abandoning busy chats", map[string]interface{}{
			"busy_chats": left,
			"timeout":    e.opts.DrainTimeout.String(),
		})
	}
}

// ActiveChats reports how many chats have queued or running work.
func (e *Engine) ActiveChats() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.workers)
}

func (e *Engine) pumpErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.bus.Errors():
			e.opts.Metrics.ObserveGatewayError(ev.Channel)
			logger.ErrorCF("engine", "Gateway error", map[string]interface{}{
				"channel": ev.Channel,
				"stage":   ev.Stage,
				"chat_id": ev.ChatID,
				"error":   errString(ev.Err),
			})
			e.notify(Incident{
				Kind:    IncidentGatewayError,
				Channel: ev.Channel,
				ChatID:  ev.ChatID,
				Err:     ev.Err,
				Detail:  "stage=" + ev.Stage,
				At:      ev.At,
			})
		}
	}
}

// process applies one event. The store is written only after every send
// of the transition succeeded.
func (e *Engine) process(ev bus.InboundEvent) {
	defer e.recoverWorker(ev)

	current := e.store.GetOrCreate(ev.ChatID)
	e.opts.Metrics.ObserveEvent(current.Step.String())

	next, act := form.Decide(form.Input{
		Start:   ev.IsStart,
		Text:    ev.Text,
		Photos:  ev.Photos,
		AlbumID: ev.AlbumID,
	}, current)

	logger.DebugCF("engine", "Decided", map[string]interface{}{
		"chat_id":        ev.ChatID,
		"correlation_id": ev.CorrelationID,
		"from":           current.Step.String(),
		"to":             next.Step.String(),
		"action":         act.Kind.String(),
	})

	switch act.Kind {
	case form.ActionNone:
		e.store.Replace(ev.ChatID, next)

	case form.ActionReply:
		msg := bus.OutboundMessage{
			ChatID:         ev.ChatID,
			Content:        act.Reply.Text,
			Keyboard:       act.Reply.Keyboard,
			RemoveKeyboard: act.Reply.RemoveKeyboard,
		}
		if err := e.send(func(ctx context.Context) error { return e.sender.SendText(ctx, msg) }); err != nil {
			e.sendFailed(ev, "text", err)
			return
		}
		e.store.Replace(ev.ChatID, next)

	case form.ActionFinalize:
		e.finalize(ev, next)
	}
}

func (e *Engine) finalize(ev bus.InboundEvent, s form.Session) {
	res, err := form.BuildResult(s)
	if err != nil {
		panic(contractViolation{err: err})
	}

	group := bus.OutboundMediaGroup{ChatID: ev.ChatID, Items: make([]bus.MediaItem, len(res.Images))}
	for i, img := range res.Images {
		group.Items[i] = bus.MediaItem{Ref: img.Ref, Caption: img.Caption}
	}
	if err := e.send(func(ctx context.Context) error { return e.sender.SendMediaGroup(ctx, group) }); err != nil {
		e.sendFailed(ev, "media", err)
		return
	}

	e.store.Remove(ev.ChatID)
	e.opts.Metrics.ObserveFinalized(s.Rating.String())
	logger.InfoCF("engine", "Find published", map[string]interface{}{
		"chat_id":  ev.ChatID,
		"category": s.Category,
		"rating":   s.Rating.String(),
		"photos":   len(s.Photos),
	})

	if e.opts.Journal == nil {
		return
	}
	rec := journal.Record{
		Channel:    ev.Channel,
		ChatID:     ev.ChatID,
		Name:       s.Name,
		Price:      s.Price,
		Category:   s.Category,
		Rating:     s.Rating.String(),
		HasComment: s.Comment != "",
		PhotoCount: len(s.Photos),
		Tags:       res.Tags,
	}
	if err := e.opts.Journal.Append(rec); err != nil {
		logger.ErrorCF("engine", "Failed to journal find", map[string]interface{}{
			"chat_id": ev.ChatID,
			"error":   err.Error(),
		})
	}
}

func (e *Engine) send(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(e.base, e.opts.SendTimeout)
	defer cancel()
	return fn(ctx)
}

// notify bounds the notifier by SendTimeout since it may itself send.
func (e *Engine) notify(inc Incident) {
	ctx, cancel := context.WithTimeout(e.base, e.opts.SendTimeout)
	defer cancel()
	e.opts.Notifier.Notify(ctx, inc)
}

func (e *Engine) sendFailed(ev bus.InboundEvent, kind string, err error) {
	e.opts.Metrics.ObserveSendFailure(kind)
	logger.ErrorCF("engine", "Send failed, session kept at current step", map[string]interface{}{
		"chat_id":        ev.ChatID,
		"kind":           kind,
		"correlation_id": ev.CorrelationID,
		"error":          err.Error(),
	})
	e.notify(Incident{
		Kind:    IncidentSendFailure,
		Channel: ev.Channel,
		ChatID:  ev.ChatID,
		Err:     err,
		Detail:  "kind=" + kind,
		At:      time.Now(),
	})
}

type contractViolation struct {
	err error
}

func (c contractViolation) Error() string { return c.err.Error() }

func (c contractViolation) Unwrap() error { return c.err }

// recoverWorker keeps a panicking transition from taking the process down.
// The chat's session is dropped since its state can no longer be trusted.
func (e *Engine) recoverWorker(ev bus.InboundEvent) {
	r := recover()
	if r == nil {
		return
	}

	var err error
	switch v := r.(type) {
	case contractViolation:
		err = v
	case error:
		err = v
	default:
		err = fmt.Errorf("panic: %v", v)
	}

	e.store.Remove(ev.ChatID)
	e.opts.Metrics.ObserveContractViolation()
	logger.ErrorCF("engine", "Transition panicked, session dropped", map[string]interface{}{
		"chat_id": ev.ChatID,
		"error":   err.Error(),
		"stack":   string(debug.Stack()),
	})
	e.notify(Incident{
		Kind:    IncidentContractViolation,
		Channel: ev.Channel,
		ChatID:  ev.ChatID,
		Err:     err,
		At:      time.Now(),
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
