package channels

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/findbot/findbot/pkg/bus"
	"github.com/findbot/findbot/pkg/logger"
)

var ErrNotRunning = errors.New("channel not running")

// Channel is a gateway that feeds the bus and performs the engine's sends.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	SendText(ctx context.Context, msg bus.OutboundMessage) error
	SendMediaGroup(ctx context.Context, group bus.OutboundMediaGroup) error
}

type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowList []string
	running   atomic.Bool
}

func NewBaseChannel(name string, messageBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		bus:       messageBus,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) setRunning(running bool) {
	c.running.Store(running)
}

// IsAllowed reports whether any of ids is on the allow list. An empty list
// allows everyone.
func (c *BaseChannel) IsAllowed(ids ...string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		for _, allowed := range c.allowList {
			if strings.TrimSpace(allowed) == id {
				return true
			}
		}
	}
	return false
}

// HandleMessage stamps the channel name on ev and publishes it.
func (c *BaseChannel) HandleMessage(ctx context.Context, ev bus.InboundEvent) {
	ev.Channel = c.name
	if err := c.bus.PublishInbound(ctx, ev); err != nil {
		logger.WarnCF(c.name, "Failed to publish inbound event", map[string]interface{}{
			"chat_id": ev.ChatID,
			"error":   err.Error(),
		})
	}
}

func (c *BaseChannel) reportError(stage, chatID string, err error) {
	c.bus.ReportError(bus.ErrorEvent{
		Channel: c.name,
		Stage:   stage,
		ChatID:  chatID,
		Err:     err,
	})
}
