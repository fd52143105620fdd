package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/findbot/findbot/pkg/bus"
	"github.com/findbot/findbot/pkg/logger"
)

const (
	IncidentSendFailure       = "send_failure"
	IncidentGatewayError      = "gateway_error"
	IncidentContractViolation = "contract_violation"
)

// Incident is something an operator should hear about.
type Incident struct {
	Kind    string
	Channel string
	ChatID  string
	Err     error
	Detail  string
	At      time.Time
}

func (i Incident) String() string {
	msg := fmt.Sprintf("[findbot] %s", i.Kind)
	if i.Channel != "" {
		msg += " channel=" + i.Channel
	}
	if i.ChatID != "" {
		msg += " chat=" + i.ChatID
	}
	if i.Detail != "" {
		msg += " " + i.Detail
	}
	if i.Err != nil {
		msg += ": " + i.Err.Error()
	}
	return msg
}

type Notifier interface {
	Notify(ctx context.Context, inc Incident)
}

// LogNotifier writes incidents to the component log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, inc Incident) {
	fields := map[string]interface{}{
		"kind":    inc.Kind,
		"channel": inc.Channel,
		"chat_id": inc.ChatID,
	}
	if inc.Err != nil {
		fields["error"] = inc.Err.Error()
	}
	if inc.Detail != "" {
		fields["detail"] = inc.Detail
	}
	logger.WarnCF("engine", "Operator incident", fields)
}

// TextSender is the part of a gateway the chat notifier needs.
type TextSender interface {
	SendText(ctx context.Context, msg bus.OutboundMessage) error
}

// ChatNotifier sends incidents to an operator chat, at most once per kind
// per cooldown.
type ChatNotifier struct {
	sender   TextSender
	chatID   string
	cooldown time.Duration

	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func NewChatNotifier(sender TextSender, chatID string, cooldown time.Duration) *ChatNotifier {
	return &ChatNotifier{
		sender:   sender,
		chatID:   chatID,
		cooldown: cooldown,
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

func (n *ChatNotifier) Notify(ctx context.Context, inc Incident) {
	// Never report a failure to reach the operator chat back to itself.
	if inc.Kind == IncidentSendFailure && inc.ChatID == n.chatID {
		return
	}

	n.mu.Lock()
	now := n.now()
	if prev, ok := n.last[inc.Kind]; ok && now.Sub(prev) < n.cooldown {
		n.mu.Unlock()
		logger.DebugCF("engine", "Operator notification throttled", map[string]interface{}{
			"kind": inc.Kind,
		})
		return
	}
	n.last[inc.Kind] = now
	n.mu.Unlock()

	err := n.sender.SendText(ctx, bus.OutboundMessage{
		ChatID:  n.chatID,
		Content: inc.String(),
	})
	if err != nil {
		logger.WarnCF("engine", "Failed to notify operator chat", map[string]interface{}{
			"chat_id": n.chatID,
			"kind":    inc.Kind,
			"error":   err.Error(),
		})
	}
}

// MultiNotifier fans an incident out to every notifier in order.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, inc Incident) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, inc)
		}
	}
}
