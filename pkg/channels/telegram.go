package channels

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/findbot/findbot/pkg/bus"
	"github.com/findbot/findbot/pkg/config"
	"github.com/findbot/findbot/pkg/logger"
)

const (
	telegramMaxTextLen    = 4096
	telegramMaxCaptionLen = 1024
	telegramMaxGroupSize  = 10
)

type TelegramChannel struct {
	*BaseChannel
	bot    *telego.Bot
	config config.TelegramConfig
}

func NewTelegramChannel(cfg config.TelegramConfig, messageBus *bus.MessageBus) (*TelegramChannel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is not configured")
	}

	base := NewBaseChannel("telegram", messageBus, cfg.AllowFrom)
	opts := []telego.BotOption{
		telego.WithLogger(telegoLogger{base: base, token: cfg.Token}),
	}

	if cfg.Proxy != "" {
		proxyURL, parseErr := url.Parse(cfg.Proxy)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, parseErr)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyURL(proxyURL),
			},
		}))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &TelegramChannel{
		BaseChannel: base,
		bot:         bot,
		config:      cfg,
	}, nil
}

// telegoLogger routes telego's internal errors, long polling failures
// included, to the error side channel.
type telegoLogger struct {
	base  *BaseChannel
	token string
}

func (l telegoLogger) redact(s string) string {
	if l.token == "" {
		return s
	}
	return strings.ReplaceAll(s, l.token, "BOT_TOKEN")
}

func (l telegoLogger) Debugf(format string, args ...any) {
	logger.DebugCF("telegram", l.redact(fmt.Sprintf(format, args...)), nil)
}

func (l telegoLogger) Errorf(format string, args ...any) {
	l.base.reportError("receive", "", errors.New(l.redact(fmt.Sprintf(format, args...))))
}

func (c *TelegramChannel) Start(ctx context.Context) error {
	logger.InfoC("telegram", "Starting Telegram bot (polling mode)...")

	timeout := c.config.PollTimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}
	updates, err := c.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        timeout,
		AllowedUpdates: []string{"message", "edited_message", "channel_post", "edited_channel_post"},
	})
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	c.setRunning(true)
	logger.InfoCF("telegram", "Telegram bot connected", map[string]interface{}{
		"username": c.bot.Username(),
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					logger.InfoC("telegram", "Updates channel closed")
					c.setRunning(false)
					return
				}
				c.handleUpdate(ctx, update)
			}
		}
	}()

	return nil
}

func (c *TelegramChannel) Stop(ctx context.Context) error {
	logger.InfoC("telegram", "Stopping Telegram bot...")
	c.setRunning(false)
	return nil
}

func (c *TelegramChannel) handleUpdate(ctx context.Context, update telego.Update) {
	ev, senderID, ok := eventFromUpdate(update, c.bot.Username())
	if !ok {
		return
	}
	if !c.IsAllowed(ev.ChatID, senderID) {
		logger.DebugCF("telegram", "Message rejected by allowlist", map[string]interface{}{
			"chat_id":   ev.ChatID,
			"sender_id": senderID,
		})
		return
	}

	logger.DebugCF("telegram", "Received message", map[string]interface{}{
		"chat_id":        ev.ChatID,
		"correlation_id": ev.CorrelationID,
		"photos":         len(ev.Photos),
		"album_id":       ev.AlbumID,
		"is_start":       ev.IsStart,
	})
	c.HandleMessage(ctx, ev)
}

// eventFromUpdate extracts the form-relevant parts of an update. Photo
// captions are not treated as text.
func eventFromUpdate(update telego.Update, botUsername string) (bus.InboundEvent, string, bool) {
	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil {
		msg = update.ChannelPost
	}
	if msg == nil {
		msg = update.EditedChannelPost
	}
	if msg == nil {
		return bus.InboundEvent{}, "", false
	}

	ev := bus.InboundEvent{
		ChatID:        strconv.FormatInt(msg.Chat.ID, 10),
		MessageID:     strconv.Itoa(msg.MessageID),
		Text:          msg.Text,
		AlbumID:       msg.MediaGroupID,
		IsStart:       isStartCommand(msg.Text, botUsername),
		CorrelationID: uuid.NewString(),
		ReceivedAt:    time.Now(),
	}
	if len(msg.Photo) > 0 {
		ev.Photos = []string{msg.Photo[len(msg.Photo)-1].FileID}
	}

	senderID := ""
	if msg.From != nil {
		senderID = strconv.FormatInt(msg.From.ID, 10)
	}
	return ev, senderID, true
}

// isStartCommand accepts "/start", "/start payload" and "/start@bot".
func isStartCommand(text, botUsername string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	cmd := fields[0]
	if cmd == "/start" {
		return true
	}
	name, ok := strings.CutPrefix(cmd, "/start@")
	return ok && botUsername != "" && strings.EqualFold(name, botUsername)
}

func (c *TelegramChannel) SendText(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram: %w", ErrNotRunning)
	}

	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}

	chunks := splitLargeMessage(msg.Content, telegramMaxTextLen)
	for i, chunk := range chunks {
		params := tu.Message(tu.ID(chatID), chunk)
		if msg.HTML {
			params.ParseMode = telego.ModeHTML
		}
		// markup goes with the last chunk so the keyboard follows the prompt
		if i == len(chunks)-1 {
			if markup := replyMarkup(msg); markup != nil {
				params.ReplyMarkup = markup
			}
		}

		if _, err := c.bot.SendMessage(ctx, params); err != nil {
			if !msg.HTML {
				return fmt.Errorf("send message to %d: %w", chatID, err)
			}
			logger.WarnCF("telegram", "HTML parse failed, falling back to plain text", map[string]interface{}{
				"chunk": i + 1,
				"error": err.Error(),
			})
			params.ParseMode = ""
			if _, err := c.bot.SendMessage(ctx, params); err != nil {
				return fmt.Errorf("send message to %d: %w", chatID, err)
			}
		}
	}
	return nil
}

func replyMarkup(msg bus.OutboundMessage) telego.ReplyMarkup {
	if len(msg.Keyboard) > 0 {
		rows := make([][]telego.KeyboardButton, 0, len(msg.Keyboard))
		for _, labels := range msg.Keyboard {
			row := make([]telego.KeyboardButton, 0, len(labels))
			for _, label := range labels {
				row = append(row, tu.KeyboardButton(label))
			}
			rows = append(rows, tu.KeyboardRow(row...))
		}
		return tu.Keyboard(rows...).WithResizeKeyboard().WithOneTimeKeyboard()
	}
	if msg.RemoveKeyboard {
		return tu.ReplyKeyboardRemove()
	}
	return nil
}

// SendMediaGroup posts the images as one album, splitting into batches of
// ten. The caption rides on the first image unless it exceeds Telegram's
// caption limit, in which case it follows the images as a text message.
func (c *TelegramChannel) SendMediaGroup(ctx context.Context, group bus.OutboundMediaGroup) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram: %w", ErrNotRunning)
	}
	if len(group.Items) == 0 {
		return errors.New("telegram: empty media group")
	}

	chatID, err := parseChatID(group.ChatID)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}

	batches, detached := planMediaGroup(group.Items)
	for i, batch := range batches {
		if err := c.sendBatch(ctx, chatID, batch); err != nil {
			return fmt.Errorf("send media batch %d/%d to %d: %w", i+1, len(batches), chatID, err)
		}
	}

	if detached != "" {
		return c.SendText(ctx, bus.OutboundMessage{ChatID: group.ChatID, Content: detached, HTML: true})
	}
	return nil
}

func (c *TelegramChannel) sendBatch(ctx context.Context, chatID int64, batch []bus.MediaItem) error {
	if len(batch) == 1 {
		params := tu.Photo(tu.ID(chatID), tu.FileFromID(batch[0].Ref))
		if batch[0].Caption != "" {
			params.Caption = batch[0].Caption
			params.ParseMode = telego.ModeHTML
		}
		_, err := c.bot.SendPhoto(ctx, params)
		return err
	}

	media := make([]telego.InputMedia, 0, len(batch))
	for _, item := range batch {
		photo := tu.MediaPhoto(tu.FileFromID(item.Ref))
		if item.Caption != "" {
			photo.Caption = item.Caption
			photo.ParseMode = telego.ModeHTML
		}
		media = append(media, photo)
	}
	_, err := c.bot.SendMediaGroup(ctx, tu.MediaGroup(tu.ID(chatID), media...))
	return err
}

// planMediaGroup splits items into batches Telegram accepts and moves an
// oversized caption out of the media.
func planMediaGroup(items []bus.MediaItem) ([][]bus.MediaItem, string) {
	items = append([]bus.MediaItem(nil), items...)

	detached := ""
	for i := range items {
		if captionLen(items[i].Caption) > telegramMaxCaptionLen {
			detached = items[i].Caption
			items[i].Caption = ""
		}
	}

	batches := make([][]bus.MediaItem, 0, (len(items)+telegramMaxGroupSize-1)/telegramMaxGroupSize)
	for start := 0; start < len(items); start += telegramMaxGroupSize {
		end := start + telegramMaxGroupSize
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches, detached
}

// captionLen counts characters the way Telegram does for HTML captions:
// after tags are removed and entities decoded.
func captionLen(caption string) int {
	return utf8.RuneCountInString(stripHTML(caption))
}

func parseChatID(chatIDStr string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(chatIDStr), 10, 64)
}

// splitLargeMessage splits a message into chunks if it exceeds Telegram's limit
func splitLargeMessage(content string, maxLen int) []string {
	if utf8.RuneCountInString(content) <= maxLen {
		return []string{content}
	}

	var chunks []string
	remaining := []rune(content)

	for len(remaining) > 0 {
		chunkSize := maxLen
		if len(remaining) < chunkSize {
			chunkSize = len(remaining)
		}

		// Try to break at a newline near the limit
		if chunkSize == maxLen {
			for i := chunkSize - 1; i > maxLen*2/3; i-- {
				if remaining[i] == '\n' {
					chunkSize = i + 1
					break
				}
			}
		}

		chunks = append(chunks, string(remaining[:chunkSize]))
		remaining = remaining[chunkSize:]
	}

	return chunks
}
