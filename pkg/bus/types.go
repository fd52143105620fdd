package bus

import "time"

// InboundEvent is one user message as seen by a gateway.
type InboundEvent struct {
	Channel       string    `json:"channel"`
	ChatID        string    `json:"chat_id"`
	MessageID     string    `json:"message_id,omitempty"`
	Text          string    `json:"text,omitempty"`
	Photos        []string  `json:"photos,omitempty"`   // largest-size file refs
	AlbumID       string    `json:"album_id,omitempty"` // media group id
	IsStart       bool      `json:"is_start,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	ReceivedAt    time.Time `json:"received_at"`
}

type OutboundMessage struct {
	ChatID         string     `json:"chat_id"`
	Content        string     `json:"content"`
	Keyboard       [][]string `json:"keyboard,omitempty"`
	RemoveKeyboard bool       `json:"remove_keyboard,omitempty"`
	HTML           bool       `json:"html,omitempty"`
}

type MediaItem struct {
	Ref     string `json:"ref"`
	Caption string `json:"caption,omitempty"` // HTML
}

type OutboundMediaGroup struct {
	ChatID string      `json:"chat_id"`
	Items  []MediaItem `json:"items"`
}

// ErrorEvent is a gateway failure that must not stop event intake.
type ErrorEvent struct {
	Channel string
	Stage   string // "receive", "send", ...
	ChatID  string
	Err     error
	At      time.Time
}
