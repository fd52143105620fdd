package channels

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/mymmrac/telego"

	"github.com/findbot/findbot/pkg/bus"
)

func TestEventFromUpdate(t *testing.T) {
	update := telego.Update{
		Message: &telego.Message{
			MessageID:    17,
			Chat:         telego.Chat{ID: -100123},
			From:         &telego.User{ID: 42},
			Caption:      "ignored caption",
			MediaGroupID: "album-1",
			Photo: []telego.PhotoSize{
				{FileID: "small"},
				{FileID: "large"},
			},
		},
	}

	ev, sender, ok := eventFromUpdate(update, "findbot")
	if !ok {
		t.Fatal("update not recognised")
	}
	if ev.ChatID != "-100123" || sender != "42" || ev.MessageID != "17" {
		t.Fatalf("ids = %+v sender=%s", ev, sender)
	}
	if len(ev.Photos) != 1 || ev.Photos[0] != "large" {
		t.Fatalf("photos = %v, want largest size", ev.Photos)
	}
	if ev.AlbumID != "album-1" || ev.Text != "" || ev.IsStart {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.CorrelationID == "" {
		t.Fatal("correlation id not set")
	}
}

func TestEventFromUpdateFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		update telego.Update
		ok     bool
	}{
		{"edited", telego.Update{EditedMessage: &telego.Message{Chat: telego.Chat{ID: 1}, Text: "x"}}, true},
		{"channel post", telego.Update{ChannelPost: &telego.Message{Chat: telego.Chat{ID: 2}, Text: "x"}}, true},
		{"edited channel post", telego.Update{EditedChannelPost: &telego.Message{Chat: telego.Chat{ID: 3}, Text: "x"}}, true},
		{"callback only", telego.Update{CallbackQuery: &telego.CallbackQuery{ID: "q"}}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev, sender, ok := eventFromUpdate(tc.update, "")
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && (ev.Text != "x" || sender != "") {
				t.Fatalf("event = %+v sender=%q", ev, sender)
			}
		})
	}
}

func TestIsStartCommand(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"/start", true},
		{"  /start  ", true},
		{"/start ref123", true},
		{"/start@FindBot", true},
		{"/start@otherbot", false},
		{"/started", false},
		{"start", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := isStartCommand(tc.text, "findbot"); got != tc.want {
			t.Fatalf("isStartCommand(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestPlanMediaGroup(t *testing.T) {
	items := make([]bus.MediaItem, 23)
	for i := range items {
		items[i] = bus.MediaItem{Ref: string(rune('a' + i))}
	}
	items[0].Caption = "cap"

	batches, detached := planMediaGroup(items)
	if detached != "" {
		t.Fatalf("short caption detached: %q", detached)
	}
	sizes := []int{10, 10, 3}
	if len(batches) != len(sizes) {
		t.Fatalf("batches = %d, want %d", len(batches), len(sizes))
	}
	for i, b := range batches {
		if len(b) != sizes[i] {
			t.Fatalf("batch %d size = %d, want %d", i, len(b), sizes[i])
		}
	}
	if batches[0][0].Caption != "cap" || batches[1][0].Caption != "" {
		t.Fatal("caption should only ride on the first image")
	}
}

func TestPlanMediaGroupDetachesLongCaption(t *testing.T) {
	long := strings.Repeat("я", telegramMaxCaptionLen+1)
	items := []bus.MediaItem{{Ref: "a", Caption: long}, {Ref: "b"}}

	batches, detached := planMediaGroup(items)
	if detached != long {
		t.Fatal("long caption not detached")
	}
	if batches[0][0].Caption != "" {
		t.Fatal("long caption still attached")
	}
	if items[0].Caption != long {
		t.Fatal("input items modified")
	}
}

func TestPlanMediaGroupKeepsCaptionAtLimit(t *testing.T) {
	exact := strings.Repeat("я", telegramMaxCaptionLen)
	_, detached := planMediaGroup([]bus.MediaItem{{Ref: "a", Caption: exact}})
	if detached != "" {
		t.Fatal("caption at the limit should stay attached")
	}
}

func TestPlanMediaGroupCountsVisibleCaptionText(t *testing.T) {
	body := strings.Repeat("я", telegramMaxCaptionLen-10)
	markup := "<b>" + body + "</b>\n&amp;&lt;&gt;"
	if utf8.RuneCountInString(markup) <= telegramMaxCaptionLen {
		t.Fatal("markup should exceed the limit before parsing")
	}

	_, detached := planMediaGroup([]bus.MediaItem{{Ref: "a", Caption: markup}})
	if detached != "" {
		t.Fatal("caption within the visible limit was detached")
	}

	over := "<i>" + strings.Repeat("я", telegramMaxCaptionLen+1) + "</i>"
	if _, detached := planMediaGroup([]bus.MediaItem{{Ref: "a", Caption: over}}); detached != over {
		t.Fatal("caption over the visible limit stayed attached")
	}
}

func TestReplyMarkup(t *testing.T) {
	kb := replyMarkup(bus.OutboundMessage{Keyboard: [][]string{{"a", "b"}, {"c"}}})
	markup, ok := kb.(*telego.ReplyKeyboardMarkup)
	if !ok {
		t.Fatalf("markup type = %T", kb)
	}
	if len(markup.Keyboard) != 2 || markup.Keyboard[0][1].Text != "b" {
		t.Fatalf("keyboard = %+v", markup.Keyboard)
	}
	if !markup.ResizeKeyboard || !markup.OneTimeKeyboard {
		t.Fatal("keyboard should be resized and one-time")
	}

	if _, ok := replyMarkup(bus.OutboundMessage{RemoveKeyboard: true}).(*telego.ReplyKeyboardRemove); !ok {
		t.Fatal("expected keyboard removal")
	}
	if replyMarkup(bus.OutboundMessage{}) != nil {
		t.Fatal("expected no markup")
	}
}

func TestSplitLargeMessage(t *testing.T) {
	if got := splitLargeMessage("short", 10); len(got) != 1 {
		t.Fatalf("short message split: %v", got)
	}

	content := strings.Repeat("ж", 25)
	chunks := splitLargeMessage(content, 10)
	if len(chunks) != 3 || strings.Join(chunks, "") != content {
		t.Fatalf("chunks = %q", chunks)
	}

	withBreak := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	chunks = splitLargeMessage(withBreak, 10)
	if chunks[0] != strings.Repeat("a", 8)+"\n" {
		t.Fatalf("did not break at newline: %q", chunks)
	}
}

func TestParseChatID(t *testing.T) {
	if id, err := parseChatID("-1001"); err != nil || id != -1001 {
		t.Fatalf("parseChatID = %d, %v", id, err)
	}
	if _, err := parseChatID("abc"); err == nil {
		t.Fatal("expected error")
	}
}
