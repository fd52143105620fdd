package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/findbot/findbot/pkg/bus"
	"github.com/findbot/findbot/pkg/form"
	"github.com/findbot/findbot/pkg/journal"
	"github.com/findbot/findbot/pkg/metrics"
	"github.com/findbot/findbot/pkg/session"
)

type fakeSender struct {
	mu        sync.Mutex
	texts     []bus.OutboundMessage
	groups    []bus.OutboundMediaGroup
	failText  error
	failMedia error

	// when set, SendText signals entered and waits for release; blockChat
	// limits that to one chat
	entered   chan struct{}
	release   chan struct{}
	blockChat string
}

func (f *fakeSender) SendText(ctx context.Context, msg bus.OutboundMessage) error {
	if f.entered != nil && (f.blockChat == "" || msg.ChatID == f.blockChat) {
		select {
		case f.entered <- struct{}{}:
		default:
		}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failText != nil {
		return f.failText
	}
	f.texts = append(f.texts, msg)
	return nil
}

func (f *fakeSender) SendMediaGroup(ctx context.Context, group bus.OutboundMediaGroup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMedia != nil {
		return f.failMedia
	}
	f.groups = append(f.groups, group)
	return nil
}

func (f *fakeSender) snapshot() ([]bus.OutboundMessage, []bus.OutboundMediaGroup) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bus.OutboundMessage(nil), f.texts...), append([]bus.OutboundMediaGroup(nil), f.groups...)
}

type recordingNotifier struct {
	ch        chan Incident
	deadlines chan bool
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{ch: make(chan Incident, 16), deadlines: make(chan bool, 16)}
}

func (n *recordingNotifier) Notify(ctx context.Context, inc Incident) {
	_, ok := ctx.Deadline()
	n.deadlines <- ok
	n.ch <- inc
}

func (n *recordingNotifier) wait(t *testing.T) Incident {
	t.Helper()
	select {
	case inc := <-n.ch:
		return inc
	case <-time.After(2 * time.Second):
		t.Fatal("no incident reported")
	}
	return Incident{}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type harness struct {
	bus      *bus.MessageBus
	store    *session.Store
	sender   *fakeSender
	notifier *recordingNotifier
	journal  *journal.Store
	metrics  *metrics.Metrics
	engine   *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	j, err := journal.NewStore("")
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	h := &harness{
		bus:      bus.NewMessageBus(16),
		store:    session.NewStore(),
		sender:   &fakeSender{},
		notifier: newRecordingNotifier(),
		journal:  j,
	}
	h.metrics = metrics.New(h.store.Len)
	h.engine = New(h.bus, h.store, h.sender, Options{
		QueueSize:    8,
		SendTimeout:  time.Second,
		DrainTimeout: 2 * time.Second,
		Notifier:     h.notifier,
		Journal:      h.journal,
		Metrics:      h.metrics,
	})
	return h
}

func (h *harness) start(t *testing.T) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()
	return func() {
		stop()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Error("Run did not return")
		}
	}
}

func (h *harness) publish(t *testing.T, ev bus.InboundEvent) {
	t.Helper()
	ev.Channel = "test"
	if err := h.bus.PublishInbound(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func completeAtChoice() form.Session {
	return form.Session{
		Step:     form.StepAwaitingCommentChoice,
		Name:     "Mango",
		Photos:   []string{"cover", "extra"},
		AlbumID:  "A",
		Price:    "12.5 R$",
		Category: form.Categories[0],
		Rating:   form.RatingPositive,
	}
}

func TestEngineEndToEnd(t *testing.T) {
	h := newHarness(t)
	stop := h.start(t)
	defer stop()

	events := []bus.InboundEvent{
		{ChatID: "7", Text: "/start", IsStart: true},
		{ChatID: "7", Text: "Mango"},
		{ChatID: "7", Photos: []string{"file-1"}, AlbumID: "A"},
		{ChatID: "7", Text: "12,5"},
		{ChatID: "7", Text: form.Categories[0]},
		{ChatID: "7", Text: form.LabelPositive},
		{ChatID: "7", Text: form.LabelSkip},
	}
	for _, ev := range events {
		h.publish(t, ev)
	}

	waitFor(t, "media group", func() bool {
		_, groups := h.sender.snapshot()
		return len(groups) == 1
	})

	texts, groups := h.sender.snapshot()
	wantPrompts := []string{form.PromptStart, form.PromptPhoto, form.PromptPrice, form.PromptCategory, form.PromptRating, form.PromptCommentChoice}
	if len(texts) != len(wantPrompts) {
		t.Fatalf("got %d text replies, want %d", len(texts), len(wantPrompts))
	}
	for i, want := range wantPrompts {
		if texts[i].Content != want {
			t.Fatalf("reply %d = %q, want %q", i, texts[i].Content, want)
		}
	}
	if len(texts[3].Keyboard) != 4 {
		t.Fatalf("category prompt keyboard rows = %d", len(texts[3].Keyboard))
	}

	g := groups[0]
	if g.ChatID != "7" || len(g.Items) != 1 || g.Items[0].Ref != "file-1" {
		t.Fatalf("unexpected group: %+v", g)
	}
	for _, want := range []string{"Mango", "12.5 R$", form.Categories[0], "🤤", "#находка", "#овощиифрукты", "#оценка_прекрасно"} {
		if !strings.Contains(g.Items[0].Caption, want) {
			t.Fatalf("caption missing %q:\n%s", want, g.Items[0].Caption)
		}
	}
	if strings.Contains(g.Items[0].Caption, "Комментарий") {
		t.Fatalf("unexpected comment line:\n%s", g.Items[0].Caption)
	}

	waitFor(t, "session removal", func() bool { return h.store.Len() == 0 })

	recs := h.journal.Query(journal.Filter{ChatID: "7"})
	if len(recs) != 1 || recs[0].Rating != "positive" || recs[0].PhotoCount != 1 || recs[0].Channel != "test" {
		t.Fatalf("journal = %+v", recs)
	}
	n, err := testutil.GatherAndCount(h.metrics.Registry(), "findbot_finalized_total")
	if err != nil || n != 1 {
		t.Fatalf("finalized series = %d (err %v), want 1", n, err)
	}
}

func TestEngineTextSendFailureKeepsSession(t *testing.T) {
	h := newHarness(t)
	h.sender.failText = errors.New("telegram down")
	stop := h.start(t)
	defer stop()

	h.publish(t, bus.InboundEvent{ChatID: "1", Text: "Mango"})

	inc := h.notifier.wait(t)
	if inc.Kind != IncidentSendFailure || inc.ChatID != "1" {
		t.Fatalf("incident = %+v", inc)
	}
	waitFor(t, "worker exit", func() bool { return h.engine.ActiveChats() == 0 })

	s, ok := h.store.Get("1")
	if !ok {
		t.Fatal("session missing")
	}
	if s.Step != form.StepAwaitingName || s.Name != "" {
		t.Fatalf("session advanced despite failed send: %+v", s)
	}
}

func TestEngineMediaSendFailureKeepsSession(t *testing.T) {
	h := newHarness(t)
	h.sender.failMedia = errors.New("too many requests")
	h.store.Replace("1", completeAtChoice())
	stop := h.start(t)
	defer stop()

	h.publish(t, bus.InboundEvent{ChatID: "1", Text: form.LabelSkip})

	inc := h.notifier.wait(t)
	if inc.Kind != IncidentSendFailure {
		t.Fatalf("incident = %+v", inc)
	}
	waitFor(t, "worker exit", func() bool { return h.engine.ActiveChats() == 0 })

	s, ok := h.store.Get("1")
	if !ok || s.Step != form.StepAwaitingCommentChoice || s.Name != "Mango" {
		t.Fatalf("session not kept: ok=%v %+v", ok, s)
	}
	if len(h.journal.Query(journal.Filter{})) != 0 {
		t.Fatal("failed find was journaled")
	}

	// the next delivered event retries the same step
	h.sender.mu.Lock()
	h.sender.failMedia = nil
	h.sender.mu.Unlock()
	h.publish(t, bus.InboundEvent{ChatID: "1", Text: form.LabelSkip})
	waitFor(t, "retry publish", func() bool {
		_, groups := h.sender.snapshot()
		return len(groups) == 1
	})
	_, groups := h.sender.snapshot()
	if len(groups[0].Items) != 2 || groups[0].Items[1].Caption != "" {
		t.Fatalf("group = %+v", groups[0])
	}
}

func TestEngineContractViolationDropsSession(t *testing.T) {
	h := newHarness(t)
	broken := completeAtChoice()
	broken.Photos = nil
	h.store.Replace("9", broken)
	stop := h.start(t)
	defer stop()

	h.publish(t, bus.InboundEvent{ChatID: "9", Text: form.LabelSkip})

	inc := h.notifier.wait(t)
	if inc.Kind != IncidentContractViolation {
		t.Fatalf("incident = %+v", inc)
	}
	if !errors.Is(inc.Err, form.ErrIncompleteSession) {
		t.Fatalf("incident error = %v", inc.Err)
	}
	waitFor(t, "worker exit", func() bool { return h.engine.ActiveChats() == 0 })

	if _, ok := h.store.Get("9"); ok {
		t.Fatal("broken session was kept")
	}
	_, groups := h.sender.snapshot()
	if len(groups) != 0 {
		t.Fatal("media group sent for incomplete session")
	}

	// the worker survived: the chat can start over
	h.publish(t, bus.InboundEvent{ChatID: "9", Text: "/start", IsStart: true})
	waitFor(t, "restart reply", func() bool {
		texts, _ := h.sender.snapshot()
		return len(texts) == 1 && texts[0].Content == form.PromptStart
	})
}

func TestEngineSerializesPerChat(t *testing.T) {
	h := newHarness(t)
	const chats = 8
	const photos = 40

	for c := 0; c < chats; c++ {
		h.store.Replace(fmt.Sprintf("c%d", c), form.Session{
			Step:    form.StepAwaitingPrice,
			Name:    "n",
			Photos:  []string{"p0"},
			AlbumID: "A",
		})
	}

	var wg sync.WaitGroup
	for c := 0; c < chats; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			for i := 1; i <= photos; i++ {
				err := h.engine.Dispatch(bus.InboundEvent{
					ChatID:  fmt.Sprintf("c%d", c),
					Photos:  []string{fmt.Sprintf("p%d", i)},
					AlbumID: "A",
				})
				if err != nil {
					t.Errorf("Dispatch: %v", err)
					return
				}
			}
		}(c)
	}
	wg.Wait()
	waitFor(t, "workers to drain", func() bool { return h.engine.ActiveChats() == 0 })

	for c := 0; c < chats; c++ {
		s, _ := h.store.Get(fmt.Sprintf("c%d", c))
		if len(s.Photos) != photos+1 {
			t.Fatalf("chat c%d collected %d photos, want %d", c, len(s.Photos), photos+1)
		}
		for i, ref := range s.Photos {
			if ref != fmt.Sprintf("p%d", i) {
				t.Fatalf("chat c%d photo %d = %s, out of order", c, i, ref)
			}
		}
	}
}

func TestEngineDrainsInFlightOnShutdown(t *testing.T) {
	h := newHarness(t)
	h.sender.entered = make(chan struct{}, 1)
	h.sender.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	h.publish(t, bus.InboundEvent{ChatID: "5", Text: "Mango"})
	select {
	case <-h.sender.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("send never started")
	}

	cancel()
	select {
	case <-done:
		t.Fatal("Run returned before in-flight send finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(h.sender.release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after drain")
	}

	s, ok := h.store.Get("5")
	if !ok || s.Step != form.StepAwaitingPhoto || s.Name != "Mango" {
		t.Fatalf("in-flight transition not committed: ok=%v %+v", ok, s)
	}
	if err := h.engine.Dispatch(bus.InboundEvent{ChatID: "5", Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Dispatch after stop = %v, want ErrStopped", err)
	}
}

func TestEngineReportsGatewayErrors(t *testing.T) {
	h := newHarness(t)
	stop := h.start(t)
	defer stop()

	h.bus.ReportError(bus.ErrorEvent{Channel: "telegram", Stage: "receive", Err: errors.New("conn reset")})

	inc := h.notifier.wait(t)
	if inc.Kind != IncidentGatewayError || inc.Channel != "telegram" {
		t.Fatalf("incident = %+v", inc)
	}
	if !<-h.notifier.deadlines {
		t.Fatal("notifier called without a deadline")
	}
}

func TestEngineBusyChatDoesNotStallOthers(t *testing.T) {
	h := newHarness(t)
	h.sender.blockChat = "slow"
	h.sender.entered = make(chan struct{}, 1)
	h.sender.release = make(chan struct{})
	stop := h.start(t)
	defer stop()
	released := false
	defer func() {
		if !released {
			close(h.sender.release)
		}
	}()

	// more than the per-chat capacity, all waiting behind one stuck send
	for i := 0; i < 12; i++ {
		h.publish(t, bus.InboundEvent{ChatID: "slow", Text: " "})
	}
	select {
	case <-h.sender.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("slow chat send never started")
	}

	h.publish(t, bus.InboundEvent{ChatID: "fast", Text: "Mango"})
	waitFor(t, "fast chat reply", func() bool {
		texts, _ := h.sender.snapshot()
		for _, m := range texts {
			if m.ChatID == "fast" && m.Content == form.PromptPhoto {
				return true
			}
		}
		return false
	})

	close(h.sender.release)
	released = true
	waitFor(t, "slow chat backlog", func() bool {
		texts, _ := h.sender.snapshot()
		n := 0
		for _, m := range texts {
			if m.ChatID == "slow" {
				n++
			}
		}
		return n == 12
	})
}
