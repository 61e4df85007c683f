package chat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/hubchat/internal/handler"
	"github.com/zhouzirui/hubchat/internal/model/chat"
	"github.com/zhouzirui/hubchat/internal/service/ai"
	"github.com/zhouzirui/hubchat/internal/service/backend"
	"github.com/zhouzirui/hubchat/internal/service/hub"
	"github.com/zhouzirui/hubchat/internal/service/transport"
	"github.com/zhouzirui/hubchat/internal/storage"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) add(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count(id string, kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.SessionID == id && ev.Kind == kind {
			n++
		}
	}
	return n
}

// recordingDialer keeps every socket so tests can cut them.
type recordingDialer struct {
	mu    sync.Mutex
	conns []*websocket.Conn
}

func (d *recordingDialer) DialContext(ctx context.Context, url string, h http.Header) (*websocket.Conn, *http.Response, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, h)
	if err == nil {
		d.mu.Lock()
		d.conns = append(d.conns, ws)
		d.mu.Unlock()
	}
	return ws, resp, err
}

func (d *recordingDialer) dropAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ws := range d.conns {
		ws.UnderlyingConn().Close()
	}
}

// gatedGenerator streams one fragment and waits for release before finishing.
type gatedGenerator struct {
	release chan struct{}
}

func (g *gatedGenerator) Stream(ctx context.Context, _ ai.Request) (*schema.StreamReader[*schema.Message], error) {
	sr, sw := schema.Pipe[*schema.Message](2)
	go func() {
		defer sw.Close()
		sw.Send(schema.AssistantMessage("<think>weighing", nil), nil)
		select {
		case <-g.release:
		case <-ctx.Done():
			return
		}
		sw.Send(schema.AssistantMessage("</think>done", nil), nil)
	}()
	return sr, nil
}

type harness struct {
	store   *Store
	pool    *transport.Pool
	backend *backend.Service
	dialer  *recordingDialer
	events  *recorder
	dir     string
}

type harnessConfig struct {
	models    []string
	generator ai.Generator
	reconnect time.Duration
	index     SessionIndex
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()
	if cfg.models == nil {
		cfg.models = []string{"llama3", "qwen2.5"}
	}
	if cfg.reconnect == 0 {
		cfg.reconnect = 20 * time.Millisecond
	}

	svc := backend.NewService(backend.Options{Models: cfg.models})
	srv := httptest.NewServer(handler.NewRouter(handler.Options{Backend: svc, Generator: cfg.generator}))

	h := &harness{backend: svc, dialer: &recordingDialer{}, events: &recorder{}, dir: t.TempDir()}
	h.pool = transport.NewPool(transport.Options{
		BaseURL:        "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		ReconnectDelay: cfg.reconnect,
		Dialer:         h.dialer,
	})

	store, err := NewStore(Options{
		ClientID:        "client-1",
		Pool:            h.pool,
		Index:           cfg.index,
		Sink:            hub.DirSink{Dir: h.dir},
		ResponseTimeout: 2 * time.Second,
		OnEvent:         h.events.add,
	})
	if err != nil {
		t.Fatalf("NewStore err: %v", err)
	}
	h.store = store

	t.Cleanup(func() {
		store.Close()
		h.pool.Close()
		srv.Close()
	})
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// open creates a session and waits for its socket, model list and first history.
func (h *harness) open(t *testing.T, name string) chat.Session {
	t.Helper()
	info, err := h.store.CreateSession(context.Background(), name)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	waitFor(t, "session ready", func() bool {
		st, err := h.store.Status(info.ID)
		return err == nil && st.State == transport.StateOpen &&
			h.events.count(info.ID, EventModels) > 0 && h.events.count(info.ID, EventHistory) > 0
	})
	return info
}

func (h *harness) idle(t *testing.T, id string) {
	t.Helper()
	waitFor(t, "reply finished", func() bool {
		st, err := h.store.Status(id)
		return err == nil && !st.Loading
	})
}

func TestStoreStreamsReplyIntoOneMessage(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	info := h.open(t, "")

	st, _ := h.store.Status(info.ID)
	if st.Model != "llama3" {
		t.Fatalf("expected first offered model to be selected, got %q", st.Model)
	}
	if info.Name != "Chat 1" {
		t.Fatalf("expected default name, got %q", info.Name)
	}

	if err := h.store.SendMessage(context.Background(), info.ID, "hi", nil); err != nil {
		t.Fatalf("SendMessage err: %v", err)
	}
	waitFor(t, "complete event", func() bool { return h.events.count(info.ID, EventComplete) == 1 })
	h.idle(t, info.ID)

	messages, _ := h.store.Messages(info.ID)
	if len(messages) != 2 {
		t.Fatalf("expected user and assistant messages, got %d", len(messages))
	}
	reply := messages[1]
	if reply.Role != chat.RoleAssistant || reply.Content != "Echo from llama3: hi" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if reply.Thinking() != "Considering: hi" {
		t.Fatalf("unexpected thinking %q", reply.Thinking())
	}
	if len(reply.SearchResults) != 3 {
		t.Fatalf("expected default search enrichment, got %d results", len(reply.SearchResults))
	}
	if h.events.count(info.ID, EventMessage) < 2 {
		t.Fatal("expected incremental message events")
	}
}

func TestStoreSendPreconditions(t *testing.T) {
	h := newHarness(t, harnessConfig{models: []string{}})
	info := h.open(t, "no models")

	if err := h.store.SendMessage(context.Background(), info.ID, "   ", nil); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if err := h.store.SendMessage(context.Background(), info.ID, "hi", nil); !errors.Is(err, ErrNoModel) {
		t.Fatalf("expected ErrNoModel, got %v", err)
	}
	if err := h.store.SendMessage(context.Background(), "missing", "hi", nil); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if messages, _ := h.store.Messages(info.ID); len(messages) != 0 {
		t.Fatalf("rejected sends must not touch the transcript, got %d messages", len(messages))
	}
}

func TestStoreBusyWhileReplyPending(t *testing.T) {
	gen := &gatedGenerator{release: make(chan struct{})}
	h := newHarness(t, harnessConfig{generator: gen})
	var once sync.Once
	release := func() { once.Do(func() { close(gen.release) }) }
	t.Cleanup(release)

	info := h.open(t, "")
	ctx := context.Background()
	if err := h.store.SendMessage(ctx, info.ID, "first", nil); err != nil {
		t.Fatalf("SendMessage err: %v", err)
	}
	waitFor(t, "first fragment", func() bool { return h.events.count(info.ID, EventMessage) > 0 })

	if err := h.store.SendMessage(ctx, info.ID, "second", nil); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for send, got %v", err)
	}
	if _, err := h.store.Export(ctx, info.ID, "x"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for export, got %v", err)
	}
	if err := h.store.Import(ctx, info.ID, []byte(`{"version":"1.0","messages":[]}`)); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for import, got %v", err)
	}

	release()
	h.idle(t, info.ID)
	messages, _ := h.store.Messages(info.ID)
	if len(messages) != 2 || messages[1].Content != "done" || messages[1].Thinking() != "weighing" {
		t.Fatalf("unexpected transcript %+v", messages)
	}
}

func TestStoreHubExchangeBlocksSend(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	info := h.open(t, "")
	ctx := context.Background()

	_, release, err := h.store.reserve(info.ID)
	if err != nil {
		t.Fatalf("reserve err: %v", err)
	}
	if err := h.store.SendMessage(ctx, info.ID, "hi", nil); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy during an exchange, got %v", err)
	}
	if _, err := h.store.Export(ctx, info.ID, "x"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for a second exchange, got %v", err)
	}

	release()
	if err := h.store.SendMessage(ctx, info.ID, "hi", nil); err != nil {
		t.Fatalf("SendMessage after release err: %v", err)
	}
	h.idle(t, info.ID)
}

func TestStoreImportRejectsInvalidFile(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	info := h.open(t, "")

	for _, data := range []string{`not json`, `{"version":"","messages":[]}`, `{"version":"1.0"}`} {
		if err := h.store.Import(context.Background(), info.ID, []byte(data)); !errors.Is(err, hub.ErrInvalidHubFile) {
			t.Fatalf("Import(%s) expected ErrInvalidHubFile, got %v", data, err)
		}
	}
	if got := h.backend.History(info.ID); len(got) != 0 {
		t.Fatalf("invalid imports must not reach the backend, got %d rows", len(got))
	}
}

func TestStoreExportThenImportIntoAnotherSession(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	src := h.open(t, "Source chat")

	if err := h.store.SendMessage(ctx, src.ID, "hello", nil); err != nil {
		t.Fatalf("SendMessage err: %v", err)
	}
	waitFor(t, "reply", func() bool { return h.events.count(src.ID, EventComplete) == 1 })
	h.idle(t, src.ID)

	path, err := h.store.Export(ctx, src.ID, "Source chat!")
	if err != nil {
		t.Fatalf("Export err: %v", err)
	}
	if filepath.Base(path) != "Source_chat.hub" {
		t.Fatalf("unexpected export name %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	file, err := hub.Parse(data)
	if err != nil {
		t.Fatalf("exported file does not parse: %v", err)
	}
	if file.ChatID != src.ID || len(file.Messages) != 2 {
		t.Fatalf("unexpected export %+v", file)
	}

	dst := h.open(t, "Target")
	before := h.events.count(dst.ID, EventHistory)
	if err := h.store.Import(ctx, dst.ID, data); err != nil {
		t.Fatalf("Import err: %v", err)
	}
	waitFor(t, "history after import", func() bool {
		messages, _ := h.store.Messages(dst.ID)
		return h.events.count(dst.ID, EventHistory) > before && len(messages) == 2
	})

	messages, _ := h.store.Messages(dst.ID)
	if messages[0].Content != "hello" || messages[1].Thinking() != "Considering: hello" {
		t.Fatalf("unexpected imported transcript %+v", messages)
	}
	if got := h.backend.History(src.ID); len(got) != 2 {
		t.Fatalf("source chat must be untouched, got %d rows", len(got))
	}
}

func TestStoreExportFailureFromBackend(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	info := h.open(t, "")

	if _, err := h.store.Export(context.Background(), info.ID, ""); !errors.Is(err, ErrExportFailed) {
		t.Fatalf("expected ErrExportFailed for an empty chat, got %v", err)
	}
	entries, _ := os.ReadDir(h.dir)
	if len(entries) != 0 {
		t.Fatalf("failed export must not write files, found %d", len(entries))
	}
}

func TestStoreSessionsAreIsolated(t *testing.T) {
	gen := &gatedGenerator{release: make(chan struct{})}
	h := newHarness(t, harnessConfig{generator: gen})
	var once sync.Once
	release := func() { once.Do(func() { close(gen.release) }) }
	t.Cleanup(release)

	a := h.open(t, "A")
	b := h.open(t, "B")
	if active, _ := h.store.Active(); active.ID != a.ID {
		t.Fatalf("first session should stay active, got %s", active.ID)
	}
	if h.pool.Len() != 2 {
		t.Fatalf("expected one socket per session, got %d", h.pool.Len())
	}

	if err := h.store.SendMessage(context.Background(), a.ID, "for a", nil); err != nil {
		t.Fatalf("SendMessage err: %v", err)
	}
	waitFor(t, "fragment in a", func() bool { return h.events.count(a.ID, EventMessage) > 0 })

	if err := h.store.SelectModel(b.ID, "qwen2.5"); err != nil {
		t.Fatalf("SelectModel err: %v", err)
	}
	if err := h.store.SendMessage(context.Background(), b.ID, "for b", nil); err != nil {
		t.Fatalf("b must not be blocked by a: %v", err)
	}

	release()
	h.idle(t, a.ID)
	h.idle(t, b.ID)

	ma, _ := h.store.Messages(a.ID)
	mb, _ := h.store.Messages(b.ID)
	if len(ma) != 2 || ma[0].Content != "for a" || len(mb) != 2 || mb[0].Content != "for b" {
		t.Fatalf("transcripts mixed: a=%+v b=%+v", ma, mb)
	}
	if mb[1].Model != "qwen2.5" {
		t.Fatalf("expected b reply tagged with qwen2.5, got %q", mb[1].Model)
	}
}

func TestStoreSelectUnknownModel(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	info := h.open(t, "")

	if err := h.store.SelectModel(info.ID, "gpt-9"); !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
	if st, _ := h.store.Status(info.ID); st.Model != "llama3" {
		t.Fatalf("model must be unchanged, got %q", st.Model)
	}
}

func TestStoreDropMidReplyEndsReply(t *testing.T) {
	gen := &gatedGenerator{release: make(chan struct{})}
	h := newHarness(t, harnessConfig{generator: gen, reconnect: time.Hour})
	t.Cleanup(func() { close(gen.release) })

	info := h.open(t, "")
	if err := h.store.SendMessage(context.Background(), info.ID, "hi", nil); err != nil {
		t.Fatalf("SendMessage err: %v", err)
	}
	waitFor(t, "first fragment", func() bool { return h.events.count(info.ID, EventMessage) > 0 })

	h.dialer.dropAll()
	h.idle(t, info.ID)

	st, _ := h.store.Status(info.ID)
	if st.State != transport.StateClosed || st.LastError != disconnectedReason {
		t.Fatalf("unexpected status after drop %+v", st)
	}
	messages, _ := h.store.Messages(info.ID)
	last := messages[len(messages)-1]
	if !last.Error || last.Content != "Error: "+disconnectedReason {
		t.Fatalf("expected synthetic error reply, got %+v", last)
	}
	if err := h.store.SendMessage(context.Background(), info.ID, "again", nil); !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected while disconnected, got %v", err)
	}
}

func TestStoreRestoreFromIndex(t *testing.T) {
	index, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("OpenSQLite err: %v", err)
	}
	t.Cleanup(func() { index.Close() })

	h := newHarness(t, harnessConfig{index: index})
	first := h.open(t, "kept")
	second := h.open(t, "forgotten")

	if err := h.store.CloseSession(context.Background(), second.ID, true); err != nil {
		t.Fatalf("CloseSession err: %v", err)
	}
	if h.pool.Len() != 1 {
		t.Fatalf("closed session must release its socket, got %d", h.pool.Len())
	}

	restored := newHarness(t, harnessConfig{index: index})
	list, err := restored.store.Restore(context.Background())
	if err != nil {
		t.Fatalf("Restore err: %v", err)
	}
	if len(list) != 1 || list[0].ID != first.ID || list[0].Name != "kept" {
		t.Fatalf("unexpected restored sessions %+v", list)
	}
	if sessions := restored.store.Sessions(); len(sessions) != 1 {
		t.Fatalf("expected restored session to be open, got %d", len(sessions))
	}
}
