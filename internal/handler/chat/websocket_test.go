package chat

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/hubchat/internal/model/chat"
	"github.com/zhouzirui/hubchat/internal/model/protocol"
	"github.com/zhouzirui/hubchat/internal/service/ai"
	"github.com/zhouzirui/hubchat/internal/service/backend"
)

func startSocket(t *testing.T) (*httptest.Server, *backend.Service) {
	t.Helper()
	svc := backend.NewService(backend.Options{Models: []string{"llama3", "qwen2.5"}})
	return serveSocket(t, NewWebSocketHandler(svc, ai.EchoGenerator{}, "", 0)), svc
}

func serveSocket(t *testing.T, h *WebSocketHandler) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	h.RegisterWebSocketRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, chatID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/client-1/" + chatID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendJSON(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	if err := ws.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, ws *websocket.Conn) protocol.Frame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	frame, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return frame
}

func TestSocketModels(t *testing.T) {
	srv, _ := startSocket(t)
	ws := dial(t, srv, "chat-1")

	sendJSON(t, ws, protocol.GetModels())
	frame, ok := readFrame(t, ws).(protocol.ModelsFrame)
	if !ok || len(frame.Models) != 2 || frame.Models[0].Name != "llama3" {
		t.Fatalf("unexpected models frame %#v", frame)
	}
}

func TestSocketStreamsReply(t *testing.T) {
	srv, svc := startSocket(t)
	ws := dial(t, srv, "chat-1")

	settings := chat.SearchSettings{WebSearchEnabled: true, SearchType: chat.SearchNews, ResultsCount: 2, ShowSummary: true}
	sendJSON(t, ws, protocol.NewSendRequest("hi", nil, "llama3", settings))

	var raw strings.Builder
	for {
		switch f := readFrame(t, ws).(type) {
		case protocol.StreamFrame:
			raw.WriteString(f.Content)
			continue
		case protocol.CompleteFrame:
			if f.Content != raw.String() {
				t.Fatalf("complete content %q differs from streamed %q", f.Content, raw.String())
			}
			if len(f.SearchResults) != 2 || f.SearchResults[0].Type != "news" || f.SearchSummary == "" {
				t.Fatalf("unexpected enrichment %+v", f)
			}
		default:
			t.Fatalf("unexpected frame %#v", f)
		}
		break
	}

	history := svc.History("chat-1")
	if len(history) != 2 {
		t.Fatalf("expected user and assistant rows, got %d", len(history))
	}
	if history[1].Content != "Echo from llama3: hi" || history[1].ThinkingContent == nil {
		t.Fatalf("assistant row not split: %+v", history[1])
	}
}

func TestSocketRejectsMissingModel(t *testing.T) {
	srv, svc := startSocket(t)
	ws := dial(t, srv, "chat-1")

	sendJSON(t, ws, protocol.NewSendRequest("hi", nil, "", chat.DefaultSearchSettings()))
	if f, ok := readFrame(t, ws).(protocol.ErrorFrame); !ok || f.Message != "No model selected" {
		t.Fatalf("unexpected frame %#v", f)
	}

	sendJSON(t, ws, protocol.NewSendRequest("hi", nil, "gpt-9", chat.DefaultSearchSettings()))
	if f, ok := readFrame(t, ws).(protocol.ErrorFrame); !ok || !strings.Contains(f.Message, "gpt-9") {
		t.Fatalf("unexpected frame %#v", f)
	}
	if len(svc.History("chat-1")) != 0 {
		t.Fatal("rejected messages must not be recorded")
	}
}

func TestSocketHubExportImport(t *testing.T) {
	srv, svc := startSocket(t)
	svc.AppendMessage("client-1", "chat-1", protocol.HistoryMessage{Role: chat.RoleUser, Content: "hi"})

	src := dial(t, srv, "chat-1")
	sendJSON(t, src, protocol.HubExport("chat-1", "Title"))
	exported, ok := readFrame(t, src).(protocol.HubExportResponse)
	if !ok || !exported.Success {
		t.Fatalf("export failed: %#v", exported)
	}
	var file chat.HubFile
	if err := json.Unmarshal(exported.Data, &file); err != nil || file.Version != "1.0" {
		t.Fatalf("unexpected export %s: %v", exported.Data, err)
	}

	dst := dial(t, srv, "chat-2")
	sendJSON(t, dst, protocol.HubImport(exported.Data, "chat-2"))
	if f, ok := readFrame(t, dst).(protocol.HubImportResponse); !ok || !f.Success {
		t.Fatalf("import failed: %#v", f)
	}
	history, ok := readFrame(t, dst).(protocol.ConversationHistory)
	if !ok || len(history.Messages) != 1 || history.Messages[0].Content != "hi" {
		t.Fatalf("unexpected history after import %#v", history)
	}
}

func TestSocketExportEmptyChatFails(t *testing.T) {
	srv, _ := startSocket(t)
	ws := dial(t, srv, "empty")

	sendJSON(t, ws, protocol.HubExport("empty", ""))
	if f, ok := readFrame(t, ws).(protocol.HubExportResponse); !ok || f.Success || f.Error == "" {
		t.Fatalf("expected failed export, got %#v", f)
	}
}

func TestSocketChatMismatch(t *testing.T) {
	srv, _ := startSocket(t)
	ws := dial(t, srv, "chat-1")

	sendJSON(t, ws, protocol.GetConversationHistory("other"))
	if f, ok := readFrame(t, ws).(protocol.ErrorFrame); !ok || f.Message != "chat mismatch" {
		t.Fatalf("unexpected frame %#v", f)
	}
}

func TestSocketSystemInfoAndUnknownType(t *testing.T) {
	srv, _ := startSocket(t)
	ws := dial(t, srv, "chat-1")

	sendJSON(t, ws, protocol.GetSystemInfo())
	if f, ok := readFrame(t, ws).(protocol.SystemInfo); !ok || f.Specs.CPUCores == 0 {
		t.Fatalf("unexpected frame %#v", f)
	}

	sendJSON(t, ws, protocol.TypedRequest{Type: "play_audio"})
	if _, ok := readFrame(t, ws).(protocol.ErrorFrame); !ok {
		t.Fatal("expected error frame for unsupported type")
	}
}

func TestSocketSurvivesReplyLongerThanReadTimeout(t *testing.T) {
	svc := backend.NewService(backend.Options{Models: []string{"llama3"}})
	h := NewWebSocketHandler(svc, ai.EchoGenerator{}, "", 60*time.Millisecond)
	h.readTimeout = 150 * time.Millisecond
	ws := dial(t, serveSocket(t, h), "chat-1")

	settings := chat.SearchSettings{WebSearchEnabled: false, SearchType: chat.SearchText, ResultsCount: 1}
	sendJSON(t, ws, protocol.NewSendRequest("slow", nil, "llama3", settings))
	for {
		if _, done := readFrame(t, ws).(protocol.CompleteFrame); done {
			break
		}
	}

	sendJSON(t, ws, protocol.GetModels())
	if _, ok := readFrame(t, ws).(protocol.ModelsFrame); !ok {
		t.Fatal("expected the socket to stay usable after a long reply")
	}
}
