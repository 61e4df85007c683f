package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/hubchat/internal/model/chat"
	"github.com/zhouzirui/hubchat/internal/model/protocol"
	"github.com/zhouzirui/hubchat/internal/service/ai"
	"github.com/zhouzirui/hubchat/internal/service/backend"
	"github.com/zhouzirui/hubchat/internal/service/stream"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// WebSocketHandler 每个 client/chat 一条连接的流式对话处理器
type WebSocketHandler struct {
	backend      *backend.Service
	generator    ai.Generator
	systemPrompt string
	streamDelay  time.Duration
	readTimeout  time.Duration
	upgrader     websocket.Upgrader
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(svc *backend.Service, gen ai.Generator, systemPrompt string, streamDelay time.Duration) *WebSocketHandler {
	return &WebSocketHandler{
		backend:      svc,
		generator:    gen,
		systemPrompt: systemPrompt,
		streamDelay:  streamDelay,
		readTimeout:  readTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/{clientID}/{chatID}", h.handleWebSocket)
}

// inboundMessage 客户端消息。控制消息带 type，普通对话消息没有 type。
type inboundMessage struct {
	Type         string          `json:"type"`
	ChatID       string          `json:"chatId"`
	Title        string          `json:"title"`
	HubFile      json.RawMessage `json:"hubFile"`
	FolderPath   string          `json:"folder_path"`
	ForceRefresh bool            `json:"force_refresh"`
	Message      string          `json:"message"`
	Files        []chat.FileInfo `json:"files"`
	Model        string          `json:"model"`
	WebSearch    *bool           `json:"webSearchEnabled"`
	SearchType   chat.SearchType `json:"searchType"`
	ResultsCount int             `json:"resultsCount"`
	ShowSummary  bool            `json:"showSummary"`
}

type connection struct {
	ws       *websocket.Conn
	clientID string
	chatID   string
}

func (c *connection) send(frame protocol.Frame) error {
	data, err := protocol.EncodeFrame(frame)
	if err != nil {
		return err
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *connection) sendError(message string) {
	if err := c.send(protocol.ErrorFrame{Message: message}); err != nil {
		log.Printf("[mock-ws] %s/%s send error frame failed: %v", c.clientID, c.chatID, err)
	}
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	chatID := chi.URLParam(r, "chatID")
	if clientID == "" || chatID == "" {
		http.Error(w, "clientID and chatID are required", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[mock-ws] upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	log.Printf("[mock-ws] new connection client=%s chat=%s", clientID, chatID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ws.SetReadDeadline(time.Now().Add(h.readTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(h.readTimeout))
		return nil
	})

	go h.pingLoop(ctx, ws)

	conn := &connection{ws: ws, clientID: clientID, chatID: chatID}
	for {
		var msg inboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[mock-ws] read error: %v", err)
			}
			return
		}

		if msg.ChatID != "" && msg.ChatID != chatID {
			conn.sendError("chat mismatch")
		} else if err := h.handleMessage(ctx, conn, &msg); err != nil {
			log.Printf("[mock-ws] %s/%s write failed: %v", clientID, chatID, err)
			return
		}

		// pongs are not read while a reply streams
		ws.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
}

// handleMessage 分发一条客户端消息；返回的错误表示连接已不可写。
func (h *WebSocketHandler) handleMessage(ctx context.Context, conn *connection, msg *inboundMessage) error {
	switch msg.Type {
	case protocol.TypeGetModels:
		return conn.send(protocol.ModelsFrame{Models: h.backend.Models()})
	case protocol.TypeGetSystemInfo:
		return conn.send(protocol.SystemInfo{Specs: backend.SystemSpecs()})
	case protocol.TypeGetConversationHistory:
		return h.sendHistory(conn)
	case protocol.TypeHubExport:
		return h.handleHubExport(conn, msg)
	case protocol.TypeHubImport:
		return h.handleHubImport(conn, msg)
	case protocol.TypeScanFolder:
		return conn.send(backend.ScanFolder(msg.FolderPath))
	case "":
		return h.handleChatMessage(ctx, conn, msg)
	default:
		return conn.send(protocol.ErrorFrame{Message: "unsupported message type: " + msg.Type})
	}
}

func (h *WebSocketHandler) sendHistory(conn *connection) error {
	return conn.send(protocol.ConversationHistory{Messages: h.backend.History(conn.chatID)})
}

func (h *WebSocketHandler) handleHubExport(conn *connection, msg *inboundMessage) error {
	data, err := h.backend.Export(conn.chatID, msg.Title)
	if err != nil {
		log.Printf("[mock-ws] hub export %s failed: %v", conn.chatID, err)
		return conn.send(protocol.HubExportResponse{Success: false, Error: err.Error()})
	}
	return conn.send(protocol.HubExportResponse{Success: true, Data: data})
}

func (h *WebSocketHandler) handleHubImport(conn *connection, msg *inboundMessage) error {
	if len(msg.HubFile) == 0 || string(msg.HubFile) == "null" {
		return conn.send(protocol.HubImportResponse{Success: false, Error: "No hub file data provided"})
	}
	if err := h.backend.Import(conn.clientID, conn.chatID, msg.HubFile); err != nil {
		return conn.send(protocol.HubImportResponse{Success: false, Error: err.Error()})
	}
	if err := conn.send(protocol.HubImportResponse{Success: true}); err != nil {
		return err
	}
	return h.sendHistory(conn)
}

// handleChatMessage 生成并流式返回一条回复
func (h *WebSocketHandler) handleChatMessage(ctx context.Context, conn *connection, msg *inboundMessage) error {
	if msg.Model == "" {
		return conn.send(protocol.ErrorFrame{Message: "No model selected"})
	}
	if !h.backend.HasModel(msg.Model) {
		return conn.send(protocol.ErrorFrame{Message: fmt.Sprintf("Selected model %s is not available", msg.Model)})
	}

	userText := msg.Message
	if len(msg.Files) > 0 {
		names := make([]string, 0, len(msg.Files))
		for _, f := range msg.Files {
			names = append(names, f.Name)
		}
		userText = strings.TrimSpace(fmt.Sprintf("%s\n[Uploaded files: %s]", msg.Message, strings.Join(names, ", ")))
	}

	history := h.backend.History(conn.chatID)
	h.backend.AppendMessage(conn.clientID, conn.chatID, protocol.HistoryMessage{
		Role:    chat.RoleUser,
		Content: userText,
		Files:   msg.Files,
		Model:   msg.Model,
	})

	var results []chat.SearchResult
	var summary string
	webSearch := msg.WebSearch == nil || *msg.WebSearch
	if webSearch && strings.TrimSpace(msg.Message) != "" {
		results = backend.Search(msg.Message, msg.SearchType, msg.ResultsCount)
		if msg.ShowSummary {
			summary = backend.Summarize(results)
		}
	}

	query := msg.Message
	if strings.TrimSpace(query) == "" {
		query = "Please analyze the provided files and provide a detailed explanation of their contents."
	}

	reader, err := h.generator.Stream(ctx, ai.Request{
		Model: msg.Model,
		System: ai.BuildSystemPrompt(ai.PromptContext{
			Base:          h.systemPrompt,
			Files:         msg.Files,
			SearchResults: results,
			SearchSummary: summary,
		}),
		History: ai.HistoryMessages(history),
		Query:   query,
	})
	if err != nil {
		return conn.send(protocol.ErrorFrame{Message: "Error: " + err.Error()})
	}
	defer reader.Close()

	var raw strings.Builder
	for {
		chunk, recvErr := reader.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return conn.send(protocol.ErrorFrame{Message: "Error: " + recvErr.Error()})
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		raw.WriteString(chunk.Content)
		if err := conn.send(protocol.StreamFrame{Content: chunk.Content}); err != nil {
			return err
		}
		if !sleepContext(ctx, h.streamDelay) {
			return ctx.Err()
		}
	}

	split := stream.SplitText(raw.String())
	h.backend.AppendMessage(conn.clientID, conn.chatID, protocol.HistoryMessage{
		Role:            chat.RoleAssistant,
		Content:         split.Content,
		ThinkingContent: split.Thinking,
		SearchResults:   results,
		SearchSummary:   summary,
		Model:           msg.Model,
	})

	return conn.send(protocol.CompleteFrame{
		Content:       raw.String(),
		SearchResults: results,
		SearchSummary: summary,
	})
}

func (h *WebSocketHandler) pingLoop(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				log.Printf("[mock-ws] ping failed: %v", err)
				return
			}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
