package chat

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/hubchat/internal/model/chat"
	"github.com/zhouzirui/hubchat/internal/model/protocol"
	"github.com/zhouzirui/hubchat/internal/service/ai"
	"github.com/zhouzirui/hubchat/internal/service/backend"
	"github.com/zhouzirui/hubchat/pkg/utils"
)

// generateTimeout 后台生成回复的超时
const generateTimeout = 2 * time.Minute

// maxUploadBytes 上传文件大小上限
const maxUploadBytes = 32 << 20

// Handler 请求/轮询式 HTTP 接口
type Handler struct {
	backend      *backend.Service
	generator    ai.Generator
	systemPrompt string
}

// New 创建 HTTP 处理器
func New(svc *backend.Service, gen ai.Generator, systemPrompt string) *Handler {
	return &Handler{backend: svc, generator: gen, systemPrompt: systemPrompt}
}

// RegisterRoutes 注册 /api 下的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Get("/response", h.handleResponse)
	r.Post("/upload", h.handleUpload)
	r.Get("/files", h.handleFiles)
	r.Get("/memory", h.handleMemory)
	r.Get("/summary", h.handleSummary)
	r.Get("/models", h.handleModels)
	r.Post("/model", h.handleSetModel)
	r.Get("/document/chunks", h.handleChunks)
}

// handleChat 接收消息并在后台生成回复
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message      string `json:"message"`
		SessionID    string `json:"session_id"`
		EnhanceQuery bool   `json:"enhance_query"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}
	sessionID := sessionOrDefault(payload.SessionID)

	messageID := h.backend.Submit(sessionID, payload.Message)
	go h.generate(messageID, sessionID, payload.Message)

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    "Message received, processing started",
		"message_id": messageID,
	})
}

func (h *Handler) generate(messageID, sessionID, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), generateTimeout)
	defer cancel()

	history := h.backend.History(sessionID)
	h.backend.AppendMessage("", sessionID, protocol.HistoryMessage{Role: chat.RoleUser, Content: message})

	text, err := collect(ctx, h.generator, ai.Request{
		System:  ai.BuildSystemPrompt(ai.PromptContext{Base: h.systemPrompt}),
		History: ai.HistoryMessages(history),
		Query:   message,
	})
	if err != nil {
		log.Printf("[api] generate %s failed: %v", messageID, err)
		h.backend.Resolve(messageID, "", err)
		return
	}
	h.backend.AppendMessage("", sessionID, protocol.HistoryMessage{Role: chat.RoleAssistant, Content: text})
	h.backend.Resolve(messageID, text, nil)
}

func collect(ctx context.Context, gen ai.Generator, req ai.Request) (string, error) {
	stream, err := gen.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var chunks []*schema.Message
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", recvErr
		}
		if chunk != nil {
			chunks = append(chunks, chunk)
		}
	}
	if len(chunks) == 0 {
		return "", nil
	}
	merged, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", err
	}
	return merged.Content, nil
}

// handleResponse 查询后台回复状态
func (h *Handler) handleResponse(w http.ResponseWriter, r *http.Request) {
	messageID := r.URL.Query().Get("message_id")
	if messageID == "" {
		utils.RespondJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "Missing message ID"})
		return
	}

	status, response, err := h.backend.Poll(messageID)
	if err != nil {
		utils.RespondJSON(w, http.StatusNotFound, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": status, "response": response})
}

// handleUpload 接收 multipart 上传
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	uploaded := h.backend.Upload(sessionOrDefault(r.FormValue("session_id")), header.Filename, data)
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"file_id":  uploaded.ID,
		"filename": uploaded.Name,
	})
}

func (h *Handler) handleFiles(w http.ResponseWriter, r *http.Request) {
	files := h.backend.Files(sessionOrDefault(r.URL.Query().Get("session_id")))
	utils.RespondJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (h *Handler) handleMemory(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.backend.Memory(sessionOrDefault(r.URL.Query().Get("session_id"))))
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary := h.backend.Summary(sessionOrDefault(r.URL.Query().Get("session_id")))
	utils.RespondJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

func (h *Handler) handleModels(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{"models": h.backend.HTTPModels()})
}

// handleSetModel 切换会话模型
func (h *Handler) handleSetModel(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Model     string `json:"model"`
		SessionID string `json:"session_id"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.Model == "" {
		utils.RespondError(w, http.StatusBadRequest, "model is required")
		return
	}

	ok := h.backend.SetModel(sessionOrDefault(payload.SessionID), payload.Model)
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

func (h *Handler) handleChunks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	name := query.Get("document_name")
	if name == "" {
		utils.RespondError(w, http.StatusBadRequest, "document_name is required")
		return
	}

	chunks, err := h.backend.Chunks(sessionOrDefault(query.Get("session_id")), name)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, chunks)
}

func sessionOrDefault(id string) string {
	if id == "" {
		return "default"
	}
	return id
}
