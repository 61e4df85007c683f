package speech

import (
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/hubchat/pkg/utils"
)

// Player 朗读文本的后端实现
type Player interface {
	Play(text string) error
}

// LogPlayer 只记录日志的朗读实现，开发环境使用
type LogPlayer struct{}

// Play implements Player.
func (LogPlayer) Play(text string) error {
	log.Printf("[tts] play %d chars", len([]rune(text)))
	return nil
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	player Player
}

// New 创建语音处理器
func New(player Player) *Handler {
	if player == nil {
		player = LogPlayer{}
	}
	return &Handler{player: player}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/tts", func(ttsRouter chi.Router) {
		ttsRouter.Post("/play", h.handlePlay)
	})
}

// handlePlay 朗读文本；音频在后端播放，响应不带音频数据
func (h *Handler) handlePlay(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(payload.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	if err := h.player.Play(payload.Text); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to generate audio: "+err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
