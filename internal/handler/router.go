package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/hubchat/internal/handler/chat"
	"github.com/zhouzirui/hubchat/internal/handler/speech"
	"github.com/zhouzirui/hubchat/internal/service/ai"
	"github.com/zhouzirui/hubchat/internal/service/backend"
	"github.com/zhouzirui/hubchat/pkg/utils"
)

// Options wires the development backend.
type Options struct {
	Backend      *backend.Service
	Generator    ai.Generator
	Player       speech.Player
	SystemPrompt string
	StreamDelay  time.Duration
}

// NewRouter wires HTTP and WebSocket routes to the backend services.
func NewRouter(opts Options) http.Handler {
	if opts.Generator == nil {
		opts.Generator = ai.EchoGenerator{}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	chatHandler := chat.New(opts.Backend, opts.Generator, opts.SystemPrompt)
	wsHandler := chat.NewWebSocketHandler(opts.Backend, opts.Generator, opts.SystemPrompt, opts.StreamDelay)
	speechHandler := speech.New(opts.Player)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)

		api.Get("/test", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	})

	wsHandler.RegisterWebSocketRoutes(r)
	speechHandler.RegisterRoutes(r)

	return r
}
