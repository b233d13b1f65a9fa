package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	capabilityModel "github.com/personaforge/backend/internal/capability"
	capabilityHandler "github.com/personaforge/backend/internal/handler/capability"
	"github.com/personaforge/backend/internal/handler/capture"
	chatHandler "github.com/personaforge/backend/internal/handler/chat"
	personaHandler "github.com/personaforge/backend/internal/handler/persona"
	streamHandler "github.com/personaforge/backend/internal/handler/stream"
	middlewarePkg "github.com/personaforge/backend/internal/middleware"
	chatService "github.com/personaforge/backend/internal/service/chat"
	"github.com/personaforge/backend/internal/service/coach"
	"github.com/personaforge/backend/internal/store"
)

// RouterDeps carries the wired services the HTTP layer serves.
type RouterDeps struct {
	Store          store.Store
	Monitor        *capabilityModel.Monitor
	ChatSvc        *chatService.Service
	Analyzer       *coach.Analyzer
	RecordingLimit time.Duration
	MaxSnapshots   int
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Route("/api", func(api chi.Router) {
		capabilityHandler.New(deps.Monitor).RegisterRoutes(api)
		personaHandler.New(deps.Store).RegisterRoutes(api)
		chatHandler.New(deps.ChatSvc, deps.Store).RegisterRoutes(api)
		streamHandler.New(deps.ChatSvc).RegisterRoutes(api)

		if deps.Analyzer != nil {
			capture.New(deps.Analyzer, deps.RecordingLimit, deps.MaxSnapshots).RegisterRoutes(api)
		}
	})

	return r
}
