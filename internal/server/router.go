package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/kbbot/internal/api"
	"github.com/cloo-solutions/kbbot/internal/api/handlers"
	"github.com/cloo-solutions/kbbot/internal/api/middleware"
	"github.com/cloo-solutions/kbbot/internal/logger"
)

type RouterConfig struct {
	TokenValidator      middleware.TokenValidator
	Logger              *logger.Logger
	AskHandler          *handlers.AskHandler
	SummaryHandler      *handlers.SummaryHandler
	KnowledgeHandler    *handlers.KnowledgeHandler
	ConversationHandler *handlers.ConversationHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog(log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.TokenAuth(cfg.TokenValidator))

		r.With(middleware.BodyLimit(middleware.DefaultBodyBytes)).Post("/ask", cfg.AskHandler.Ask)

		r.Route("/summaries", func(r chi.Router) {
			r.Use(middleware.BodyLimit(middleware.DefaultBodyBytes))
			r.Get("/", cfg.SummaryHandler.List)
			r.Post("/run", cfg.SummaryHandler.Run)
			r.Get("/{id}", cfg.SummaryHandler.Get)
			r.Post("/{id}/review", cfg.SummaryHandler.Review)
		})

		r.Route("/knowledge", func(r chi.Router) {
			r.Use(middleware.BodyLimit(middleware.ImportBodyBytes))
			r.Post("/", cfg.KnowledgeHandler.Upsert)
			r.Post("/search", cfg.KnowledgeHandler.Search)
			r.Get("/count", cfg.KnowledgeHandler.Count)
			r.Get("/{id}", cfg.KnowledgeHandler.Get)
		})

		r.Route("/conversations/{id}/messages", func(r chi.Router) {
			r.Use(middleware.BodyLimit(middleware.DefaultBodyBytes))
			r.Post("/", cfg.ConversationHandler.Append)
			r.Get("/", cfg.ConversationHandler.Recent)
		})
	})

	return r
}
