package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/alumnet/backend/internal/auth"
	"github.com/alumnet/backend/internal/middleware"
)

// Router holds all handlers and creates the chi router
type Router struct {
	chatHandler   *ChatHandler
	healthHandler *HealthHandler
	gateway       *Gateway
	jwtManager    *auth.JWTManager
	logger        *zap.Logger
}

// NewRouter creates a new router
func NewRouter(
	chatHandler *ChatHandler,
	healthHandler *HealthHandler,
	gateway *Gateway,
	jwtManager *auth.JWTManager,
	logger *zap.Logger,
) *Router {
	return &Router{
		chatHandler:   chatHandler,
		healthHandler: healthHandler,
		gateway:       gateway,
		jwtManager:    jwtManager,
		logger:        logger,
	}
}

// Setup configures and returns the chi router
func (rt *Router) Setup() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RecoveryMiddleware(rt.logger))
	r.Use(middleware.LoggingMiddleware(rt.logger))
	r.Use(middleware.CORSMiddleware())
	r.Use(chimiddleware.Compress(5))

	// Health endpoints (no auth required)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", rt.healthHandler.Health)
		r.Get("/ready", rt.healthHandler.Ready)
		r.Get("/live", rt.healthHandler.Live)
	})

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// The gateway authenticates the handshake credential itself
		r.Get("/ws", rt.gateway.HandleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(rt.jwtManager))

			r.Route("/chats", func(r chi.Router) {
				r.Get("/", rt.chatHandler.GetChats)
				r.Post("/group", rt.chatHandler.CreateGroupChat)
				r.Get("/individual/{userId}", rt.chatHandler.GetOrCreateIndividualChat)
				r.Get("/{id}", rt.chatHandler.GetChat)
				r.Post("/{id}/message", rt.chatHandler.SendMessage)
				r.Put("/{id}", rt.chatHandler.UpdateChat)
				r.Post("/{id}/participants", rt.chatHandler.AddParticipant)
				r.Delete("/{id}/participants/{userId}", rt.chatHandler.RemoveParticipant)
				r.Delete("/{id}/leave", rt.chatHandler.LeaveChat)
			})
		})
	})

	return r
}
