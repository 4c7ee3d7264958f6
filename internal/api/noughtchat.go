package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/star08-web/noughtchat/internal/config"
	"github.com/star08-web/noughtchat/internal/database"
	"github.com/star08-web/noughtchat/internal/server"
)

type NoughtApp struct {
	log            *log.Logger
	db             database.NoughtRepository
	mux            *http.Server
	cs             *server.ChatServer
	allowedOrigins []string
}

func NewNoughtApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.NoughtRepository, cfg *config.Config) *NoughtApp {
	s := &NoughtApp{
		log:            logger,
		db:             db,
		cs:             cs,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /api/rooms", s.createRoom)
	mux.HandleFunc("DELETE /api/rooms", s.deleteRoom)
	mux.HandleFunc("GET /api/messages", s.getMessages)
	mux.HandleFunc("GET /ws", s.serveWs)
	mux.HandleFunc("GET /healthz", s.healthCheck)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *NoughtApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *NoughtApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
