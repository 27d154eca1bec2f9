package httpapi

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"staffroom/internal/live"
	"staffroom/internal/store"
)

type Server struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewServer(handlers *Handlers, wsServer *live.Server, backend store.Backend, addr string) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/messages", handlers.SendMessageHandler)
	mux.HandleFunc("POST /api/receipts", handlers.ReadReceiptHandler)
	mux.HandleFunc("POST /api/reactions", handlers.ReactionHandler)
	mux.HandleFunc("GET /api/messages/pending", handlers.PendingMessagesHandler)
	mux.HandleFunc("GET /api/messages/unread-count", handlers.UnreadCountHandler)
	mux.HandleFunc("POST /api/messages/{id}/delivered", handlers.MarkDeliveredHandler)
	mux.HandleFunc("GET /api/presence/online", handlers.OnlineHandler)
	mux.HandleFunc("GET /api/presence/{type}/{id}", handlers.PresenceHandler)
	mux.HandleFunc("GET /api/typing", handlers.TypingHandler)

	// WebSocket endpoint
	mux.HandleFunc("/api/realtime", wsServer.HandleConnections)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if backend.Degraded() {
			// Still serving, but operators should see it.
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("degraded"))
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	if addr == "" {
		addr = ":8080"
	}

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("api server started")
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
