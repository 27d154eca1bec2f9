package live

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"staffroom/internal/models"
	"staffroom/internal/presence"
)

// Server upgrades authenticated requests to websocket connections. Session
// validation happens upstream in the platform's HTTP layer; by the time a
// request reaches this handler the principal headers are trusted.
type Server struct {
	registry *Registry
	tracker  *presence.Tracker
	notifier Notifier
	flusher  Flusher
	upgrader *websocket.Upgrader
}

func NewServer(registry *Registry, tracker *presence.Tracker, notifier Notifier, flusher Flusher) *Server {
	return &Server{
		registry: registry,
		tracker:  tracker,
		notifier: notifier,
		flusher:  flusher,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	principal := models.Principal{
		Type: models.PrincipalType(r.Header.Get("X-Principal-Type")),
		ID:   r.Header.Get("X-Principal-Id"),
	}
	if !principal.Valid() {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := NewConnection(ws, s.registry, s.tracker, s.notifier, s.flusher, principal, r.Header.Get("X-Device"))
	if err := conn.Handle(r.Context()); err != nil {
		log.Debug().Err(err).Str("principal", principal.ID).Msg("connection closed")
	}
}
