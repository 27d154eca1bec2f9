package live

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"staffroom/internal/models"
	"staffroom/internal/presence"
)

type wsConn interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

// Notifier is the dispatcher surface the connection needs: broadcasting that
// a principal's presence changed or that they started typing.
type Notifier interface {
	PresenceChanged(ctx context.Context, rec *models.PresenceRecord)
	WentOffline(ctx context.Context, p models.Principal)
	TypingStarted(ctx context.Context, roomID string, p models.Principal, name string)
	// AttachPrincipal relays directed bus deliveries for p to this
	// instance's sockets until the returned detach is called.
	AttachPrincipal(p models.Principal) func()
}

// Flusher hands queued offline messages to a freshly connected principal.
type Flusher interface {
	DeliverPending(ctx context.Context, p models.Principal) (int, error)
}

type ClientFrameType string

const (
	FrameHeartbeat ClientFrameType = "heartbeat"
	FrameStatus    ClientFrameType = "status"
	FrameTyping    ClientFrameType = "typing"
)

// ClientFrame is what clients send over the socket. Message sends go through
// the HTTP routes, not the socket; the socket only carries liveness and
// ephemeral signals upstream.
type ClientFrame struct {
	Type         ClientFrameType       `json:"type"`
	Status       models.PresenceStatus `json:"status,omitempty"`
	CustomStatus string                `json:"customStatus,omitempty"`
	StatusEmoji  string                `json:"statusEmoji,omitempty"`
	RoomID       string                `json:"roomId,omitempty"`
	Name         string                `json:"name,omitempty"`
}

type Connection struct {
	ws         wsConn
	registry   *Registry
	tracker    *presence.Tracker
	notifier   Notifier
	flusher    Flusher
	principal  models.Principal
	device     string
	conn       *Conn
	fromClient chan ClientFrame
	errorCh    chan error
}

func NewConnection(
	ws wsConn,
	registry *Registry,
	tracker *presence.Tracker,
	notifier Notifier,
	flusher Flusher,
	principal models.Principal,
	device string,
) *Connection {
	return &Connection{
		ws:         ws,
		registry:   registry,
		tracker:    tracker,
		notifier:   notifier,
		flusher:    flusher,
		principal:  principal,
		device:     device,
		fromClient: make(chan ClientFrame),
		errorCh:    make(chan error, 2),
	}
}

// Handle runs the connection until the client drops or ctx is cancelled.
// Connect registers presence and flushes the offline queue; disconnect
// decrements the socket count and broadcasts offline when it reaches zero.
func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.conn = c.registry.Join(c.principal)
	detach := c.notifier.AttachPrincipal(c.principal)
	defer detach()

	rec := c.tracker.Connect(ctx, c.principal, c.device)
	c.notifier.PresenceChanged(ctx, rec)

	if n, err := c.flusher.DeliverPending(ctx, c.principal); err != nil {
		log.Warn().Err(err).Str("principal", c.principal.ID).Msg("offline flush failed")
	} else if n > 0 {
		log.Info().Int("count", n).Str("principal", c.principal.ID).Msg("flushed offline messages")
	}

	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.registry.Leave(c.conn)
		if remaining := c.tracker.Disconnect(ctx, c.principal); remaining == 0 {
			c.notifier.WentOffline(ctx, c.principal)
		}
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpFrames(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpFrames(ctx context.Context) error {
	for {
		var frame ClientFrame
		if err := c.ws.ReadJSON(&frame); err != nil {
			return err
		}
		select {
		case c.fromClient <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case frame := <-c.fromClient:
			c.processFrame(ctx, frame)
		case ev := <-c.conn.Events:
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) processFrame(ctx context.Context, frame ClientFrame) {
	switch frame.Type {
	case FrameHeartbeat:
		c.tracker.Heartbeat(ctx, c.principal)
	case FrameStatus:
		if rec, changed := c.tracker.SetStatus(ctx, c.principal, frame.Status, frame.CustomStatus, frame.StatusEmoji); changed && rec != nil {
			c.notifier.PresenceChanged(ctx, rec)
		}
	case FrameTyping:
		if frame.RoomID == "" {
			return
		}
		c.tracker.SetTyping(ctx, frame.RoomID, c.principal, frame.Name)
		c.notifier.TypingStarted(ctx, frame.RoomID, c.principal, frame.Name)
	}
}
