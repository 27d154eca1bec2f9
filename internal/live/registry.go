// Package live holds the process-local registry of websocket connections and
// the connection pump. The registry answers "is this principal reachable on
// this instance right now" without touching the shared store.
package live

import (
	"sync"

	"github.com/google/uuid"

	"staffroom/internal/models"
)

const sendBuffer = 64

// Conn is one live socket belonging to a principal. Events arrives in order;
// slow consumers get events dropped rather than blocking the sender.
type Conn struct {
	ID        string
	Principal models.Principal
	Events    chan models.Event
}

type Registry struct {
	mu    sync.RWMutex
	conns map[models.Principal]map[string]*Conn
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[models.Principal]map[string]*Conn),
	}
}

// Join registers a new socket for p. A principal may hold several sockets
// (multiple tabs, phone and desktop), each with its own event channel.
func (r *Registry) Join(p models.Principal) *Conn {
	c := &Conn{
		ID:        uuid.NewString(),
		Principal: p,
		Events:    make(chan models.Event, sendBuffer),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[p] == nil {
		r.conns[p] = make(map[string]*Conn)
	}
	r.conns[p][c.ID] = c
	return c
}

// Leave removes the socket from the registry. The events channel is left
// open: senders snapshot connections outside the lock, so a send may still be
// in flight when the socket leaves, and closing here would turn that send
// into a panic. The channel is garbage collected with the Conn.
func (r *Registry) Leave(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.conns[c.Principal]
	if !ok {
		return
	}
	if _, ok := conns[c.ID]; !ok {
		return
	}
	delete(conns, c.ID)
	if len(conns) == 0 {
		delete(r.conns, c.Principal)
	}
}

// Send pushes ev to every local socket of p without blocking; a full channel
// drops the event for that socket. Returns true if at least one socket took
// it.
func (r *Registry) Send(p models.Principal, ev models.Event) bool {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.conns[p]))
	for _, c := range r.conns[p] {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	delivered := false
	for _, c := range conns {
		select {
		case c.Events <- ev:
			delivered = true
		default:
		}
	}
	return delivered
}

// Broadcast pushes ev to every local socket, non-blocking. Used for
// room-level and presence events relayed off the bus; clients filter.
func (r *Registry) Broadcast(ev models.Event) {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, byID := range r.conns {
		for _, c := range byID {
			conns = append(conns, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range conns {
		select {
		case c.Events <- ev:
		default:
		}
	}
}

func (r *Registry) IsConnected(p models.Principal) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[p]) > 0
}

func (r *Registry) Count(p models.Principal) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[p])
}
