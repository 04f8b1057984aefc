package signaling

import (
	"sync"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/room"
)

const DefaultPeerSendQueueSize = 256

// Peer is one live signaling connection.
type Peer struct {
	id string

	mu     sync.Mutex
	room   string
	closed bool
	send   chan Outbound
}

func (p *Peer) ID() string { return p.id }

// Room returns the room the peer currently occupies, or "".
func (p *Peer) Room() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.room
}

func (p *Peer) setRoom(roomID string) {
	p.mu.Lock()
	p.room = roomID
	p.mu.Unlock()
}

// Outbound is drained by the connection's writer. It is closed when the peer
// disconnects.
func (p *Peer) Outbound() <-chan Outbound { return p.send }

// Enqueue hands msg to the peer's writer without blocking.
func (p *Peer) Enqueue(msg Outbound) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	select {
	case p.send <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (p *Peer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.send)
}

// Registry tracks live peers by id and cleans up room membership when they
// go away.
type Registry struct {
	rooms     *room.Table
	queueSize int
	newID     func() string

	mu    sync.RWMutex
	peers map[string]*Peer
}

func NewRegistry(rooms *room.Table, queueSize int) *Registry {
	if queueSize <= 0 {
		queueSize = DefaultPeerSendQueueSize
	}
	return &Registry{
		rooms:     rooms,
		queueSize: queueSize,
		newID:     uuid.NewString,
		peers:     make(map[string]*Peer),
	}
}

// Connect allocates a new peer that belongs to no room.
func (r *Registry) Connect() *Peer {
	p := &Peer{
		id:   r.newID(),
		send: make(chan Outbound, r.queueSize),
	}
	r.mu.Lock()
	r.peers[p.id] = p
	r.mu.Unlock()
	return p
}

// Disconnect removes the peer from its room and releases it. Unknown ids are
// ignored, so calling it twice is harmless.
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	p, ok := r.peers[id]
	delete(r.peers, id)
	r.mu.Unlock()
	if !ok {
		return
	}

	if roomID := p.Room(); roomID != "" {
		r.rooms.RemoveMember(roomID, id)
		p.setRoom("")
	}
	p.close()
}

func (r *Registry) Lookup(id string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// Len returns the number of connected peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
