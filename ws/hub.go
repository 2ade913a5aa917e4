package ws

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

const (
	pongWait        = 2 * time.Minute
	pingPeriod      = time.Minute
	writeWait       = 10 * time.Second
	sendChannelSize = 1000
)

// Registry maps room hashes to the live connections that joined them. It is
// the only mutable state shared between connection goroutines, every method
// is safe for concurrent use. A connection can belong to any number of rooms
// and is pruned from all of them on disconnect.
type Registry struct {
	rooms   map[string]map[*Client]struct{}
	members map[*Client]map[string]struct{}

	// frames dropped because a receiver's send buffer was full
	dropped uint64

	sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:   make(map[string]map[*Client]struct{}),
		members: make(map[*Client]map[string]struct{}),
	}
}

// Register adds the connection to a room. Registering an already registered
// connection is a no-op.
func (r *Registry) Register(roomHash string, c *Client) {
	r.Lock()
	defer r.Unlock()
	clients, ok := r.rooms[roomHash]
	if !ok {
		clients = make(map[*Client]struct{})
		r.rooms[roomHash] = clients
	}
	clients[c] = struct{}{}
	roomSet, ok := r.members[c]
	if !ok {
		roomSet = make(map[string]struct{})
		r.members[c] = roomSet
	}
	roomSet[roomHash] = struct{}{}
}

// UnregisterAll removes the connection from every room it belongs to, pruning
// rooms left empty. Runs unconditionally when a socket closes.
func (r *Registry) UnregisterAll(c *Client) {
	r.Lock()
	defer r.Unlock()
	for roomHash := range r.members[c] {
		clients := r.rooms[roomHash]
		delete(clients, c)
		if len(clients) == 0 {
			delete(r.rooms, roomHash)
		}
	}
	delete(r.members, c)
}

// CloseRoom drops a room's registry entry without touching the connections,
// they may still be registered in other rooms.
func (r *Registry) CloseRoom(roomHash string) {
	r.Lock()
	defer r.Unlock()
	for c := range r.rooms[roomHash] {
		delete(r.members[c], roomHash)
	}
	delete(r.rooms, roomHash)
}

// Broadcast sends payload to every connection in the room except exclude. A
// receiver whose send buffer is full has the frame dropped rather than
// blocking the fan-out. Returns the number of receivers the frame was queued
// for.
func (r *Registry) Broadcast(roomHash string, payload []byte, exclude *Client) int {
	r.RLock()
	defer r.RUnlock()
	sent := 0
	for client := range r.rooms[roomHash] {
		if client == exclude {
			continue
		}
		select {
		case client.Send <- payload:
			sent++
		default:
			atomic.AddUint64(&r.dropped, 1)
			log.Printf("info: dropping frame for slow client in room %s", roomHash)
		}
	}
	return sent
}

// NoClients returns the number of connections currently registered.
func (r *Registry) NoClients() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.members)
}

// NoRooms returns the number of rooms with at least one live connection.
func (r *Registry) NoRooms() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.rooms)
}

// DroppedFrames returns how many frames were dropped on full send buffers.
func (r *Registry) DroppedFrames() uint64 {
	return atomic.LoadUint64(&r.dropped)
}
