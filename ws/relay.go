package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tcriess/burnbox/cache"
	"github.com/tcriess/burnbox/globals"
	"github.com/tcriess/burnbox/store"
	"github.com/tcriess/burnbox/types"
)

var (
	pingFrame = []byte("ping")
	pongFrame = []byte("pong")
)

type persistJob struct {
	roomHash string
	message  types.Message
}

// Relay validates incoming frames, fans them out to the room and hands the
// log append to a single persister goroutine behind a bounded queue. The
// sender is acknowledged after the broadcast, never waiting for persistence:
// a full queue drops the append and counts it instead of blocking the relay.
type Relay struct {
	registry *Registry
	store    store.Store
	rooms    *cache.RoomCache

	queue   chan persistJob
	done    chan struct{}
	stopped chan struct{}

	readLimit int64

	broadcasts     uint64
	persisted      uint64
	persistDropped uint64
}

// RelayStats is a point-in-time snapshot of the relay counters.
type RelayStats struct {
	Broadcasts     uint64 `json:"broadcasts"`
	Persisted      uint64 `json:"persisted"`
	PersistDropped uint64 `json:"persist_dropped"`
	QueueDepth     int    `json:"queue_depth"`
	FramesDropped  uint64 `json:"frames_dropped"`
	Connections    int    `json:"connections"`
	Rooms          int    `json:"rooms"`
}

func NewRelay(st store.Store, rooms *cache.RoomCache, registry *Registry, queueSize int, readLimit int64) *Relay {
	r := &Relay{
		registry:  registry,
		store:     st,
		rooms:     rooms,
		queue:     make(chan persistJob, queueSize),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		readLimit: readLimit,
	}
	go r.persistLoop()
	return r
}

func (r *Relay) Registry() *Registry {
	return r.registry
}

// Handle processes one incoming text frame. A raw "ping" is answered without
// any JSON parsing, everything else goes through the envelope union.
func (r *Relay) Handle(c *Client, raw []byte) {
	if bytes.Equal(bytes.TrimSpace(raw), pingFrame) {
		c.send(pongFrame)
		return
	}
	env, err := types.ParseEnvelope(raw)
	if err != nil {
		r.ack(c, types.AckErr(err))
		return
	}
	ctx := context.Background()
	switch env.Kind() {
	case types.WireTypeJoinRoom:
		r.ack(c, r.handleJoin(ctx, c, env))
	case types.WireTypeChat:
		r.ack(c, r.handleChat(ctx, c, env))
	case types.WireTypeImage, types.WireTypeFile:
		r.ack(c, r.handleFileRef(ctx, c, env))
	case types.WireTypeDeleteMessage:
		r.ack(c, r.handleDelete(ctx, c, env))
	}
}

func (r *Relay) ack(c *Client, ack types.Ack) {
	raw, err := json.Marshal(ack)
	if err != nil {
		globals.AppLogger.Error("could not marshal ack", "error", err)
		return
	}
	c.send(raw)
}

// room resolves the room via the read-through cache. A missing or lapsed
// record is reported as ROOM_INVALID.
func (r *Relay) room(ctx context.Context, roomHash string) (*types.Room, error) {
	room, err := r.rooms.Get(ctx, roomHash)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, types.ErrRoomInvalid
		}
		return nil, err
	}
	if room.Expired(time.Now()) {
		return nil, types.ErrRoomInvalid
	}
	return room, nil
}

func (r *Relay) handleJoin(ctx context.Context, c *Client, env *types.Envelope) types.Ack {
	if _, err := r.room(ctx, env.RoomHash); err != nil {
		return types.AckErr(err)
	}
	r.registry.Register(env.RoomHash, c)
	return types.AckOK()
}

func (r *Relay) handleChat(ctx context.Context, c *Client, env *types.Envelope) types.Ack {
	room, err := r.room(ctx, env.RoomHash)
	if err != nil {
		return types.AckErr(err)
	}
	r.registry.Register(env.RoomHash, c)
	lease := room.Remaining(time.Now())
	_, err = r.store.SetAddCapped(ctx, store.RoomMembersKey(room.RoomHash), env.SenderID, room.MemberCap(), lease)
	if err != nil {
		if errors.Is(err, store.ErrCapExceeded) {
			return types.AckErr(types.ErrRoomFull)
		}
		globals.AppLogger.Error("could not update membership", "room", room.RoomHash, "error", err)
		return types.AckErr(types.ErrInternal)
	}
	env.MsgID = uuid.NewString()
	r.broadcast(c, env)
	r.enqueue(persistJob{roomHash: room.RoomHash, message: env.ToMessage(env.MsgID, time.Now())})
	return types.AckMsg(env.MsgID)
}

func (r *Relay) handleFileRef(ctx context.Context, c *Client, env *types.Envelope) types.Ack {
	room, err := r.room(ctx, env.RoomHash)
	if err != nil {
		return types.AckErr(err)
	}
	r.registry.Register(env.RoomHash, c)
	r.broadcast(c, env)
	r.enqueue(persistJob{roomHash: room.RoomHash, message: env.ToMessage(uuid.NewString(), time.Now())})
	return types.AckOK()
}

func (r *Relay) handleDelete(ctx context.Context, c *Client, env *types.Envelope) types.Ack {
	if _, err := r.room(ctx, env.RoomHash); err != nil {
		return types.AckErr(err)
	}
	r.registry.Register(env.RoomHash, c)
	if err := r.tombstone(ctx, env.RoomHash, env.MessageID, env.SenderID); err != nil {
		// no broadcast unless a tombstone was written
		return types.AckErr(err)
	}
	r.broadcast(c, env)
	return types.AckOK()
}

// tombstone marks the log entry matching (message_id, sender_id) as deleted in
// place. Marking an already deleted entry again is a no-op, not an error.
func (r *Relay) tombstone(ctx context.Context, roomHash, messageID, senderID string) error {
	key := store.RoomMessagesKey(roomHash)
	entries, err := r.store.ListRange(ctx, key, 0, -1)
	if err != nil {
		globals.AppLogger.Error("could not read message log", "room", roomHash, "error", err)
		return types.ErrInternal
	}
	for i, entry := range entries {
		var msg types.Message
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			globals.AppLogger.Warn("skipping undecodable log entry", "room", roomHash, "error", err)
			continue
		}
		if msg.MsgID != messageID || msg.SenderID != senderID {
			continue
		}
		if msg.Deleted {
			return nil
		}
		msg.Deleted = true
		raw, err := json.Marshal(msg)
		if err != nil {
			return types.ErrInternal
		}
		if err := r.store.ListSet(ctx, key, int64(i), string(raw)); err != nil {
			globals.AppLogger.Error("could not write tombstone", "room", roomHash, "error", err)
			return types.ErrInternal
		}
		return nil
	}
	return types.ErrMessageNotFound
}

func (r *Relay) broadcast(sender *Client, env *types.Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		globals.AppLogger.Error("could not marshal broadcast", "error", err)
		return
	}
	r.registry.Broadcast(env.RoomHash, payload, sender)
	atomic.AddUint64(&r.broadcasts, 1)
}

// enqueue hands a log append to the persister without ever blocking: when the
// queue is full the append is dropped and counted.
func (r *Relay) enqueue(job persistJob) {
	select {
	case r.queue <- job:
	default:
		atomic.AddUint64(&r.persistDropped, 1)
		globals.AppLogger.Warn("persistence queue full, dropping message", "room", job.roomHash)
	}
}

func (r *Relay) persistLoop() {
	defer close(r.stopped)
	for {
		select {
		case job := <-r.queue:
			r.persist(job)
		case <-r.done:
			for {
				select {
				case job := <-r.queue:
					r.persist(job)
				default:
					return
				}
			}
		}
	}
}

func (r *Relay) persist(job persistJob) {
	ctx := context.Background()
	room, err := r.rooms.Get(ctx, job.roomHash)
	if err != nil {
		globals.AppLogger.Warn("room gone before persist", "room", job.roomHash)
		return
	}
	lease := room.Remaining(time.Now())
	if lease <= 0 {
		// the log must not outlive the room, skip the append
		return
	}
	raw, err := json.Marshal(job.message)
	if err != nil {
		globals.AppLogger.Error("could not marshal message", "error", err)
		return
	}
	if err := r.store.ListPush(ctx, store.RoomMessagesKey(job.roomHash), string(raw), lease); err != nil {
		globals.AppLogger.Error("could not persist message", "room", job.roomHash, "error", err)
		return
	}
	atomic.AddUint64(&r.persisted, 1)
}

// Stop drains the persistence queue and stops the persister. Returns early
// with the context error if draining takes longer than the context allows.
func (r *Relay) Stop(ctx context.Context) error {
	close(r.done)
	select {
	case <-r.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relay) Stats() RelayStats {
	return RelayStats{
		Broadcasts:     atomic.LoadUint64(&r.broadcasts),
		Persisted:      atomic.LoadUint64(&r.persisted),
		PersistDropped: atomic.LoadUint64(&r.persistDropped),
		QueueDepth:     len(r.queue),
		FramesDropped:  r.registry.DroppedFrames(),
		Connections:    r.registry.NoClients(),
		Rooms:          r.registry.NoRooms(),
	}
}
