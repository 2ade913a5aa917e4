package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tcriess/burnbox/files"
	"github.com/tcriess/burnbox/globals"
	"github.com/tcriess/burnbox/store"
	"github.com/tcriess/burnbox/types"
	"github.com/tcriess/burnbox/ws"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// Manager implements the room lifecycle: create, join, info, messages, burn.
// A room has no stored state beyond its record; expiry is enforced by the
// store TTL, so an absent record is authoritative proof that the room is
// gone. Not-found paths trigger a defensive file cleanup in case a crash or
// clock skew left objects behind.
type Manager struct {
	store    store.Store
	files    *files.Service
	registry *ws.Registry

	maxRoomTTL time.Duration

	now func() time.Time
}

func NewManager(st store.Store, fileSvc *files.Service, registry *ws.Registry, maxRoomTTL time.Duration) *Manager {
	return &Manager{
		store:      st,
		files:      fileSvc,
		registry:   registry,
		maxRoomTTL: maxRoomTTL,
		now:        time.Now,
	}
}

// CreateParams are the client-supplied fields of a new room. The hash, code
// and salt are opaque to the server, the clients derive them from the room
// credential.
type CreateParams struct {
	RoomHash      string
	RoomCode      string
	RoomSalt      string
	ExpirySeconds int64
	IsGroup       bool
	CreatorID     string
}

// Create writes a new room record with TTL = ExpirySeconds. The record and
// the key TTL denote the same expiry instant, every dependent key later
// derives its own TTL from that instant.
func (m *Manager) Create(ctx context.Context, params CreateParams) (*types.Room, error) {
	if !types.ValidHash(params.RoomHash) || params.RoomCode == "" || params.RoomSalt == "" || params.CreatorID == "" {
		return nil, fmt.Errorf("%w: missing or malformed room fields", types.ErrInvalidRequest)
	}
	ttl := time.Duration(params.ExpirySeconds) * time.Second
	if ttl <= 0 || ttl > m.maxRoomTTL {
		return nil, types.ErrInvalidExpiry
	}
	now := m.now()
	room := &types.Room{
		RoomHash:        params.RoomHash,
		RoomCode:        params.RoomCode,
		RoomSalt:        params.RoomSalt,
		IsGroup:         params.IsGroup,
		ExpiryTimestamp: now.Add(ttl).Unix(),
		CreatorID:       params.CreatorID,
		CreatedAt:       now.Unix(),
	}
	raw, err := json.Marshal(room)
	if err != nil {
		return nil, err
	}
	set, err := m.store.SetNX(ctx, store.RoomKey(room.RoomHash), string(raw), ttl)
	if err != nil {
		return nil, err
	}
	if !set {
		return nil, types.ErrAlreadyExists
	}
	return room, nil
}

// Join resolves a 6-digit room code to its room. The room hash is the SHA-256
// of the code, computed server-side so a malformed code never reaches the
// store. A readable record past its expiry instant is reported as EXPIRED
// rather than NOT_FOUND: the key existed, a get-after-expire race was
// observed, and clients may treat the room as recently gone.
func (m *Manager) Join(ctx context.Context, code string) (*types.Room, error) {
	if !types.ValidRoomCode(code) {
		return nil, types.ErrInvalidCodeFormat
	}
	return m.get(ctx, types.HashRoomCode(code), true)
}

// Info returns the room record by hash, no code required.
func (m *Manager) Info(ctx context.Context, roomHash string) (*types.Room, error) {
	if !types.ValidHash(roomHash) {
		return nil, fmt.Errorf("%w: malformed room_hash", types.ErrInvalidRequest)
	}
	return m.get(ctx, roomHash, false)
}

func (m *Manager) get(ctx context.Context, roomHash string, distinguishExpired bool) (*types.Room, error) {
	raw, err := m.store.Get(ctx, store.RoomKey(roomHash))
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			m.files.Cleanup(ctx, roomHash)
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	room := &types.Room{}
	if err := json.Unmarshal([]byte(raw), room); err != nil {
		return nil, err
	}
	if room.Expired(m.now()) {
		m.files.Cleanup(ctx, roomHash)
		if distinguishExpired {
			return nil, types.ErrExpired
		}
		return nil, types.ErrNotFound
	}
	return room, nil
}

// Page describes one page of the message listing.
type Page struct {
	Page    int64 `json:"page"`
	Limit   int64 `json:"limit"`
	Total   int64 `json:"total"`
	HasMore bool  `json:"has_more"`
}

// Messages returns one page of a room's message log in chronological order.
// The log is stored newest-first, so the requested page is read in storage
// order and reversed: page 0 holds the newest messages, the oldest message of
// a page comes first.
func (m *Manager) Messages(ctx context.Context, roomHash string, page, limit int64) ([]types.Message, *Page, error) {
	if _, err := m.Info(ctx, roomHash); err != nil {
		return nil, nil, err
	}
	if page < 0 {
		page = 0
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	key := store.RoomMessagesKey(roomHash)
	total, err := m.store.ListLen(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	start := page * limit
	entries, err := m.store.ListRange(ctx, key, start, start+limit-1)
	if err != nil {
		return nil, nil, err
	}
	messages := make([]types.Message, 0, len(entries))
	// reverse newest-first storage order to chronological
	for i := len(entries) - 1; i >= 0; i-- {
		msg := types.Message{}
		if err := json.Unmarshal([]byte(entries[i]), &msg); err != nil {
			globals.AppLogger.Warn("skipping undecodable log entry", "room", roomHash, "error", err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, &Page{
		Page:    page,
		Limit:   limit,
		Total:   total,
		HasMore: start+int64(len(entries)) < total,
	}, nil
}

// Burn destroys a room on request of its creator: the room, membership and
// message-log keys are deleted, the room's files are cleaned up, and every
// live connection receives a room_burnt event before the room's registry
// entry is dropped. A missing room is NOT_FOUND, a creator mismatch is
// FORBIDDEN; the two stay distinct.
func (m *Manager) Burn(ctx context.Context, roomHash, creatorID string) error {
	room, err := m.Info(ctx, roomHash)
	if err != nil {
		return err
	}
	if creatorID == "" || room.CreatorID != creatorID {
		return types.ErrForbidden
	}
	err = m.store.Delete(ctx,
		store.RoomKey(roomHash),
		store.RoomMembersKey(roomHash),
		store.RoomMessagesKey(roomHash),
	)
	if err != nil {
		return err
	}
	m.files.Cleanup(ctx, roomHash)
	payload, err := json.Marshal(types.NewRoomBurnt(roomHash))
	if err == nil {
		m.registry.Broadcast(roomHash, payload, nil)
	}
	m.registry.CloseRoom(roomHash)
	return nil
}
