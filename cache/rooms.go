package cache

import (
	"context"
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/tcriess/burnbox/store"
	"github.com/tcriess/burnbox/types"
	"golang.org/x/sync/singleflight"
)

// RoomCache is a read-through cache over the room records, in front of the
// relay's hot path. Entries go stale after a short fixed TTL and are then
// refetched; nothing ever invalidates the cache on writes, so a burnt or
// expired room can be observed for at most one TTL window.
type RoomCache struct {
	store store.Store
	arc   *lru.ARCCache
	ttl   time.Duration
	group singleflight.Group

	now func() time.Time
}

type cachedRoom struct {
	room      *types.Room
	fetchedAt time.Time
}

func NewRoomCache(st store.Store, size int, ttl time.Duration) (*RoomCache, error) {
	arc, err := lru.NewARC(size)
	if err != nil {
		return nil, err
	}
	return &RoomCache{
		store: st,
		arc:   arc,
		ttl:   ttl,
		now:   time.Now,
	}, nil
}

// Get returns the cached room record, fetching it from the store on a miss or
// a stale hit. Concurrent fetches of the same hash collapse into one store
// round-trip. An absent room yields store.ErrKeyNotFound; negative results
// are not cached.
func (c *RoomCache) Get(ctx context.Context, roomHash string) (*types.Room, error) {
	if v, ok := c.arc.Get(roomHash); ok {
		cached := v.(cachedRoom)
		if c.now().Sub(cached.fetchedAt) < c.ttl {
			return cached.room, nil
		}
	}
	v, err, _ := c.group.Do(roomHash, func() (interface{}, error) {
		raw, err := c.store.Get(ctx, store.RoomKey(roomHash))
		if err != nil {
			return nil, err
		}
		room := &types.Room{}
		if err := json.Unmarshal([]byte(raw), room); err != nil {
			return nil, err
		}
		c.arc.Add(roomHash, cachedRoom{room: room, fetchedAt: c.now()})
		return room, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Room), nil
}
