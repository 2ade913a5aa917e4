package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tcriess/burnbox/config"
	"github.com/tidwall/buntdb"
)

// BuntStore is the embedded backend. Lists and sets are JSON arrays stored
// under the key, mutated inside a single transaction, which is what makes
// SetAddCapped and Update atomic here.
type BuntStore struct {
	db *buntdb.DB
}

func NewBuntStore(cfg *config.Config) (Store, error) {
	path := cfg.StoreConfig.Path
	if path == "" {
		return nil, fmt.Errorf("no buntdb path configured")
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &BuntStore{db: db}, nil
}

func setOptions(ttl time.Duration) *buntdb.SetOptions {
	if ttl <= 0 {
		return nil
	}
	return &buntdb.SetOptions{Expires: true, TTL: ttl}
}

// remainingTTL reads the TTL of key inside tx; -1 means no expiry.
func remainingTTL(tx *buntdb.Tx, key string) (time.Duration, error) {
	d, err := tx.TTL(key)
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return 0, ErrKeyNotFound
		}
		return 0, err
	}
	return d, nil
}

func (s *BuntStore) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return "", ErrKeyNotFound
		}
		return "", err
	}
	return val, nil
}

func (s *BuntStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, value, setOptions(ttl))
		return err
	})
}

func (s *BuntStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	set := false
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
		if _, _, err := tx.Set(key, value, setOptions(ttl)); err != nil {
			return err
		}
		set = true
		return nil
	})
	return set, err
}

func (s *BuntStore) Update(ctx context.Context, key string, fn func(current string) (string, error)) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		current, err := tx.Get(key)
		if err != nil {
			if errors.Is(err, buntdb.ErrNotFound) {
				return ErrKeyNotFound
			}
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		remaining, err := remainingTTL(tx, key)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(key, next, setOptions(remaining))
		return err
	})
}

func (s *BuntStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *BuntStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	var d time.Duration
	err := s.db.View(func(tx *buntdb.Tx) error {
		remaining, err := remainingTTL(tx, key)
		if err != nil {
			return err
		}
		d = remaining
		return nil
	})
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func (s *BuntStore) Delete(ctx context.Context, keys ...string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		for _, key := range keys {
			if _, err := tx.Delete(key); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
				return err
			}
		}
		return nil
	})
}

func readList(tx *buntdb.Tx, key string) ([]string, error) {
	val, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	items := []string{}
	if err := json.Unmarshal([]byte(val), &items); err != nil {
		return nil, err
	}
	return items, nil
}

func writeList(tx *buntdb.Tx, key string, items []string, ttl time.Duration) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return err
	}
	_, _, err = tx.Set(key, string(raw), setOptions(ttl))
	return err
}

func (s *BuntStore) ListPush(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		items, err := readList(tx, key)
		if err != nil {
			return err
		}
		items = append([]string{value}, items...)
		return writeList(tx, key, items, ttl)
	})
}

// clampRange maps inclusive start/stop indices (negative counts from the
// tail) onto a list of length n.
func clampRange(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start = n + start
		if start < 0 {
			start = 0
		}
	}
	if stop < 0 {
		stop = n + stop
	}
	if stop >= n {
		stop = n - 1
	}
	if start >= n || start > stop {
		return 0, 0, false
	}
	return start, stop, true
}

func (s *BuntStore) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var out []string
	err := s.db.View(func(tx *buntdb.Tx) error {
		items, err := readList(tx, key)
		if err != nil {
			return err
		}
		from, to, ok := clampRange(int64(len(items)), start, stop)
		if !ok {
			return nil
		}
		out = append(out, items[from:to+1]...)
		return nil
	})
	return out, err
}

func (s *BuntStore) ListSet(ctx context.Context, key string, index int64, value string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		items, err := readList(tx, key)
		if err != nil {
			return err
		}
		if items == nil {
			return ErrKeyNotFound
		}
		if index < 0 {
			index = int64(len(items)) + index
		}
		if index < 0 || index >= int64(len(items)) {
			return fmt.Errorf("list index %d out of range", index)
		}
		remaining, err := remainingTTL(tx, key)
		if err != nil {
			return err
		}
		items[index] = value
		return writeList(tx, key, items, remaining)
	})
}

func (s *BuntStore) ListLen(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.db.View(func(tx *buntdb.Tx) error {
		items, err := readList(tx, key)
		if err != nil {
			return err
		}
		n = int64(len(items))
		return nil
	})
	return n, err
}

func (s *BuntStore) SetAddCapped(ctx context.Context, key, member string, limit int64, ttl time.Duration) (bool, error) {
	added := false
	err := s.db.Update(func(tx *buntdb.Tx) error {
		members, err := readList(tx, key)
		if err != nil {
			return err
		}
		for _, m := range members {
			if m == member {
				return nil
			}
		}
		if int64(len(members))+1 > limit {
			return ErrCapExceeded
		}
		members = append(members, member)
		if err := writeList(tx, key, members, ttl); err != nil {
			return err
		}
		added = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

func (s *BuntStore) SetRemove(ctx context.Context, key, member string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		members, err := readList(tx, key)
		if err != nil {
			return err
		}
		if members == nil {
			return nil
		}
		kept := members[:0]
		for _, m := range members {
			if m != member {
				kept = append(kept, m)
			}
		}
		if len(kept) == len(members) {
			return nil
		}
		remaining, err := remainingTTL(tx, key)
		if err != nil {
			return err
		}
		return writeList(tx, key, kept, remaining)
	})
}

func (s *BuntStore) SetCard(ctx context.Context, key string) (int64, error) {
	return s.ListLen(ctx, key)
}

func (s *BuntStore) Scan(ctx context.Context, pattern string, fn func(key string) bool) error {
	// collect first: fn may call back into the store, which must not happen
	// inside the open transaction
	var keys []string
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(pattern, func(key, _ string) bool {
			keys = append(keys, key)
			return true
		})
	})
	if err != nil {
		return err
	}
	for _, key := range keys {
		if !fn(key) {
			return nil
		}
	}
	return nil
}

func (s *BuntStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *buntdb.Tx) error {
		return nil
	})
}

func (s *BuntStore) Close() error {
	return s.db.Close()
}
