package files

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/tcriess/burnbox/auth"
	"github.com/tcriess/burnbox/globals"
	"github.com/tcriess/burnbox/objstore"
	"github.com/tcriess/burnbox/store"
	"github.com/tcriess/burnbox/types"
)

// Service stores and retrieves room-scoped encrypted files. Uploads are
// authenticated with an HMAC over the wire representation of the payload,
// keyed by a derivation of the room's code and salt: possession of the room
// credential is the only authorization there is. The file metadata record in
// the store is the sole authority that the object exists, its TTL is derived
// from the room lease at upload time.
type Service struct {
	store   store.Store
	objects objstore.ObjectStore

	maxRoomTTL time.Duration

	now func() time.Time
}

// NewService returns a file service. objects may be nil, in which case every
// upload and download answers SERVICE_UNAVAILABLE while cleanup still removes
// metadata records.
func NewService(st store.Store, objects objstore.ObjectStore, maxRoomTTL time.Duration) *Service {
	return &Service{
		store:      st,
		objects:    objects,
		maxRoomTTL: maxRoomTTL,
		now:        time.Now,
	}
}

func (s *Service) Enabled() bool {
	return s.objects != nil
}

// room loads the room record, distinguishing a missing record (NOT_FOUND)
// from one that is readable but past its expiry instant (EXPIRED).
func (s *Service) room(ctx context.Context, roomHash string) (*types.Room, error) {
	raw, err := s.store.Get(ctx, store.RoomKey(roomHash))
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	room := &types.Room{}
	if err := json.Unmarshal([]byte(raw), room); err != nil {
		return nil, err
	}
	if room.Expired(s.now()) {
		return nil, types.ErrExpired
	}
	return room, nil
}

// Upload authenticates and stores one encrypted file for a room. payload is
// the raw ciphertext; the client's hmac covers base64(payload) followed by
// the iv and auth_tag strings exactly as transmitted. The metadata TTL is the
// room's remaining lease, computed here so the object can never outlive the
// room by more than the reconciler interval.
func (s *Service) Upload(ctx context.Context, roomHash string, payload []byte, hmacB64, iv, authTag, fileName string) (*types.FileMeta, error) {
	if !s.Enabled() {
		return nil, types.ErrServiceUnavailable
	}
	if len(payload) == 0 || hmacB64 == "" || iv == "" || authTag == "" {
		return nil, fmt.Errorf("%w: missing file, hmac, iv or auth_tag", types.ErrInvalidRequest)
	}
	room, err := s.room(ctx, roomHash)
	if err != nil {
		return nil, err
	}
	key := auth.DeriveFileKey(room.RoomCode, room.RoomSalt)
	ciphertextB64 := base64.StdEncoding.EncodeToString(payload)
	if !auth.VerifyFilePayload(key, ciphertextB64, iv, authTag, hmacB64) {
		return nil, types.ErrInvalidHmac
	}
	lease := room.Remaining(s.now())
	if lease <= 0 || lease > s.maxRoomTTL {
		return nil, types.ErrInvalidRoomExpiry
	}

	fileID := uuid.NewString()
	meta := &types.FileMeta{
		FileID:          fileID,
		FileName:        fileName,
		FileSize:        int64(len(payload)),
		UploadTimestamp: s.now().Unix(),
		ObjectKey:       objstore.RoomFileKey(roomHash, fileID),
		IV:              iv,
		AuthTag:         authTag,
	}
	if err := s.objects.Put(ctx, meta.ObjectKey, bytes.NewReader(payload), meta.FileSize, "application/octet-stream"); err != nil {
		return nil, fmt.Errorf("could not store object: %w", err)
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, store.FileKey(roomHash, meta.FileID), string(raw), lease); err != nil {
		// without the record the object is an orphan, remove it right away
		if delErr := s.objects.Delete(ctx, meta.ObjectKey); delErr != nil {
			globals.AppLogger.Warn("could not remove orphaned object", "key", meta.ObjectKey, "error", delErr)
		}
		return nil, fmt.Errorf("could not store file metadata: %w", err)
	}
	return meta, nil
}

// Download streams a room file. The caller closes the reader; iv, auth_tag
// and file name travel in the returned metadata so the client can decrypt.
func (s *Service) Download(ctx context.Context, roomHash, fileID string) (io.ReadCloser, *types.FileMeta, error) {
	if !s.Enabled() {
		return nil, nil, types.ErrServiceUnavailable
	}
	if _, err := s.room(ctx, roomHash); err != nil {
		return nil, nil, err
	}
	raw, err := s.store.Get(ctx, store.FileKey(roomHash, fileID))
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, nil, types.ErrNotFound
		}
		return nil, nil, err
	}
	meta := &types.FileMeta{}
	if err := json.Unmarshal([]byte(raw), meta); err != nil {
		return nil, nil, err
	}
	rc, _, err := s.objects.Get(ctx, meta.ObjectKey)
	if err != nil {
		if errors.Is(err, objstore.ErrNotExist) {
			return nil, nil, types.ErrNotFound
		}
		return nil, nil, err
	}
	return rc, meta, nil
}

// Cleanup removes every file of a room: the objects first, then the metadata
// records. Invoked on burn, from not-found paths as orphan defense, and by
// the reconciler. Per-item failures are logged, the remaining items are still
// processed.
func (s *Service) Cleanup(ctx context.Context, roomHash string) {
	var metaKeys, objectKeys []string
	err := s.store.Scan(ctx, store.FilePattern(roomHash), func(key string) bool {
		metaKeys = append(metaKeys, key)
		return true
	})
	if err != nil {
		globals.AppLogger.Error("could not scan file metadata", "room", roomHash, "error", err)
		return
	}
	for _, key := range metaKeys {
		raw, err := s.store.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, store.ErrKeyNotFound) {
				globals.AppLogger.Warn("could not read file metadata", "key", key, "error", err)
			}
			continue
		}
		meta := types.FileMeta{}
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			globals.AppLogger.Warn("skipping undecodable file metadata", "key", key, "error", err)
			continue
		}
		objectKeys = append(objectKeys, meta.ObjectKey)
	}
	if s.objects != nil && len(objectKeys) > 0 {
		if err := s.objects.DeleteBatch(ctx, objectKeys); err != nil {
			globals.AppLogger.Error("could not delete objects", "room", roomHash, "error", err)
		}
	}
	if len(metaKeys) > 0 {
		if err := s.store.Delete(ctx, metaKeys...); err != nil {
			globals.AppLogger.Error("could not delete file metadata", "room", roomHash, "error", err)
		}
	}
}
