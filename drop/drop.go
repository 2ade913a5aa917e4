package drop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tcriess/burnbox/globals"
	"github.com/tcriess/burnbox/objstore"
	"github.com/tcriess/burnbox/store"
	"github.com/tcriess/burnbox/types"
)

const (
	minCustomMinutes = 5
	maxCustomMinutes = 7 * 24 * 60
)

// duration presets offered alongside a bounded custom minute count
var durationPresets = map[string]time.Duration{
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"12h": 12 * time.Hour,
	"24h": 24 * time.Hour,
	"72h": 72 * time.Hour,
}

// Service runs the one-time file-drop state machine:
//
//	created -> file uploaded -> downloaded (terminal)
//
// with expiry possible at any point, checked lazily against the session's
// expiry instant. The drop hash is the sole credential: the server never
// learns its preimage, so unlike room files there is no HMAC to verify. The
// downloaded flag flips through a compare-and-swap before any byte is
// streamed; once true it is terminal, a failed stream does not revert it.
type Service struct {
	store   store.Store
	objects objstore.ObjectStore

	now func() time.Time
}

func NewService(st store.Store, objects objstore.ObjectStore) *Service {
	return &Service{
		store:   st,
		objects: objects,
		now:     time.Now,
	}
}

func (s *Service) Enabled() bool {
	return s.objects != nil
}

// ParseDuration resolves a client-supplied duration: one of the preset names
// or a custom integer minute count within [5, 10080].
func ParseDuration(raw string) (time.Duration, error) {
	if d, ok := durationPresets[raw]; ok {
		return d, nil
	}
	minutes, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || minutes < minCustomMinutes || minutes > maxCustomMinutes {
		return 0, types.ErrInvalidDuration
	}
	return time.Duration(minutes) * time.Minute, nil
}

// Create registers a new drop session with no file attached.
func (s *Service) Create(ctx context.Context, dropHash, duration string) (*types.DropSession, error) {
	if !s.Enabled() {
		return nil, types.ErrServiceUnavailable
	}
	if !types.ValidHash(dropHash) {
		return nil, fmt.Errorf("%w: drop_hash must be a hex SHA-256 digest", types.ErrInvalidRequest)
	}
	ttl, err := ParseDuration(duration)
	if err != nil {
		return nil, err
	}
	now := s.now()
	session := &types.DropSession{
		DropHash:        dropHash,
		CreatedAt:       now.Unix(),
		ExpiryTimestamp: now.Add(ttl).Unix(),
		TTL:             int64(ttl / time.Second),
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}
	set, err := s.store.SetNX(ctx, store.DropKey(dropHash), string(raw), ttl)
	if err != nil {
		return nil, err
	}
	if !set {
		return nil, types.ErrAlreadyExists
	}
	return session, nil
}

func (s *Service) session(ctx context.Context, dropHash string) (*types.DropSession, error) {
	if !types.ValidHash(dropHash) {
		return nil, fmt.Errorf("%w: malformed drop_hash", types.ErrInvalidRequest)
	}
	raw, err := s.store.Get(ctx, store.DropKey(dropHash))
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	session := &types.DropSession{}
	if err := json.Unmarshal([]byte(raw), session); err != nil {
		return nil, err
	}
	if session.Expired(s.now()) {
		return nil, types.ErrExpired
	}
	return session, nil
}

// Upload attaches the file to the session. The object is written first, then
// the session is updated in an atomic read-modify-write that preserves its
// remaining TTL; a concurrent second upload loses inside that update and its
// object is removed again.
func (s *Service) Upload(ctx context.Context, dropHash string, payload []byte, iv, authTag, fileName string) (*types.DropSession, error) {
	if !s.Enabled() {
		return nil, types.ErrServiceUnavailable
	}
	if len(payload) == 0 || iv == "" || authTag == "" {
		return nil, fmt.Errorf("%w: missing file, iv or auth_tag", types.ErrInvalidRequest)
	}
	session, err := s.session(ctx, dropHash)
	if err != nil {
		return nil, err
	}
	if session.Downloaded {
		return nil, types.ErrAlreadyDownloaded
	}
	if session.HasFile() {
		return nil, types.ErrFileAlreadyUploaded
	}
	fileID := uuid.NewString()
	objectKey := objstore.DropFileKey(dropHash, fileID)
	if err := s.objects.Put(ctx, objectKey, bytes.NewReader(payload), int64(len(payload)), "application/octet-stream"); err != nil {
		return nil, fmt.Errorf("could not store object: %w", err)
	}
	var updated *types.DropSession
	err = s.store.Update(ctx, store.DropKey(dropHash), func(current string) (string, error) {
		next := &types.DropSession{}
		if err := json.Unmarshal([]byte(current), next); err != nil {
			return "", err
		}
		// recheck both terminal conditions, the session may have moved on
		// since the read above
		if next.Downloaded {
			return "", types.ErrAlreadyDownloaded
		}
		if next.HasFile() {
			return "", types.ErrFileAlreadyUploaded
		}
		next.FileID = fileID
		next.FileName = fileName
		next.FileSize = int64(len(payload))
		next.IV = iv
		next.AuthTag = authTag
		next.ObjectKey = objectKey
		next.UploadedAt = s.now().Unix()
		raw, err := json.Marshal(next)
		if err != nil {
			return "", err
		}
		updated = next
		return string(raw), nil
	})
	if err != nil {
		if delErr := s.objects.Delete(ctx, objectKey); delErr != nil {
			globals.AppLogger.Warn("could not remove orphaned drop object", "key", objectKey, "error", delErr)
		}
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, types.ErrExpired
		}
		return nil, err
	}
	return updated, nil
}

// Validate reports the file metadata and remaining time of a drop that is
// still in the uploaded state.
func (s *Service) Validate(ctx context.Context, dropHash string) (*types.DropSession, error) {
	session, err := s.session(ctx, dropHash)
	if err != nil {
		return nil, err
	}
	if session.Downloaded {
		return nil, types.ErrAlreadyDownloaded
	}
	if !session.HasFile() {
		return nil, types.ErrNoFileYet
	}
	return session, nil
}

// Download claims the one-time delivery and streams the file. Exactly one
// caller wins the false->true swap on the downloaded flag; everyone else gets
// ALREADY_DOWNLOADED. The object is deleted best-effort once the returned
// reader is closed, regardless of how far the stream got: the flag is
// terminal either way.
func (s *Service) Download(ctx context.Context, dropHash, fileID string) (io.ReadCloser, *types.DropSession, error) {
	if !s.Enabled() {
		return nil, nil, types.ErrServiceUnavailable
	}
	session, err := s.session(ctx, dropHash)
	if err != nil {
		return nil, nil, err
	}
	if !session.HasFile() {
		return nil, nil, types.ErrNoFileYet
	}
	if session.FileID != fileID {
		return nil, nil, types.ErrForbidden
	}
	var claimed *types.DropSession
	err = s.store.Update(ctx, store.DropKey(dropHash), func(current string) (string, error) {
		next := &types.DropSession{}
		if err := json.Unmarshal([]byte(current), next); err != nil {
			return "", err
		}
		if next.Downloaded {
			return "", types.ErrAlreadyDownloaded
		}
		next.Downloaded = true
		next.DownloadedAt = s.now().Unix()
		raw, err := json.Marshal(next)
		if err != nil {
			return "", err
		}
		claimed = next
		return string(raw), nil
	})
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, nil, types.ErrExpired
		}
		return nil, nil, err
	}
	rc, _, err := s.objects.Get(ctx, claimed.ObjectKey)
	if err != nil {
		// strict one-time: the claim stands even though nothing was delivered
		globals.AppLogger.Error("could not open claimed drop object", "key", claimed.ObjectKey, "error", err)
		if errors.Is(err, objstore.ErrNotExist) {
			return nil, nil, types.ErrNotFound
		}
		return nil, nil, err
	}
	return &deleteOnClose{ReadCloser: rc, objects: s.objects, key: claimed.ObjectKey}, claimed, nil
}

// deleteOnClose removes the object once the download stream is closed.
// Deletion failures are logged, never surfaced: the reconciler picks up
// whatever is left behind.
type deleteOnClose struct {
	io.ReadCloser
	objects objstore.ObjectStore
	key     string
}

func (d *deleteOnClose) Close() error {
	err := d.ReadCloser.Close()
	if delErr := d.objects.Delete(context.Background(), d.key); delErr != nil {
		globals.AppLogger.Warn("could not delete drop object after download", "key", d.key, "error", delErr)
	}
	return err
}
