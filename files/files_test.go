package files

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/burnbox/auth"
	"github.com/tcriess/burnbox/config"
	"github.com/tcriess/burnbox/objstore"
	"github.com/tcriess/burnbox/store"
	"github.com/tcriess/burnbox/types"
)

type fixture struct {
	service *Service
	store   store.Store
	objects *objstore.MemoryStore
	room    *types.Room
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{StoreConfig: config.StoreConfig{Type: "buntdb", Path: ":memory:"}}
	st, err := store.NewStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	objects := objstore.NewMemoryStore()
	f := &fixture{
		service: NewService(st, objects, 7*24*time.Hour),
		store:   st,
		objects: objects,
	}
	f.room = &types.Room{
		RoomHash:        types.HashRoomCode("123456"),
		RoomCode:        "123456",
		RoomSalt:        "c2FsdA==",
		ExpiryTimestamp: time.Now().Add(time.Hour).Unix(),
		CreatorID:       "creator-1",
		CreatedAt:       time.Now().Unix(),
	}
	raw, err := json.Marshal(f.room)
	require.NoError(t, err)
	require.NoError(t, st.Set(context.Background(), store.RoomKey(f.room.RoomHash), string(raw), time.Hour))
	return f
}

func b64(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return base64.StdEncoding.EncodeToString(buf)
}

// signedUpload builds a payload with a valid HMAC the way a client would
func (f *fixture) signedUpload() (payload []byte, hmacB64, iv, authTag string) {
	payload = make([]byte, 256)
	_, _ = rand.Read(payload)
	iv = b64(types.GCMNonceSize)
	authTag = b64(types.GCMTagSize)
	key := auth.DeriveFileKey(f.room.RoomCode, f.room.RoomSalt)
	tag := auth.SignFilePayload(key, base64.StdEncoding.EncodeToString(payload), iv, authTag)
	hmacB64 = base64.StdEncoding.EncodeToString(tag)
	return payload, hmacB64, iv, authTag
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload, hmacB64, iv, authTag := f.signedUpload()

	meta, err := f.service.Upload(ctx, f.room.RoomHash, payload, hmacB64, iv, authTag, "secret.pdf")
	require.NoError(t, err)
	assert.NotEmpty(t, meta.FileID)
	assert.Equal(t, int64(len(payload)), meta.FileSize)

	rc, got, err := f.service.Download(ctx, f.room.RoomHash, meta.FileID)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)

	// byte-for-byte fidelity of the payload and its parameters
	assert.Equal(t, payload, body)
	assert.Equal(t, "secret.pdf", got.FileName)
	assert.Equal(t, iv, got.IV)
	assert.Equal(t, authTag, got.AuthTag)
	assert.Equal(t, int64(len(payload)), got.FileSize)
}

func TestUploadInvalidHmac(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload, _, iv, authTag := f.signedUpload()

	_, err := f.service.Upload(ctx, f.room.RoomHash, payload, b64(32), iv, authTag, "x.bin")
	assert.ErrorIs(t, err, types.ErrInvalidHmac)
	assert.Equal(t, 0, f.objects.Len())

	// tampering with the payload after signing breaks the HMAC too
	payload2, hmacB64, iv, authTag := f.signedUpload()
	payload2[0] ^= 0xff
	_, err = f.service.Upload(ctx, f.room.RoomHash, payload2, hmacB64, iv, authTag, "x.bin")
	assert.ErrorIs(t, err, types.ErrInvalidHmac)
}

func TestUploadRoomGone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload, hmacB64, iv, authTag := f.signedUpload()

	_, err := f.service.Upload(ctx, types.HashRoomCode("999999"), payload, hmacB64, iv, authTag, "x.bin")
	assert.ErrorIs(t, err, types.ErrNotFound)

	// a readable but lapsed room record is gone, not missing
	f.room.ExpiryTimestamp = time.Now().Add(-time.Minute).Unix()
	raw, err := json.Marshal(f.room)
	require.NoError(t, err)
	require.NoError(t, f.store.Set(ctx, store.RoomKey(f.room.RoomHash), string(raw), time.Hour))
	_, err = f.service.Upload(ctx, f.room.RoomHash, payload, hmacB64, iv, authTag, "x.bin")
	assert.ErrorIs(t, err, types.ErrExpired)
}

func TestUploadValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload, hmacB64, iv, authTag := f.signedUpload()

	_, err := f.service.Upload(ctx, f.room.RoomHash, nil, hmacB64, iv, authTag, "x.bin")
	assert.ErrorIs(t, err, types.ErrInvalidRequest)
	_, err = f.service.Upload(ctx, f.room.RoomHash, payload, "", iv, authTag, "x.bin")
	assert.ErrorIs(t, err, types.ErrInvalidRequest)
}

func TestUploadDisabled(t *testing.T) {
	cfg := &config.Config{StoreConfig: config.StoreConfig{Type: "buntdb", Path: ":memory:"}}
	st, err := store.NewStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	service := NewService(st, nil, 7*24*time.Hour)

	_, err = service.Upload(context.Background(), types.HashRoomCode("123456"), []byte("x"), "h", "i", "a", "")
	assert.ErrorIs(t, err, types.ErrServiceUnavailable)
	_, _, err = service.Download(context.Background(), types.HashRoomCode("123456"), "f-1")
	assert.ErrorIs(t, err, types.ErrServiceUnavailable)
}

func TestDownloadUnknownFile(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.service.Download(context.Background(), f.room.RoomHash, "no-such-file")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		payload, hmacB64, iv, authTag := f.signedUpload()
		_, err := f.service.Upload(ctx, f.room.RoomHash, payload, hmacB64, iv, authTag, "x.bin")
		require.NoError(t, err)
	}
	require.Equal(t, 3, f.objects.Len())

	f.service.Cleanup(ctx, f.room.RoomHash)
	assert.Equal(t, 0, f.objects.Len())
	var remaining []string
	require.NoError(t, f.store.Scan(ctx, store.FilePattern(f.room.RoomHash), func(key string) bool {
		remaining = append(remaining, key)
		return true
	}))
	assert.Empty(t, remaining)
}

// the file metadata TTL never exceeds the room's remaining lease
func TestUploadLeaseMirroring(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload, hmacB64, iv, authTag := f.signedUpload()
	meta, err := f.service.Upload(ctx, f.room.RoomHash, payload, hmacB64, iv, authTag, "x.bin")
	require.NoError(t, err)

	ttl, err := f.store.TTL(ctx, store.FileKey(f.room.RoomHash, meta.FileID))
	require.NoError(t, err)
	assert.Greater(t, ttl, 55*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)
}
