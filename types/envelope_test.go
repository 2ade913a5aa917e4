package types

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func b64(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return base64.StdEncoding.EncodeToString(buf)
}

func chatFrame(overrides map[string]interface{}) []byte {
	fields := map[string]interface{}{
		"room_hash":  HashRoomCode("123456"),
		"sender_id":  "alice",
		"ciphertext": b64(32),
		"iv":         b64(GCMNonceSize),
		"auth_tag":   b64(GCMTagSize),
		"hmac":       b64(32),
	}
	for k, v := range overrides {
		if v == nil {
			delete(fields, k)
			continue
		}
		fields[k] = v
	}
	raw, _ := json.Marshal(fields)
	return raw
}

func TestParseEnvelopeChat(t *testing.T) {
	env, err := ParseEnvelope(chatFrame(nil))
	require.NoError(t, err)
	assert.Equal(t, WireTypeChat, env.Kind())
	assert.Equal(t, "alice", env.SenderID)
}

func TestParseEnvelopeRejections(t *testing.T) {
	cases := []struct {
		name    string
		raw     []byte
		wantErr *CodedError
	}{
		{"not json", []byte("{nope"), ErrInvalidRequest},
		{"missing room hash", chatFrame(map[string]interface{}{"room_hash": nil}), ErrInvalidRequest},
		{"malformed room hash", chatFrame(map[string]interface{}{"room_hash": "abc"}), ErrInvalidRequest},
		{"missing sender", chatFrame(map[string]interface{}{"sender_id": nil}), ErrInvalidRequest},
		{"missing hmac", chatFrame(map[string]interface{}{"hmac": nil}), ErrInvalidRequest},
		{"unknown type", chatFrame(map[string]interface{}{"type": "teleport"}), ErrInvalidRequest},
		{"short iv", chatFrame(map[string]interface{}{"iv": b64(11)}), ErrInvalidCryptoParameters},
		{"long iv", chatFrame(map[string]interface{}{"iv": b64(13)}), ErrInvalidCryptoParameters},
		{"bad iv encoding", chatFrame(map[string]interface{}{"iv": "!!not-base64!!"}), ErrInvalidCryptoParameters},
		{"short auth tag", chatFrame(map[string]interface{}{"auth_tag": b64(15)}), ErrInvalidCryptoParameters},
		{"empty ciphertext", chatFrame(map[string]interface{}{"ciphertext": ""}), ErrInvalidCryptoParameters},
		{"delete without message id", chatFrame(map[string]interface{}{"type": "delete_message"}), ErrInvalidRequest},
		{"image without name", chatFrame(map[string]interface{}{"type": "image", "image_id": "x"}), ErrInvalidRequest},
		{"file without id", chatFrame(map[string]interface{}{"type": "file", "file_name": "x.bin"}), ErrInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseEnvelope(tc.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestParseEnvelopeControlKinds(t *testing.T) {
	env, err := ParseEnvelope(chatFrame(map[string]interface{}{
		"type": "join_room", "ciphertext": nil, "iv": nil, "auth_tag": nil, "hmac": nil,
	}))
	require.NoError(t, err)
	assert.Equal(t, WireTypeJoinRoom, env.Kind())

	env, err = ParseEnvelope(chatFrame(map[string]interface{}{
		"type": "image", "image_id": "img-1", "file_name": "cat.jpg",
	}))
	require.NoError(t, err)
	assert.Equal(t, WireTypeImage, env.Kind())
	assert.Equal(t, "img-1", env.ImageID)

	env, err = ParseEnvelope(chatFrame(map[string]interface{}{
		"type": "delete_message", "message_id": "m-1",
	}))
	require.NoError(t, err)
	assert.Equal(t, WireTypeDeleteMessage, env.Kind())
}

func TestAsCoded(t *testing.T) {
	assert.Equal(t, ErrNotFound, AsCoded(ErrNotFound))
	assert.Equal(t, ErrInternal, AsCoded(errors.New("boom")))
	// wrapped coded errors unwrap to their code
	wrapped := AsCoded(errWrap())
	assert.Equal(t, "EXPIRED", wrapped.Code)
}

func errWrap() error {
	return &wrapper{err: ErrExpired}
}

type wrapper struct{ err error }

func (w *wrapper) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapper) Unwrap() error { return w.err }

func TestHashRoomCode(t *testing.T) {
	// join determinism: same code, same hash, a known SHA-256 value
	assert.Equal(t, "8d969eef6ecad3c29a3a629280e686cf0c3f5d5a86aff3ca12020c923adc6c92", HashRoomCode("123456"))
	assert.Equal(t, HashRoomCode("123456"), HashRoomCode("123456"))
	assert.True(t, ValidHash(HashRoomCode("123456")))
}

func TestValidRoomCode(t *testing.T) {
	assert.True(t, ValidRoomCode("123456"))
	assert.False(t, ValidRoomCode("12345"))
	assert.False(t, ValidRoomCode("1234567"))
	assert.False(t, ValidRoomCode("12345a"))
	assert.False(t, ValidRoomCode(""))
}
