package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	"golang.org/x/crypto/pbkdf2"
)

const (
	deriveIterations = 100000
	deriveKeyLength  = 32
)

// DeriveFileKey derives the upload authentication key from a room's code and
// salt. Clients run the same derivation, so the parameters here are part of
// the wire contract and must not change.
func DeriveFileKey(roomCode, roomSalt string) []byte {
	return pbkdf2.Key([]byte(roomCode), []byte(roomSalt), deriveIterations, deriveKeyLength, sha256.New)
}

// SignFilePayload computes the authentication tag over the base64 ciphertext
// and the encryption parameters exactly as they appear on the wire.
func SignFilePayload(key []byte, ciphertextB64, iv, authTag string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(ciphertextB64))
	mac.Write([]byte(iv))
	mac.Write([]byte(authTag))
	return mac.Sum(nil)
}

// VerifyFilePayload checks a client-supplied base64 tag in constant time.
func VerifyFilePayload(key []byte, ciphertextB64, iv, authTag, tagB64 string) bool {
	got, err := base64.StdEncoding.DecodeString(tagB64)
	if err != nil {
		return false
	}
	want := SignFilePayload(key, ciphertextB64, iv, authTag)
	return hmac.Equal(want, got)
}
