package types

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"time"
)

const (
	// member caps per room flavor
	MaxDirectRoomMembers = 2
	MaxGroupRoomMembers  = 20
)

var (
	roomCodeRe = regexp.MustCompile(`^[0-9]{6}$`)
	hexHashRe  = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// Room is the stored room record. It is written once on create and removed by
// TTL expiry or burn, never mutated. The store TTL and ExpiryTimestamp denote
// the same instant; the TTL enforces it, the timestamp informs clients.
type Room struct {
	RoomHash        string `json:"room_hash"`
	RoomCode        string `json:"room_code"`
	RoomSalt        string `json:"room_salt"`
	IsGroup         bool   `json:"is_group"`
	ExpiryTimestamp int64  `json:"expiry_timestamp"` // unix seconds
	CreatorID       string `json:"creator_id"`
	CreatedAt       int64  `json:"created_at"` // unix seconds
}

func (r *Room) ExpiresAt() time.Time {
	return time.Unix(r.ExpiryTimestamp, 0)
}

// Remaining is the room lease: dependent keys (members, message log, file
// metadata) derive their TTL from this at write time.
func (r *Room) Remaining(now time.Time) time.Duration {
	return r.ExpiresAt().Sub(now)
}

func (r *Room) Expired(now time.Time) bool {
	return r.Remaining(now) <= 0
}

func (r *Room) MemberCap() int64 {
	if r.IsGroup {
		return MaxGroupRoomMembers
	}
	return MaxDirectRoomMembers
}

// HashRoomCode maps the 6-digit room code to the room identity.
func HashRoomCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func ValidRoomCode(code string) bool {
	return roomCodeRe.MatchString(code)
}

// ValidHash reports whether s is a lowercase hex SHA-256 digest, the format
// of both room and drop identifiers.
func ValidHash(s string) bool {
	return hexHashRe.MatchString(s)
}
