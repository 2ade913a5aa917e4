package types

import "time"

// DropSession is the state of one one-time file drop. Unlike rooms the record
// is mutated in place: upload fills in the file fields, download flips
// Downloaded. Downloaded=true is terminal.
//
// States: created (no file) -> file uploaded -> downloaded, or expired at any
// point. Expiry is checked lazily against ExpiryTimestamp on every operation,
// the store TTL removes the record eventually.
type DropSession struct {
	DropHash        string `json:"drop_hash"`
	CreatedAt       int64  `json:"created_at"`       // unix seconds
	ExpiryTimestamp int64  `json:"expiry_timestamp"` // unix seconds
	TTL             int64  `json:"ttl"`              // seconds granted at creation
	FileID          string `json:"file_id,omitempty"`
	FileName        string `json:"file_name,omitempty"`
	FileSize        int64  `json:"file_size,omitempty"`
	IV              string `json:"iv,omitempty"`
	AuthTag         string `json:"auth_tag,omitempty"`
	ObjectKey       string `json:"object_key,omitempty"`
	Downloaded      bool   `json:"downloaded"`
	UploadedAt      int64  `json:"uploaded_at,omitempty"`
	DownloadedAt    int64  `json:"downloaded_at,omitempty"`
}

func (s *DropSession) ExpiresAt() time.Time {
	return time.Unix(s.ExpiryTimestamp, 0)
}

func (s *DropSession) Remaining(now time.Time) time.Duration {
	return s.ExpiresAt().Sub(now)
}

func (s *DropSession) Expired(now time.Time) bool {
	return s.Remaining(now) <= 0
}

func (s *DropSession) HasFile() bool {
	return s.FileID != ""
}
