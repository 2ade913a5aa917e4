package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

const (
	GCMNonceSize = 12 // bytes, decoded iv
	GCMTagSize   = 16 // bytes, decoded auth_tag
)

// Envelope is the closed union of frames a client may send over the socket.
// The type tag selects the kind; a frame without a tag is an opaque encrypted
// chat message. Frames are validated against their kind before any dispatch
// happens, unknown tags are rejected.
type Envelope struct {
	Type       string `json:"type,omitempty" mapstructure:"type"`
	RoomHash   string `json:"room_hash" mapstructure:"room_hash"`
	SenderID   string `json:"sender_id" mapstructure:"sender_id"`
	Ciphertext string `json:"ciphertext,omitempty" mapstructure:"ciphertext"`
	IV         string `json:"iv,omitempty" mapstructure:"iv"`
	AuthTag    string `json:"auth_tag,omitempty" mapstructure:"auth_tag"`
	Hmac       string `json:"hmac,omitempty" mapstructure:"hmac"`
	ImageID    string `json:"image_id,omitempty" mapstructure:"image_id"`
	FileID     string `json:"file_id,omitempty" mapstructure:"file_id"`
	FileName   string `json:"file_name,omitempty" mapstructure:"file_name"`
	MessageID  string `json:"message_id,omitempty" mapstructure:"message_id"`

	// assigned by the relay before broadcast, never read from the wire
	MsgID string `json:"msg_id,omitempty" mapstructure:"-"`
}

// Kind normalizes the tag: an untagged frame is a chat message.
func (e *Envelope) Kind() string {
	if e.Type == "" {
		return WireTypeChat
	}
	return e.Type
}

// ParseEnvelope decodes and validates a raw text frame. The returned error
// always carries a CodedError.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: not a JSON object: %v", ErrInvalidRequest, err)
	}
	env := &Envelope{}
	if err := mapstructure.WeakDecode(fields, env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

func (e *Envelope) Validate() error {
	if !ValidHash(e.RoomHash) {
		return fmt.Errorf("%w: missing or malformed room_hash", ErrInvalidRequest)
	}
	if e.SenderID == "" {
		return fmt.Errorf("%w: missing sender_id", ErrInvalidRequest)
	}
	switch e.Kind() {
	case WireTypeChat:
		if e.Hmac == "" {
			return fmt.Errorf("%w: missing hmac", ErrInvalidRequest)
		}
		return ValidateCryptoParams(e.Ciphertext, e.IV, e.AuthTag)
	case WireTypeJoinRoom:
		return nil
	case WireTypeImage:
		if e.ImageID == "" || e.FileName == "" {
			return fmt.Errorf("%w: missing image_id or file_name", ErrInvalidRequest)
		}
		return nil
	case WireTypeFile:
		if e.FileID == "" || e.FileName == "" {
			return fmt.Errorf("%w: missing file_id or file_name", ErrInvalidRequest)
		}
		return nil
	case WireTypeDeleteMessage:
		if e.MessageID == "" {
			return fmt.Errorf("%w: missing message_id", ErrInvalidRequest)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrInvalidRequest, e.Type)
	}
}

// ValidateCryptoParams checks the opaque payload parameters without ever
// touching the ciphertext content: iv must decode to exactly 12 bytes,
// auth_tag to exactly 16 bytes, ciphertext to a non-empty byte sequence.
func ValidateCryptoParams(ciphertext, iv, authTag string) error {
	rawIV, err := base64.StdEncoding.DecodeString(iv)
	if err != nil || len(rawIV) != GCMNonceSize {
		return fmt.Errorf("%w: iv must be %d bytes", ErrInvalidCryptoParameters, GCMNonceSize)
	}
	rawTag, err := base64.StdEncoding.DecodeString(authTag)
	if err != nil || len(rawTag) != GCMTagSize {
		return fmt.Errorf("%w: auth_tag must be %d bytes", ErrInvalidCryptoParameters, GCMTagSize)
	}
	rawCt, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil || len(rawCt) == 0 {
		return fmt.Errorf("%w: empty ciphertext", ErrInvalidCryptoParameters)
	}
	return nil
}

// ToMessage builds the log entry persisted for this frame.
func (e *Envelope) ToMessage(msgID string, now time.Time) Message {
	return Message{
		MsgID:      msgID,
		Type:       e.Kind(),
		Ciphertext: e.Ciphertext,
		IV:         e.IV,
		AuthTag:    e.AuthTag,
		Hmac:       e.Hmac,
		ImageID:    e.ImageID,
		FileID:     e.FileID,
		FileName:   e.FileName,
		SenderID:   e.SenderID,
		CreatedAt:  now.Unix(),
	}
}
