package types

const (
	WireTypeChat          = "chat"
	WireTypePing          = "ping"
	WireTypePong          = "pong"
	WireTypeJoinRoom      = "join_room"
	WireTypeImage         = "image"
	WireTypeFile          = "file"
	WireTypeDeleteMessage = "delete_message"
	WireTypeRoomBurnt     = "room_burnt"
)

// Message is one entry of a room's message log, stored newest-first. The
// payload stays opaque: ciphertext/iv/auth_tag/hmac are relayed and persisted
// exactly as received. Deletion marks the entry in place, it is never removed
// until the whole room goes.
type Message struct {
	MsgID      string `json:"msg_id"`
	Type       string `json:"type"`
	Ciphertext string `json:"ciphertext,omitempty"`
	IV         string `json:"iv,omitempty"`
	AuthTag    string `json:"auth_tag,omitempty"`
	Hmac       string `json:"hmac,omitempty"`
	ImageID    string `json:"image_id,omitempty"`
	FileID     string `json:"file_id,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	SenderID   string `json:"sender_id"`
	CreatedAt  int64  `json:"created_at"` // unix seconds, persistence time
	Deleted    bool   `json:"deleted,omitempty"`
}

// Ack is the per-message reply sent back on the same socket.
type Ack struct {
	Success bool   `json:"success"`
	MsgID   string `json:"msg_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

func AckOK() Ack {
	return Ack{Success: true}
}

func AckMsg(msgID string) Ack {
	return Ack{Success: true, MsgID: msgID}
}

func AckErr(err error) Ack {
	return Ack{Success: false, Error: AsCoded(err).Code}
}

// RoomBurnt is broadcast to every live connection of a room when the room is
// burnt by its creator.
type RoomBurnt struct {
	Type     string `json:"type"`
	RoomHash string `json:"room_hash"`
}

func NewRoomBurnt(roomHash string) RoomBurnt {
	return RoomBurnt{Type: WireTypeRoomBurnt, RoomHash: roomHash}
}
