package store

// Key layout. Rooms own three keys (record, member set, message log), file
// metadata is one key per upload, drops one key per session. All of them
// expire via TTL.

func RoomKey(roomHash string) string {
	return "room:" + roomHash
}

func RoomMembersKey(roomHash string) string {
	return "room:" + roomHash + ":members"
}

func RoomMessagesKey(roomHash string) string {
	return "room:" + roomHash + ":messages"
}

func FileKey(roomHash, fileID string) string {
	return "file:" + roomHash + ":" + fileID
}

// FilePattern matches every file-metadata key of one room.
func FilePattern(roomHash string) string {
	return "file:" + roomHash + ":*"
}

func DropKey(dropHash string) string {
	return "drop:" + dropHash
}

// DropPattern matches every drop session whose hash starts with hashPrefix.
func DropPattern(hashPrefix string) string {
	return "drop:" + hashPrefix + "*"
}
