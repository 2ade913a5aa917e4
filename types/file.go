package types

// FileMeta is the metadata record of one uploaded room file. Its existence is
// the sole authority that the object under ObjectKey is live; the reconciler
// deletes any object without a matching record.
type FileMeta struct {
	FileID          string `json:"file_id"`
	FileName        string `json:"file_name"`
	FileSize        int64  `json:"file_size"`
	UploadTimestamp int64  `json:"upload_timestamp"` // unix seconds
	ObjectKey       string `json:"object_key"`
	IV              string `json:"iv"`
	AuthTag         string `json:"auth_tag"`
}
