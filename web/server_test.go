package web

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/burnbox/auth"
	"github.com/tcriess/burnbox/cache"
	"github.com/tcriess/burnbox/config"
	"github.com/tcriess/burnbox/drop"
	"github.com/tcriess/burnbox/files"
	"github.com/tcriess/burnbox/objstore"
	"github.com/tcriess/burnbox/room"
	"github.com/tcriess/burnbox/store"
	"github.com/tcriess/burnbox/types"
	"github.com/tcriess/burnbox/ws"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &config.Config{StoreConfig: config.StoreConfig{Type: "buntdb", Path: ":memory:"}}
	st, err := store.NewStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	objects := objstore.NewMemoryStore()
	rooms, err := cache.NewRoomCache(st, 16, 5*time.Second)
	require.NoError(t, err)
	registry := ws.NewRegistry()
	relay := ws.NewRelay(st, rooms, registry, 64, 64<<10)
	t.Cleanup(func() { relay.Stop(context.Background()) })
	fileSvc := files.NewService(st, objects, 7*24*time.Hour)
	dropSvc := drop.NewService(st, objects)
	roomMgr := room.NewManager(st, fileSvc, registry, 7*24*time.Hour)
	server := NewServer(roomMgr, fileSvc, dropSvc, relay, st, 1<<20)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	decoded := map[string]interface{}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func createRoomReq(code string) map[string]interface{} {
	return map[string]interface{}{
		"room_hash":      types.HashRoomCode(code),
		"room_code":      code,
		"room_salt":      "c2FsdA==",
		"expiry_seconds": 3600,
		"creator_id":     "creator-1",
	}
}

func TestRoomEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, body := postJSON(t, ts.URL+"/room/create", createRoomReq("123456"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, types.HashRoomCode("123456"), body["room_hash"])

	resp, body = postJSON(t, ts.URL+"/room/create", createRoomReq("123456"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ALREADY_EXISTS", body["error"])

	resp, body = postJSON(t, ts.URL+"/room/join", map[string]string{"code": "123456"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "c2FsdA==", body["room_salt"])

	resp, body = postJSON(t, ts.URL+"/room/join", map[string]string{"code": "12345"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_CODE_FORMAT", body["error"])

	resp, body = postJSON(t, ts.URL+"/room/join", map[string]string{"code": "999999"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", body["error"])

	resp, _ = postJSON(t, ts.URL+"/room/info", map[string]string{"room_hash": types.HashRoomCode("123456")})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = postJSON(t, ts.URL+"/room/burn", map[string]string{
		"room_hash": types.HashRoomCode("123456"), "creator_id": "intruder"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", body["error"])

	resp, _ = postJSON(t, ts.URL+"/room/burn", map[string]string{
		"room_hash": types.HashRoomCode("123456"), "creator_id": "creator-1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = postJSON(t, ts.URL+"/room/info", map[string]string{"room_hash": types.HashRoomCode("123456")})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRoomMessagesEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := postJSON(t, ts.URL+"/room/create", createRoomReq("123456"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := postJSON(t, ts.URL+"/room/messages", map[string]interface{}{
		"room_hash": types.HashRoomCode("123456"), "page": 0, "limit": 50})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	pagination := body["pagination"].(map[string]interface{})
	assert.Equal(t, false, pagination["has_more"])
}

func multipartUpload(t *testing.T, url string, fields map[string]string, payload []byte) (*http.Response, map[string]interface{}) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	part, err := w.CreateFormFile("file", "blob.bin")
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	resp, err := http.Post(url, w.FormDataContentType(), buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	decoded := map[string]interface{}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestFileUploadDownload(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := postJSON(t, ts.URL+"/room/create", createRoomReq("123456"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload := make([]byte, 512)
	_, _ = rand.Read(payload)
	iv := base64.StdEncoding.EncodeToString(make([]byte, 12))
	authTag := base64.StdEncoding.EncodeToString(make([]byte, 16))
	key := auth.DeriveFileKey("123456", "c2FsdA==")
	hmacB64 := base64.StdEncoding.EncodeToString(
		auth.SignFilePayload(key, base64.StdEncoding.EncodeToString(payload), iv, authTag))

	roomHash := types.HashRoomCode("123456")
	resp, body := multipartUpload(t, ts.URL+"/file/upload", map[string]string{
		"room_hash": roomHash, "hmac": hmacB64, "iv": iv, "auth_tag": authTag, "file_name": "cat.jpg",
	}, payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fileID := body["file_id"].(string)

	// bad hmac is forbidden
	resp, body = multipartUpload(t, ts.URL+"/file/upload", map[string]string{
		"room_hash": roomHash, "hmac": base64.StdEncoding.EncodeToString(make([]byte, 32)),
		"iv": iv, "auth_tag": authTag,
	}, payload)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "INVALID_HMAC", body["error"])

	getResp, err := http.Get(fmt.Sprintf("%s/file/%s?room_hash=%s", ts.URL, fileID, roomHash))
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	got, err := io.ReadAll(getResp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, iv, getResp.Header.Get("X-File-IV"))
	assert.Equal(t, authTag, getResp.Header.Get("X-File-AuthTag"))
	assert.Equal(t, "cat.jpg", getResp.Header.Get("X-File-Name"))
}

func TestDropEndpoints(t *testing.T) {
	ts := newTestServer(t)
	dropHash := types.HashRoomCode("drop-credential")

	resp, body := postJSON(t, ts.URL+"/file-drop/create", map[string]string{
		"drop_hash": dropHash, "duration": "1h"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3600), body["duration"])

	resp, body = postJSON(t, ts.URL+"/file-drop/create", map[string]string{
		"drop_hash": dropHash, "duration": "1h"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = postJSON(t, ts.URL+"/file-drop/validate", map[string]string{"drop_hash": dropHash})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NO_FILE_YET", body["error"])

	payload := []byte("drop me once")
	iv := base64.StdEncoding.EncodeToString(make([]byte, 12))
	authTag := base64.StdEncoding.EncodeToString(make([]byte, 16))
	resp, body = multipartUpload(t, ts.URL+"/file-drop/upload", map[string]string{
		"drop_hash": dropHash, "iv": iv, "auth_tag": authTag, "file_name": "once.bin",
	}, payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	fileID := body["file_id"].(string)

	resp, body = postJSON(t, ts.URL+"/file-drop/validate", map[string]string{"drop_hash": dropHash})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, fileID, body["file_id"])
	assert.Equal(t, "once.bin", body["file_name"])

	getResp, err := http.Get(fmt.Sprintf("%s/file-drop/%s?drop_hash=%s", ts.URL, fileID, dropHash))
	require.NoError(t, err)
	got, err := io.ReadAll(getResp.Body)
	getResp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	assert.Equal(t, payload, got)

	// one-time: the second fetch and the validate both report the terminal state
	getResp, err = http.Get(fmt.Sprintf("%s/file-drop/%s?drop_hash=%s", ts.URL, fileID, dropHash))
	require.NoError(t, err)
	getResp.Body.Close()
	assert.Equal(t, http.StatusGone, getResp.StatusCode)

	resp, body = postJSON(t, ts.URL+"/file-drop/validate", map[string]string{"drop_hash": dropHash})
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, "ALREADY_DOWNLOADED", body["error"])
}

func TestMalformedBody(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/room/create", "application/json", bytes.NewReader([]byte("{nope")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := map[string]interface{}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["store"])
	assert.Equal(t, true, body["files_enabled"])
}
