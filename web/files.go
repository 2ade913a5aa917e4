package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/tcriess/burnbox/globals"
	"github.com/tcriess/burnbox/types"
)

// readMultipartFile parses the multipart body and returns the uploaded file
// bytes. The whole request is capped at the configured upload limit.
func (s *Server) readMultipartFile(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, fmt.Errorf("%w: file too large", types.ErrInvalidRequest)
		}
		return nil, types.ErrInvalidRequest
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: missing file part", types.ErrInvalidRequest)
	}
	defer file.Close()
	payload, err := io.ReadAll(file)
	if err != nil {
		return nil, types.ErrInvalidRequest
	}
	return payload, nil
}

func (s *Server) fileUpload(w http.ResponseWriter, r *http.Request) {
	payload, err := s.readMultipartFile(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	meta, err := s.files.Upload(r.Context(),
		r.FormValue("room_hash"),
		payload,
		r.FormValue("hmac"),
		r.FormValue("iv"),
		r.FormValue("auth_tag"),
		r.FormValue("file_name"),
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"file_id": meta.FileID,
	})
}

func (s *Server) fileDownload(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["file_id"]
	roomHash := r.URL.Query().Get("room_hash")
	rc, meta, err := s.files.Download(r.Context(), roomHash, fileID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()
	streamFile(w, rc, meta.FileName, meta.IV, meta.AuthTag, meta.FileSize)
}

// streamFile writes the binary body with the decryption parameters in the
// response headers. Once streaming has begun there is no way to switch to the
// error envelope, a mid-stream failure is only logged.
func streamFile(w http.ResponseWriter, rc io.Reader, fileName, iv, authTag string, size int64) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-File-IV", iv)
	w.Header().Set("X-File-AuthTag", authTag)
	w.Header().Set("X-File-Name", fileName)
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	if _, err := io.Copy(w, rc); err != nil {
		globals.AppLogger.Warn("download stream interrupted", "error", err)
	}
}
