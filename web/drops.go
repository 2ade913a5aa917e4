package web

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

func (s *Server) dropCreate(w http.ResponseWriter, r *http.Request) {
	req := struct {
		DropHash string `json:"drop_hash"`
		Duration string `json:"duration"`
	}{}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	session, err := s.drops.Create(r.Context(), req.DropHash, req.Duration)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":          true,
		"expiry_timestamp": session.ExpiryTimestamp,
		"duration":         session.TTL,
	})
}

func (s *Server) dropUpload(w http.ResponseWriter, r *http.Request) {
	payload, err := s.readMultipartFile(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	session, err := s.drops.Upload(r.Context(),
		r.FormValue("drop_hash"),
		payload,
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
		"file_id": session.FileID,
	})
}

func (s *Server) dropValidate(w http.ResponseWriter, r *http.Request) {
	req := struct {
		DropHash string `json:"drop_hash"`
	}{}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	session, err := s.drops.Validate(r.Context(), req.DropHash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":           true,
		"file_id":           session.FileID,
		"file_name":         session.FileName,
		"file_size":         session.FileSize,
		"iv":                session.IV,
		"auth_tag":          session.AuthTag,
		"expiry_timestamp":  session.ExpiryTimestamp,
		"remaining_seconds": int64(session.Remaining(time.Now()) / time.Second),
	})
}

func (s *Server) dropDownload(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["file_id"]
	dropHash := r.URL.Query().Get("drop_hash")
	rc, session, err := s.drops.Download(r.Context(), dropHash, fileID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()
	streamFile(w, rc, session.FileName, session.IV, session.AuthTag, session.FileSize)
}
