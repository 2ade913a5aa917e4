package web

import (
	"net/http"

	"github.com/tcriess/burnbox/room"
	"github.com/tcriess/burnbox/types"
)

type roomCreateRequest struct {
	RoomHash      string `json:"room_hash"`
	RoomCode      string `json:"room_code"`
	RoomSalt      string `json:"room_salt"`
	ExpirySeconds int64  `json:"expiry_seconds"`
	IsGroup       bool   `json:"is_group"`
	CreatorID     string `json:"creator_id"`
}

func (s *Server) roomCreate(w http.ResponseWriter, r *http.Request) {
	req := roomCreateRequest{}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.rooms.Create(r.Context(), room.CreateParams{
		RoomHash:      req.RoomHash,
		RoomCode:      req.RoomCode,
		RoomSalt:      req.RoomSalt,
		ExpirySeconds: req.ExpirySeconds,
		IsGroup:       req.IsGroup,
		CreatorID:     req.CreatorID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"room_hash": created.RoomHash,
		"room_salt": created.RoomSalt,
		"expiry":    created.ExpiryTimestamp,
	})
}

// roomSnapshot is the wire shape of a room returned by join and info. The
// room code stays server-side, clients already know it or never need it.
func roomSnapshot(rm *types.Room) map[string]interface{} {
	return map[string]interface{}{
		"success":          true,
		"room_hash":        rm.RoomHash,
		"room_salt":        rm.RoomSalt,
		"is_group":         rm.IsGroup,
		"expiry_timestamp": rm.ExpiryTimestamp,
		"created_at":       rm.CreatedAt,
	}
}

func (s *Server) roomJoin(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Code string `json:"code"`
	}{}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	rm, err := s.rooms.Join(r.Context(), req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomSnapshot(rm))
}

func (s *Server) roomInfo(w http.ResponseWriter, r *http.Request) {
	req := struct {
		RoomHash string `json:"room_hash"`
	}{}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	rm, err := s.rooms.Info(r.Context(), req.RoomHash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomSnapshot(rm))
}

func (s *Server) roomMessages(w http.ResponseWriter, r *http.Request) {
	req := struct {
		RoomHash string `json:"room_hash"`
		Page     int64  `json:"page"`
		Limit    int64  `json:"limit"`
	}{}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	messages, page, err := s.rooms.Messages(r.Context(), req.RoomHash, req.Page, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"messages":   messages,
		"pagination": page,
	})
}

func (s *Server) roomBurn(w http.ResponseWriter, r *http.Request) {
	req := struct {
		RoomHash  string `json:"room_hash"`
		CreatorID string `json:"creator_id"`
	}{}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.rooms.Burn(r.Context(), req.RoomHash, req.CreatorID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
