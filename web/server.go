package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/tcriess/burnbox/drop"
	"github.com/tcriess/burnbox/files"
	"github.com/tcriess/burnbox/globals"
	"github.com/tcriess/burnbox/room"
	"github.com/tcriess/burnbox/store"
	"github.com/tcriess/burnbox/types"
	"github.com/tcriess/burnbox/ws"
)

// Server wires the HTTP surface to the core services. Handlers only parse
// requests and serialize results; every decision lives in the services, so
// the handlers stay thin and the error envelope stays uniform.
type Server struct {
	rooms *room.Manager
	files *files.Service
	drops *drop.Service
	relay *ws.Relay
	store store.Store

	maxUploadBytes int64
	startedAt      time.Time

	upgrader websocket.Upgrader
}

func NewServer(rooms *room.Manager, fileSvc *files.Service, drops *drop.Service, relay *ws.Relay, st store.Store, maxUploadBytes int64) *Server {
	return &Server{
		rooms:          rooms,
		files:          fileSvc,
		drops:          drops,
		relay:          relay,
		store:          st,
		maxUploadBytes: maxUploadBytes,
		startedAt:      time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/room/create", s.roomCreate).Methods(http.MethodPost)
	router.HandleFunc("/room/join", s.roomJoin).Methods(http.MethodPost)
	router.HandleFunc("/room/info", s.roomInfo).Methods(http.MethodPost)
	router.HandleFunc("/room/messages", s.roomMessages).Methods(http.MethodPost)
	router.HandleFunc("/room/burn", s.roomBurn).Methods(http.MethodPost)
	router.HandleFunc("/file/upload", s.fileUpload).Methods(http.MethodPost)
	router.HandleFunc("/file/{file_id}", s.fileDownload).Methods(http.MethodGet)
	router.HandleFunc("/file-drop/create", s.dropCreate).Methods(http.MethodPost)
	router.HandleFunc("/file-drop/upload", s.dropUpload).Methods(http.MethodPost)
	router.HandleFunc("/file-drop/validate", s.dropValidate).Methods(http.MethodPost)
	router.HandleFunc("/file-drop/{file_id}", s.dropDownload).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.websocketHandler).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	return router
}

// websocketHandler upgrades the connection and runs the read pump until the
// socket closes. The write pump runs in its own goroutine; the client is
// pruned from every room on exit.
func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		globals.AppLogger.Error("websocket upgrade error", "error", err)
		return
	}
	client := ws.NewClient(s.relay, conn)
	go client.WriteLoop()
	client.ReadLoop()
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	storeOK := s.store.Ping(ctx) == nil
	status := http.StatusOK
	if !storeOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"success":        storeOK,
		"store":          storeOK,
		"files_enabled":  s.files.Enabled(),
		"uptime_seconds": int64(time.Since(s.startedAt) / time.Second),
		"relay":          s.relay.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		globals.AppLogger.Error("could not write response", "error", err)
	}
}

// writeError maps err to the shared error envelope, falling back to 500 for
// anything that is not a coded error.
func writeError(w http.ResponseWriter, err error) {
	coded := types.AsCoded(err)
	if coded == types.ErrInternal {
		globals.AppLogger.Error("internal error", "error", err)
	}
	writeJSON(w, coded.Status, map[string]interface{}{
		"success": false,
		"error":   coded.Code,
	})
}

// decodeBody parses a JSON request body into dst, limited to a sane size.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return types.ErrInvalidRequest
	}
	return nil
}
