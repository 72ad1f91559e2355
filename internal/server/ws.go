package server

import (
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"newslens/internal/core"
)

// handleChatSocket upgrades the connection and hands it to the session
// streamer, which blocks until the client disconnects.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	sessionID, err := queryInt64(r, "session_id")
	if err != nil {
		s.respondError(w, err)
		return
	}
	if s.streamer == nil {
		s.respondError(w, core.Errorf(core.KindInternal, "sessions unavailable"))
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // same-host UI plus local clients; no cookie auth to protect
	})
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.streamer.Handle(r.Context(), conn, sessionID, r.Header.Get("Accept-Language"))
	conn.Close(websocket.StatusNormalClosure, "")
}

func pathInt64(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, core.Errorf(core.KindBadRequest, "invalid %s %q", name, raw)
	}
	return v, nil
}
