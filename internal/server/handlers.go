package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"newslens/internal/auth"
	"newslens/internal/core"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encoding response", "error", err)
	}
}

// respondError maps an error kind to its HTTP status. Internal causes are
// never echoed to the client.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := core.StatusOf(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
		msg = "internal error"
	}
	s.respondJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type statusResponse struct {
	Status         string   `json:"status"`
	UptimeSeconds  int64    `json:"uptime_seconds"`
	UsersCount     int      `json:"users_count"`
	SchedulerTimes []string `json:"scheduler_times"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	users, err := s.store.CountUsers()
	if err != nil {
		s.respondError(w, err)
		return
	}
	times := s.cfg.Scheduler.Times
	if times == nil {
		times = []string{}
	}
	s.respondJSON(w, http.StatusOK, statusResponse{
		Status:         "ok",
		UptimeSeconds:  int64(time.Since(s.startTime).Seconds()),
		UsersCount:     users,
		SchedulerTimes: times,
	})
}

type registerRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type authResponse struct {
	UserID int64  `json:"user_id"`
	Token  string `json:"token"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, core.Errorf(core.KindBadRequest, "invalid JSON body"))
		return
	}
	if req.Username == "" || req.Password == "" {
		s.respondError(w, core.Errorf(core.KindBadRequest, "username and password are required"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.respondError(w, err)
		return
	}
	userID, err := s.store.CreateUser(req.Username, req.DisplayName, hash)
	if err != nil {
		s.respondError(w, err)
		return
	}
	token, err := auth.IssueToken(userID, auth.Secret())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, authResponse{UserID: userID, Token: token})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, core.Errorf(core.KindBadRequest, "invalid JSON body"))
		return
	}

	user, err := s.store.GetUserByUsername(req.Username)
	if err != nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		s.respondError(w, core.Errorf(core.KindUnauthorized, "invalid credentials"))
		return
	}
	if err := s.store.TouchLastLogin(user.ID); err != nil {
		s.log.Warn("recording login time", "user_id", user.ID, "error", err)
	}
	token, err := auth.IssueToken(user.ID, auth.Secret())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, authResponse{UserID: user.ID, Token: token})
}

func (s *Server) handleListUsers(w http.ResponseWriter, _ *http.Request) {
	users, err := s.store.ListUsers()
	if err != nil {
		s.respondError(w, err)
		return
	}
	if users == nil {
		users = []core.User{}
	}
	s.respondJSON(w, http.StatusOK, users)
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	userID, err := queryInt64(r, "user_id")
	if err != nil {
		s.respondError(w, err)
		return
	}
	feeds, err := s.store.ListFeedsForUser(userID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if feeds == nil {
		feeds = []core.Feed{}
	}
	s.respondJSON(w, http.StatusOK, feeds)
}

type subscribeRequest struct {
	UserID int64  `json:"user_id"`
	Token  string `json:"token"`
	URL    string `json:"url"`
	Title  string `json:"title"`
}

type subscribeResponse struct {
	ID             int64  `json:"id"`
	SubscriptionID int64  `json:"subscription_id"`
	Message        string `json:"message,omitempty"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, core.Errorf(core.KindBadRequest, "invalid JSON body"))
		return
	}
	userID, err := s.resolveUser(req.UserID, req.Token)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if req.URL == "" {
		s.respondError(w, core.Errorf(core.KindBadRequest, "url is required"))
		return
	}

	feedID, _, err := s.store.UpsertFeed(req.URL, req.Title)
	if err != nil {
		s.respondError(w, err)
		return
	}
	subID, already, err := s.store.Subscribe(userID, feedID, req.Title)
	if err != nil {
		s.respondError(w, err)
		return
	}

	resp := subscribeResponse{ID: feedID, SubscriptionID: subID}
	if already {
		resp.Message = "Already subscribed"
	} else if s.worker != nil {
		s.worker.TriggerFetch(feedID)
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type fetchRequest struct {
	FeedID int64 `json:"feed_id"`
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, core.Errorf(core.KindBadRequest, "invalid JSON body"))
		return
	}
	if s.worker != nil {
		s.worker.TriggerFetch(req.FeedID)
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleProcessPending(w http.ResponseWriter, _ *http.Request) {
	if s.worker != nil {
		s.worker.TriggerProcessing()
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type createSessionRequest struct {
	UserID          int64  `json:"user_id"`
	Token           string `json:"token"`
	DurationSeconds int    `json:"duration_seconds"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, core.Errorf(core.KindBadRequest, "invalid JSON body"))
		return
	}
	userID, err := s.resolveUser(req.UserID, req.Token)
	if err != nil {
		s.respondError(w, err)
		return
	}
	duration := req.DurationSeconds
	if duration <= 0 {
		duration = 1200
	}
	sess, err := s.store.CreateSession(userID, duration)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID, err := queryInt64(r, "user_id")
	if err != nil {
		s.respondError(w, err)
		return
	}
	sessions, err := s.store.ListSessions(userID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if sessions == nil {
		sessions = []core.Session{}
	}
	s.respondJSON(w, http.StatusOK, sessions)
}

type sessionDetailResponse struct {
	Session  *core.Session      `json:"session"`
	Messages []core.ChatMessage `json:"messages"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		s.respondError(w, err)
		return
	}
	sess, err := s.store.GetSession(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	msgs, err := s.store.ListMessages(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if msgs == nil {
		msgs = []core.ChatMessage{}
	}
	s.respondJSON(w, http.StatusOK, sessionDetailResponse{Session: sess, Messages: msgs})
}

// resolveUser returns the acting user: an explicit id wins, otherwise the
// bearer token's subject.
func (s *Server) resolveUser(userID int64, token string) (int64, error) {
	if userID != 0 {
		return userID, nil
	}
	if token == "" {
		return 0, core.Errorf(core.KindUnauthorized, "user_id or token required")
	}
	return auth.ParseToken(token, auth.Secret())
}

func queryInt64(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, core.Errorf(core.KindBadRequest, "invalid %s %q", name, raw)
	}
	return v, nil
}
