package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"newslens/internal/auth"
	"newslens/internal/config"
	"newslens/internal/store"
)

type mockWorker struct {
	fetched   []int64
	processed int
}

func (m *mockWorker) TriggerFetch(feedID int64) { m.fetched = append(m.fetched, feedID) }
func (m *mockWorker) TriggerProcessing()        { m.processed++ }

func newTestServer(t *testing.T) (*Server, *mockWorker, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	worker := &mockWorker{}
	cfg := config.Config{}
	cfg.Scheduler.Times = []string{"07:00", "19:00"}
	return New(st, cfg, worker, nil), worker, st
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("unexpected health response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestStatus(t *testing.T) {
	s, _, st := newTestServer(t)
	st.CreateUser("alice", "", "")

	rec := doJSON(t, s, http.MethodGet, "/api/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Status         string   `json:"status"`
		UsersCount     int      `json:"users_count"`
		SchedulerTimes []string `json:"scheduler_times"`
	}
	decode(t, rec, &resp)
	if resp.Status != "ok" || resp.UsersCount != 1 {
		t.Errorf("unexpected status %+v", resp)
	}
	if len(resp.SchedulerTimes) != 2 {
		t.Errorf("expected configured times, got %v", resp.SchedulerTimes)
	}
}

func TestRegisterLoginFlow(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/register",
		map[string]string{"username": "alice", "password": "s3cret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("register = %d: %s", rec.Code, rec.Body.String())
	}
	var reg struct {
		UserID int64  `json:"user_id"`
		Token  string `json:"token"`
	}
	decode(t, rec, &reg)
	if reg.UserID == 0 || reg.Token == "" {
		t.Fatalf("incomplete register response %+v", reg)
	}
	if id, err := auth.ParseToken(reg.Token, auth.Secret()); err != nil || id != reg.UserID {
		t.Errorf("token does not resolve to user: %v", err)
	}

	// Duplicate username conflicts.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/register",
		map[string]string{"username": "alice", "password": "other"})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate register = %d, want 409", rec.Code)
	}

	// Wrong password is unauthorized.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/login",
		map[string]string{"username": "alice", "password": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad login = %d, want 401", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/login",
		map[string]string{"username": "alice", "password": "s3cret"})
	if rec.Code != http.StatusOK {
		t.Errorf("login = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRegisterValidation(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/register", map[string]string{"username": "alice"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("register without password = %d, want 400", rec.Code)
	}
}

func TestSubscribeDedupesAcrossUsers(t *testing.T) {
	s, _, st := newTestServer(t)
	alice, _ := st.CreateUser("alice", "", "")
	bob, _ := st.CreateUser("bob", "", "")

	var first, second struct {
		ID             int64  `json:"id"`
		SubscriptionID int64  `json:"subscription_id"`
		Message        string `json:"message"`
	}
	rec := doJSON(t, s, http.MethodPost, "/api/v1/feeds",
		map[string]any{"user_id": alice, "url": "https://example.com/feed.xml"})
	if rec.Code != http.StatusOK {
		t.Fatalf("subscribe = %d: %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &first)
	if first.Message != "" {
		t.Errorf("fresh subscribe should carry no message, got %q", first.Message)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/feeds",
		map[string]any{"user_id": bob, "url": "https://example.com/feed.xml"})
	decode(t, rec, &second)

	if first.ID != second.ID {
		t.Errorf("expected one feed row, got ids %d and %d", first.ID, second.ID)
	}
	if first.SubscriptionID == second.SubscriptionID {
		t.Error("expected distinct subscriptions per user")
	}

	// Repeating the same subscribe is a no-op returning the same id.
	var repeat struct {
		ID             int64  `json:"id"`
		SubscriptionID int64  `json:"subscription_id"`
		Message        string `json:"message"`
	}
	rec = doJSON(t, s, http.MethodPost, "/api/v1/feeds",
		map[string]any{"user_id": alice, "url": "https://example.com/feed.xml"})
	decode(t, rec, &repeat)
	if repeat.Message != "Already subscribed" {
		t.Errorf("expected already-subscribed message, got %q", repeat.Message)
	}
	if repeat.SubscriptionID != first.SubscriptionID {
		t.Errorf("expected same subscription id %d, got %d", first.SubscriptionID, repeat.SubscriptionID)
	}
}

func TestSubscribeAuth(t *testing.T) {
	s, worker, st := newTestServer(t)
	userID, _ := st.CreateUser("alice", "", "")

	rec := doJSON(t, s, http.MethodPost, "/api/v1/feeds",
		map[string]any{"url": "https://example.com/feed.xml"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous subscribe = %d, want 401", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/feeds",
		map[string]any{"user_id": userID})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("subscribe without url = %d, want 400", rec.Code)
	}

	token, _ := auth.IssueToken(userID, auth.Secret())
	rec = doJSON(t, s, http.MethodPost, "/api/v1/feeds",
		map[string]any{"token": token, "url": "https://example.com/feed.xml"})
	if rec.Code != http.StatusOK {
		t.Errorf("token subscribe = %d: %s", rec.Code, rec.Body.String())
	}

	// A fresh subscription queues an immediate poll.
	if len(worker.fetched) != 1 {
		t.Errorf("expected one fetch trigger, got %d", len(worker.fetched))
	}
}

func TestFetchAndProcessAccepted(t *testing.T) {
	s, worker, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/fetch", map[string]any{"feed_id": 7})
	if rec.Code != http.StatusAccepted {
		t.Errorf("fetch = %d, want 202", rec.Code)
	}
	if len(worker.fetched) != 1 || worker.fetched[0] != 7 {
		t.Errorf("expected fetch trigger for feed 7, got %v", worker.fetched)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/process-pending", nil)
	if rec.Code != http.StatusAccepted {
		t.Errorf("process-pending = %d, want 202", rec.Code)
	}
	if worker.processed != 1 {
		t.Errorf("expected processing trigger, got %d", worker.processed)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s, _, st := newTestServer(t)
	userID, _ := st.CreateUser("alice", "", "")

	rec := doJSON(t, s, http.MethodPost, "/api/v1/sessions",
		map[string]any{"user_id": userID, "duration_seconds": 600})
	if rec.Code != http.StatusOK {
		t.Fatalf("create session = %d: %s", rec.Code, rec.Body.String())
	}
	var sess struct {
		ID              int64 `json:"id"`
		UserID          int64 `json:"user_id"`
		DurationSeconds int   `json:"duration_requested_seconds"`
	}
	decode(t, rec, &sess)
	if sess.UserID != userID || sess.DurationSeconds != 600 {
		t.Errorf("unexpected session %+v", sess)
	}

	st.AddChatMessage(sess.ID, "assistant", "hello")

	rec = doJSON(t, s, http.MethodGet, fmt.Sprintf("/api/v1/sessions?user_id=%d", userID), nil)
	var list []json.RawMessage
	decode(t, rec, &list)
	if len(list) != 1 {
		t.Errorf("expected 1 session, got %d", len(list))
	}

	rec = doJSON(t, s, http.MethodGet, fmt.Sprintf("/api/v1/sessions/%d", sess.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get session = %d", rec.Code)
	}
	var detail struct {
		Session  json.RawMessage   `json:"session"`
		Messages []json.RawMessage `json:"messages"`
	}
	decode(t, rec, &detail)
	if len(detail.Messages) != 1 {
		t.Errorf("expected 1 message, got %d", len(detail.Messages))
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/sessions/9999", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing session = %d, want 404", rec.Code)
	}
}

func TestListFeedsValidation(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/v1/feeds", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("feeds without user_id = %d, want 400", rec.Code)
	}
}
