package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"newslens/internal/core"
	"newslens/internal/digest"
	"newslens/internal/llm"
	"newslens/internal/store"
	"newslens/internal/vectors"
)

type mockProvider struct {
	responses []string
	calls     int
	err       error
}

func (m *mockProvider) Generate(_ context.Context, _ llm.Request) (*llm.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	resp := m.responses[len(m.responses)-1]
	if m.calls < len(m.responses) {
		resp = m.responses[m.calls]
	}
	m.calls++
	return &llm.Response{Content: resp, Model: "mock"}, nil
}

func (m *mockProvider) Summarize(context.Context, string, int) (*core.Summary, error) {
	return nil, errors.New("not implemented")
}

func (m *mockProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("not implemented")
}

func (m *mockProvider) Model() string { return "mock" }

func TestPrimaryLanguage(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"fr-FR,fr;q=0.9,en;q=0.8", "fr"},
		{"en-US", "en"},
		{"de", "de"},
		{"es;q=0.5", "es"},
		{"", "en"},
		{"  it-IT  ", "it"},
	}
	for _, tc := range cases {
		if got := PrimaryLanguage(tc.header); got != tc.want {
			t.Errorf("PrimaryLanguage(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}

func TestParseRefined(t *testing.T) {
	cases := []struct {
		name        string
		content     string
		wantTitle   string
		wantSummary string
		wantOK      bool
	}{
		{
			name:        "standard markers",
			content:     "TITLE: Breaking News\nSUMMARY: Something happened today.",
			wantTitle:   "Breaking News",
			wantSummary: "Something happened today.",
			wantOK:      true,
		},
		{
			name:        "french markers",
			content:     "TITRE: Nouvelles\nRÉSUMÉ: Quelque chose s'est passé.",
			wantTitle:   "Nouvelles",
			wantSummary: "Quelque chose s'est passé.",
			wantOK:      true,
		},
		{
			name:        "trailing note stripped",
			content:     "TITLE: News\nSUMMARY: A long enough summary here. (Note: translated from French)",
			wantTitle:   "News",
			wantSummary: "A long enough summary here.",
			wantOK:      true,
		},
		{
			name:        "markerless long text used as summary",
			content:     "The model forgot the markers but produced usable text anyway.",
			wantTitle:   "Original Headline",
			wantSummary: "The model forgot the markers but produced usable text anyway.",
			wantOK:      true,
		},
		{
			name:    "markerless short text rejected",
			content: "ok",
			wantOK:  false,
		},
		{
			name:    "markers out of order",
			content: "SUMMARY: body first\nTITLE: title last",
			wantOK:  false,
		},
		{
			name:    "empty title rejected",
			content: "TITLE:\nSUMMARY: body",
			wantOK:  false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			title, summary, ok := parseRefined(tc.content, "Original Headline")
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if title != tc.wantTitle {
				t.Errorf("title = %q, want %q", title, tc.wantTitle)
			}
			if summary != tc.wantSummary {
				t.Errorf("summary = %q, want %q", summary, tc.wantSummary)
			}
		})
	}
}

func TestRefineFallbackOnProviderError(t *testing.T) {
	card := core.DigestCard{
		Headline: "Original",
		Bullets:  []string{"first point", "second point"},
		Language: "en",
	}
	provider := &mockProvider{err: errors.New("down")}

	title, summary, lang := refine(context.Background(), provider, card, "fr")
	if title != "Original" {
		t.Errorf("expected original headline, got %q", title)
	}
	if summary != "first point second point" {
		t.Errorf("expected joined bullets, got %q", summary)
	}
	if lang != "en" {
		t.Errorf("expected original language kept, got %q", lang)
	}
}

func TestRefineMarkerlessKeepsOriginalHeadline(t *testing.T) {
	card := core.DigestCard{
		Headline: "Original Headline",
		Details:  "Stored details text.",
		Language: "en",
	}
	provider := &mockProvider{responses: []string{
		"Une traduction sans les marqueurs demandés, mais assez longue.",
	}}

	title, summary, lang := refine(context.Background(), provider, card, "fr")
	if title != "Original Headline" {
		t.Errorf("expected original headline kept, got %q", title)
	}
	if !strings.HasPrefix(summary, "Une traduction") {
		t.Errorf("expected model text as summary, got %q", summary)
	}
	if lang != "fr" {
		t.Errorf("expected reader language, got %q", lang)
	}
}

func TestChatPromptIncludesContext(t *testing.T) {
	articles := []articleContext{
		{Title: "T1", Summary: "S1", Content: "body text"},
	}
	history := []core.ChatMessage{
		{Author: "assistant", Message: "hello"},
		{Author: "user", Message: "tell me more"},
	}
	prompt := chatPrompt("French", "what about T1?", history, articles)

	for _, want := range []string{
		"MUST answer in French",
		"Title: T1",
		"Summary: S1",
		"Content Snippet: body text",
		"assistant: hello",
		"user: tell me more",
		"user: what about T1?\nassistant:",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedDigest(t *testing.T, st *store.Store, userID int64, n int) []int64 {
	t.Helper()
	feedID, _, _ := st.UpsertFeed("https://example.com/feed.xml", "Example Feed")
	st.Subscribe(userID, feedID, "")

	var ids []int64
	for i := 0; i < n; i++ {
		url := "https://example.com/a" + strconv.Itoa(i)
		articleID, _, _ := st.UpsertArticle(url, "Title", "body", nil)
		st.RecordOccurrence(articleID, feedID, "")
		err := st.SaveUserArticleSummary(&core.UserArticleSummary{
			UserID:         userID,
			ArticleID:      articleID,
			RelevanceScore: 0.9,
			IsRelevant:     true,
			Headline:       "Card headline",
			Bullets:        []string{"one point", "another point"},
			Language:       "en",
			Complexity:     "medium",
			Length:         core.LengthShort,
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, articleID)
	}
	return ids
}

func dialSession(t *testing.T, s *Streamer, sessionID int64, acceptLang string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		s.Handle(r.Context(), c, sessionID, r.Header.Get("Accept-Language"))
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Accept-Language": []string{acceptLang}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev map[string]any
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return ev
}

func TestStreamNewSession(t *testing.T) {
	st := openTestStore(t)
	userID, _ := st.CreateUser("alice", "", "")
	st.UpdateUserPrefs(userID, "fr", "medium", 250, []string{"tech"})
	seedDigest(t, st, userID, 3)
	sess, err := st.CreateSession(userID, 240)
	if err != nil {
		t.Fatal(err)
	}

	provider := &mockProvider{responses: []string{
		"TITLE: Titre un\nSUMMARY: Résumé un.",
		"TITLE: Titre deux\nSUMMARY: Résumé deux.",
		"TITLE: Titre trois\nSUMMARY: Résumé trois.",
		"Réponse de l'assistant.",
	}}
	s := New(st, provider, digest.New(st), vectors.New(st, provider))
	s.cardDelay = time.Millisecond

	conn := dialSession(t, s, sess.ID, "fr-FR,fr;q=0.9")

	if ev := readEvent(t, conn); ev["type"] != "message" || !strings.Contains(ev["content"].(string), "Bonjour") {
		t.Fatalf("expected French greeting, got %v", ev)
	}
	if ev := readEvent(t, conn); ev["type"] != "notification" {
		t.Fatalf("expected notification, got %v", ev)
	}
	if ev := readEvent(t, conn); ev["type"] != "progress_hide" {
		t.Fatalf("expected progress_hide, got %v", ev)
	}

	var streamed []int64
	for i := 0; i < 3; i++ {
		ev := readEvent(t, conn)
		if ev["type"] != "news_card" {
			t.Fatalf("expected news_card, got %v", ev)
		}
		article := ev["article"].(map[string]any)
		if article["lang"] != "fr" {
			t.Errorf("expected card in fr, got %v", article["lang"])
		}
		if !strings.HasPrefix(article["title"].(string), "Titre") {
			t.Errorf("expected refined title, got %v", article["title"])
		}
		streamed = append(streamed, int64(article["id"].(float64)))
	}

	if ev := readEvent(t, conn); ev["type"] != "message" || !strings.Contains(ev["content"].(string), "essentiel") {
		t.Fatalf("expected French closing, got %v", ev)
	}

	// Streamed cards are immediately marked viewed and excluded from the
	// next digest.
	candidates, err := st.UnreadCandidates(userID, 30)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range candidates {
		for _, id := range streamed {
			if c.ArticleID == id {
				t.Errorf("article %d still a candidate after streaming", id)
			}
		}
	}

	// Chat turn uses the provider and is persisted.
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText,
		[]byte(`{"type":"message","message":"Parle-moi du premier sujet"}`)); err != nil {
		t.Fatal(err)
	}
	ev := readEvent(t, conn)
	if ev["type"] != "message" || ev["author"] != "assistant" {
		t.Fatalf("expected assistant message, got %v", ev)
	}
	if ev["message"] != "Réponse de l'assistant." {
		t.Errorf("unexpected response %v", ev["message"])
	}

	msgs, _ := st.ListMessages(sess.ID)
	// closing + user + assistant
	if len(msgs) != 3 {
		t.Errorf("expected 3 stored messages, got %d", len(msgs))
	}
	updated, _ := st.GetSession(sess.ID)
	if updated.Title == "" {
		t.Error("expected session title set from first user message")
	}
}

func TestStreamReplaysHistory(t *testing.T) {
	st := openTestStore(t)
	userID, _ := st.CreateUser("alice", "", "")
	sess, _ := st.CreateSession(userID, 240)
	st.AddChatMessage(sess.ID, "assistant", "earlier digest")
	st.AddChatMessage(sess.ID, "user", "a question")

	s := New(st, &mockProvider{responses: []string{"ok"}}, digest.New(st), nil)
	conn := dialSession(t, s, sess.ID, "en")

	first := readEvent(t, conn)
	if first["type"] != "history" || first["role"] != "assistant" || first["content"] != "earlier digest" {
		t.Fatalf("unexpected first history event %v", first)
	}
	second := readEvent(t, conn)
	if second["type"] != "history" || second["role"] != "user" {
		t.Fatalf("unexpected second history event %v", second)
	}
}

func TestStreamEmptyDigest(t *testing.T) {
	st := openTestStore(t)
	userID, _ := st.CreateUser("alice", "", "")
	sess, _ := st.CreateSession(userID, 240)

	s := New(st, &mockProvider{responses: []string{"ok"}}, digest.New(st), nil)
	conn := dialSession(t, s, sess.ID, "en")

	readEvent(t, conn) // greeting
	readEvent(t, conn) // notification
	ev := readEvent(t, conn)
	if ev["type"] != "message" || !strings.Contains(ev["content"].(string), "couldn't find") {
		t.Fatalf("expected empty digest notice, got %v", ev)
	}
}

func TestRatingRecordsView(t *testing.T) {
	st := openTestStore(t)
	userID, _ := st.CreateUser("alice", "", "")
	ids := seedDigest(t, st, userID, 1)
	sess, _ := st.CreateSession(userID, 240)
	st.AddChatMessage(sess.ID, "assistant", "seed") // replay path, no digest run

	provider := &mockProvider{responses: []string{"ok"}}
	s := New(st, provider, digest.New(st), vectors.New(st, provider))
	conn := dialSession(t, s, sess.ID, "en")

	readEvent(t, conn) // history

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg := []byte(`{"type":"rate","article_id":` + strconv.FormatInt(ids[0], 10) + `,"rating":5}`)
	if err := conn.Write(writeCtx, websocket.MessageText, msg); err != nil {
		t.Fatal(err)
	}

	// The rating is handled asynchronously from this side; poll briefly.
	deadline := time.Now().Add(3 * time.Second)
	for {
		candidates, _ := st.UnreadCandidates(userID, 30)
		if len(candidates) == 0 {
			return // view recorded, article no longer a candidate
		}
		if time.Now().After(deadline) {
			t.Fatal("rating never recorded a view")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
