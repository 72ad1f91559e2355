package personalize

import (
	"context"
	"path/filepath"
	"testing"

	"newslens/internal/core"
	"newslens/internal/llm"
	"newslens/internal/store"
)

// scriptedProvider returns canned responses in order.
type scriptedProvider struct {
	responses []string
	errs      []error
	calls     int
}

func (s *scriptedProvider) Generate(_ context.Context, _ llm.Request) (*llm.Response, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.responses) {
		return &llm.Response{Content: "{}"}, nil
	}
	return &llm.Response{Content: s.responses[i], Usage: core.Usage{TotalTokens: 10}}, nil
}

func (s *scriptedProvider) Summarize(_ context.Context, _ string, _ int) (*core.Summary, error) {
	return nil, core.Errorf(core.KindLLMParse, "not implemented")
}

func (s *scriptedProvider) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, core.Errorf(core.KindLLMParse, "not implemented")
}

func (s *scriptedProvider) Model() string { return "mock" }

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func genericSummary(articleID int64) *core.ArticleSummary {
	return &core.ArticleSummary{
		ArticleID:  articleID,
		Headline:   "Generic headline",
		Bullets:    []string{"point one", "point two", "point three"},
		Details:    "details",
		Categories: []string{"technology"},
	}
}

func TestTargetLength(t *testing.T) {
	cases := []struct {
		score   float64
		bullets int
		length  string
	}{
		{0.9, 5, core.LengthLong},
		{0.81, 5, core.LengthLong},
		{0.8, 3, core.LengthMedium},
		{0.6, 3, core.LengthMedium},
		{0.5, 2, core.LengthShort},
		{0.3, 2, core.LengthShort},
	}
	for _, tc := range cases {
		b, l := TargetLength(tc.score)
		if b != tc.bullets || l != tc.length {
			t.Errorf("TargetLength(%v) = (%d, %s), want (%d, %s)", tc.score, b, l, tc.bullets, tc.length)
		}
	}
}

func TestForUserStoresRelevantSummary(t *testing.T) {
	st := openTestStore(t)
	userID, _ := st.CreateUser("alice", "", "")
	st.UpdateUserPrefs(userID, "fr", "simple", 200, []string{"tech"})
	articleID, _, _ := st.UpsertArticle("https://example.com/a", "T", "b", nil)

	provider := &scriptedProvider{responses: []string{
		`{"score": 0.9, "reasons": ["matches tech interest"]}`,
		`{"headline": "Titre personnalisé", "bullets": ["un", "deux", "trois", "quatre", "cinq"], "details": "ctx"}`,
	}}
	p := New(st, provider)

	if err := p.ForUser(context.Background(), userID, articleID, genericSummary(articleID)); err != nil {
		t.Fatalf("ForUser: %v", err)
	}

	ok, _ := st.HasUserArticleSummary(userID, articleID)
	if !ok {
		t.Fatal("expected stored personalized summary")
	}
	cands := mustCandidates(t, st, userID, articleID)
	if cands.Headline != "Titre personnalisé" {
		t.Errorf("expected personalized headline, got %q", cands.Headline)
	}
	if cands.Language != "fr" {
		t.Errorf("expected user language carried, got %q", cands.Language)
	}
	if len(cands.Bullets) != 5 {
		t.Errorf("expected 5 bullets for high score, got %d", len(cands.Bullets))
	}
}

// mustCandidates fetches the single digest candidate for the article via a
// subscription so UnreadCandidates can see it.
func mustCandidates(t *testing.T, st *store.Store, userID, articleID int64) store.DigestCandidate {
	t.Helper()
	feedID, _, _ := st.UpsertFeed("https://example.com/feed.xml", "F")
	st.Subscribe(userID, feedID, "")
	st.RecordOccurrence(articleID, feedID, "")
	cands, err := st.UnreadCandidates(userID, 30)
	if err != nil || len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d err=%v", len(cands), err)
	}
	return cands[0]
}

func TestForUserDiscardsBelowThreshold(t *testing.T) {
	st := openTestStore(t)
	userID, _ := st.CreateUser("alice", "", "")
	articleID, _, _ := st.UpsertArticle("https://example.com/a", "T", "b", nil)

	provider := &scriptedProvider{responses: []string{
		`{"score": 0.1, "reasons": ["off topic"]}`,
	}}
	p := New(st, provider)

	if err := p.ForUser(context.Background(), userID, articleID, genericSummary(articleID)); err != nil {
		t.Fatalf("ForUser: %v", err)
	}
	if ok, _ := st.HasUserArticleSummary(userID, articleID); ok {
		t.Error("summary must not be stored below the relevance threshold")
	}
	if provider.calls != 1 {
		t.Errorf("expected no summary call after discard, got %d calls", provider.calls)
	}
}

func TestEvaluateRelevanceNeutralFallback(t *testing.T) {
	st := openTestStore(t)
	p := New(st, &scriptedProvider{responses: []string{"I will not produce JSON."}})

	rel := p.EvaluateRelevance(context.Background(), genericSummary(1), &core.UserProfile{Language: "en"})
	if rel.Score != 0.5 {
		t.Errorf("expected neutral 0.5, got %v", rel.Score)
	}
}

func TestGenerateSummaryCarriesGenericOnFailure(t *testing.T) {
	st := openTestStore(t)
	provider := &scriptedProvider{errs: []error{core.Errorf(core.KindLLMHTTP, "down")}}
	p := New(st, provider)

	sum := genericSummary(1)
	ps := p.GenerateSummary(context.Background(), sum, &core.UserProfile{Language: "en", Complexity: "medium"}, 0.6)
	if ps.Headline != sum.Headline || len(ps.Bullets) != len(sum.Bullets) {
		t.Errorf("expected generic summary carried forward, got %+v", ps)
	}
	if ps.Length != core.LengthMedium {
		t.Errorf("expected medium length, got %s", ps.Length)
	}
}

func TestForAllUsersBestEffort(t *testing.T) {
	st := openTestStore(t)
	u1, _ := st.CreateUser("alice", "", "")
	u2, _ := st.CreateUser("bob", "", "")
	articleID, _, _ := st.UpsertArticle("https://example.com/a", "T", "b", nil)

	// First user's calls fail entirely; second user's succeed. Neutral
	// fallback (0.5) still stores for the first user, so distinguish via
	// stored headlines.
	provider := &scriptedProvider{
		responses: []string{
			`not json at all`,
			`also not json`,
			`{"score": 0.9, "reasons": ["r"]}`,
			`{"headline": "Bob headline", "bullets": ["a","b","c","d","e"]}`,
		},
	}
	p := New(st, provider)
	p.ForAllUsers(context.Background(), articleID, genericSummary(articleID))

	if ok, _ := st.HasUserArticleSummary(u1, articleID); !ok {
		t.Error("expected neutral-score summary stored for first user")
	}
	if ok, _ := st.HasUserArticleSummary(u2, articleID); !ok {
		t.Error("expected summary stored for second user")
	}
}
