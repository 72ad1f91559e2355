// Package session streams a personalized press review over a WebSocket and
// carries the follow-up conversation about it.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"

	"newslens/internal/core"
	"newslens/internal/digest"
	"newslens/internal/llm"
	"newslens/internal/logger"
	"newslens/internal/store"
	"newslens/internal/vectors"
)

// cardDelay paces card delivery so the client renders progressively.
const cardDelay = 200 * time.Millisecond

// Outbound event payloads. Type discriminates on the wire.
type messageEvent struct {
	Type    string `json:"type"` // "message"
	Author  string `json:"author,omitempty"`
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

type historyEvent struct {
	Type    string `json:"type"` // "history"
	Role    string `json:"role"`
	Content string `json:"content"`
}

type notificationEvent struct {
	Type  string `json:"type"` // "notification"
	Title string `json:"title"`
	Body  string `json:"body"`
}

type progressHideEvent struct {
	Type string `json:"type"` // "progress_hide"
}

type newsCardEvent struct {
	Type    string      `json:"type"` // "news_card"
	Article cardPayload `json:"article"`
}

type cardPayload struct {
	ID      int64      `json:"id"`
	Title   string     `json:"title"`
	Summary string     `json:"summary"`
	Source  cardSource `json:"source"`
	URL     string     `json:"url"`
	Theme   string     `json:"theme"`
	Lang    string     `json:"lang"`
}

type cardSource struct {
	Name string `json:"name"`
}

// inboundEvent is what clients send: chat messages and card ratings.
type inboundEvent struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	ArticleID int64  `json:"article_id"`
	Rating    int    `json:"rating"`
}

// articleContext is what the chat loop knows about a streamed card.
type articleContext struct {
	Title   string
	Summary string
	Content string
}

// Streamer drives one WebSocket session end to end.
type Streamer struct {
	store     *store.Store
	provider  llm.Provider
	assembler *digest.Assembler
	vectors   *vectors.Updater
	cardDelay time.Duration
}

// New creates a Streamer. provider may be a disabled adapter; the chat loop
// then answers with a fixed notice and cards stream unrefined.
func New(st *store.Store, provider llm.Provider, assembler *digest.Assembler, updater *vectors.Updater) *Streamer {
	return &Streamer{
		store:     st,
		provider:  provider,
		assembler: assembler,
		vectors:   updater,
		cardDelay: cardDelay,
	}
}

// Handle runs the session protocol on an accepted connection until the peer
// disconnects. acceptLanguage is the HTTP Accept-Language header, used as the
// greeting language before the profile is known.
func (s *Streamer) Handle(ctx context.Context, conn *websocket.Conn, sessionID int64, acceptLanguage string) {
	sess, err := s.store.GetSession(sessionID)
	if err != nil {
		logger.Error("loading session", err, "session_id", sessionID)
		conn.Close(websocket.StatusPolicyViolation, "unknown session")
		return
	}
	history, err := s.store.ListMessages(sessionID)
	if err != nil {
		logger.Error("loading session history", err, "session_id", sessionID)
		conn.Close(websocket.StatusInternalError, "history unavailable")
		return
	}

	lang := PrimaryLanguage(acceptLanguage)
	logger.Info("websocket connected", "session_id", sessionID, "user_id", sess.UserID, "lang", lang)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Single writer: every event funnels through out so the digest goroutine
	// and the chat loop never write to the socket concurrently.
	out := make(chan any, 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for ev := range out {
			data, err := json.Marshal(ev)
			if err != nil {
				logger.Error("encoding event", err, "session_id", sessionID)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				logger.Warn("websocket write failed", "session_id", sessionID, "error", err.Error())
				cancel()
				return
			}
		}
	}()

	// send drops events once the connection is gone instead of blocking a
	// producer on a full channel forever.
	send := func(ev any) {
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}

	shared := &sharedContext{}
	var producers sync.WaitGroup

	if len(history) == 0 {
		send(messageEvent{Type: "message", Content: greeting(lang)})
		producers.Add(1)
		go func() {
			defer producers.Done()
			s.streamDigest(ctx, sess, lang, send, shared)
		}()
	} else {
		for _, m := range history {
			role := "assistant"
			if m.Author == "user" {
				role = "user"
			}
			send(historyEvent{Type: "history", Role: role, Content: m.Message})
		}
	}

	s.readLoop(ctx, conn, sess, send, shared)

	cancel()
	producers.Wait()
	close(out)
	<-writerDone
}

// sharedContext accumulates streamed cards for the chat loop.
type sharedContext struct {
	mu       sync.Mutex
	articles []articleContext
}

func (c *sharedContext) add(a articleContext) {
	c.mu.Lock()
	c.articles = append(c.articles, a)
	c.mu.Unlock()
}

func (c *sharedContext) snapshot() []articleContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]articleContext, len(c.articles))
	copy(out, c.articles)
	return out
}

// streamDigest assembles the press review and streams it card by card,
// recording each card as viewed the moment it is sent.
func (s *Streamer) streamDigest(ctx context.Context, sess *core.Session, acceptLang string, send func(any), shared *sharedContext) {
	send(notificationEvent{Type: "notification", Title: "NewsLens", Body: notificationBody(acceptLang)})

	// The stored profile language wins over the Accept-Language guess.
	lang := acceptLang
	if profile, err := s.store.LoadProfile(sess.UserID); err == nil && profile.Language != "" {
		lang = profile.Language
	}

	duration := time.Duration(sess.DurationSeconds) * time.Second
	if duration <= 0 {
		duration = 20 * time.Minute
	}

	cards, err := s.assembler.Assemble(sess.UserID, duration)
	if err != nil {
		logger.Error("assembling digest", err, "session_id", sess.ID, "user_id", sess.UserID)
		send(messageEvent{Type: "message", Content: digestFailedMsg})
		return
	}
	if len(cards) == 0 {
		send(messageEvent{Type: "message", Content: emptyDigestMsg})
		return
	}

	send(progressHideEvent{Type: "progress_hide"})

	for _, card := range cards {
		if ctx.Err() != nil {
			return
		}
		title, summary, cardLang := refine(ctx, s.provider, card, lang)

		shared.add(articleContext{Title: title, Summary: summary, Content: card.Details})

		theme := card.FeedTitle
		if theme == "" {
			theme = "News"
		}
		source := card.FeedTitle
		if source == "" {
			source = "Unknown"
		}
		send(newsCardEvent{Type: "news_card", Article: cardPayload{
			ID:      card.ArticleID,
			Title:   title,
			Summary: summary,
			Source:  cardSource{Name: source},
			URL:     card.URL,
			Theme:   theme,
			Lang:    cardLang,
		}})

		if err := s.store.RecordView(sess.UserID, card.ArticleID, &sess.ID); err != nil {
			logger.Warn("recording view", "article_id", card.ArticleID, "error", err.Error())
		}

		select {
		case <-time.After(s.cardDelay):
		case <-ctx.Done():
			return
		}
	}

	done := closing(acceptLang)
	if _, err := s.store.AddChatMessage(sess.ID, "assistant", done); err != nil {
		logger.Warn("storing closing message", "session_id", sess.ID, "error", err.Error())
	}
	send(messageEvent{Type: "message", Content: done})
}

// readLoop consumes client frames until disconnect: ratings update the view
// and the interest vector, anything else is a chat turn.
func (s *Streamer) readLoop(ctx context.Context, conn *websocket.Conn, sess *core.Session, send func(any), shared *sharedContext) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			logger.Info("websocket closed", "session_id", sess.ID, "reason", err.Error())
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var in inboundEvent
		if err := json.Unmarshal(data, &in); err != nil {
			in = inboundEvent{Type: "message", Message: string(data)}
		}

		switch in.Type {
		case "rate":
			s.handleRating(sess.UserID, in)
		case "message", "":
			text := in.Message
			if text == "" {
				text = string(data)
			}
			s.handleChat(ctx, sess, text, send, shared)
		default:
			logger.Warn("unknown client event", "session_id", sess.ID, "type", in.Type)
		}
	}
}

func (s *Streamer) handleRating(userID int64, in inboundEvent) {
	if in.ArticleID == 0 {
		return
	}
	logger.Info("article rated", "user_id", userID, "article_id", in.ArticleID, "rating", in.Rating)
	if err := s.store.RateView(userID, in.ArticleID, in.Rating); err != nil {
		logger.Error("storing rating", err, "article_id", in.ArticleID)
		return
	}
	if s.vectors != nil {
		if err := s.vectors.ApplyInteraction(userID, in.ArticleID, vectors.WeightRate); err != nil {
			logger.Warn("applying rating to interest vector", "article_id", in.ArticleID, "error", err.Error())
		}
	}
}

func (s *Streamer) handleChat(ctx context.Context, sess *core.Session, text string, send func(any), shared *sharedContext) {
	if _, err := s.store.AddChatMessage(sess.ID, "user", text); err != nil {
		logger.Error("storing user message", err, "session_id", sess.ID)
		return
	}
	if sess.Title == "" {
		sess.Title = sessionTitle(text)
		if err := s.store.SetSessionTitle(sess.ID, sess.Title); err != nil {
			logger.Warn("setting session title", "session_id", sess.ID, "error", err.Error())
		}
	}

	response, err := s.chatResponse(ctx, sess, text, shared.snapshot())
	if err != nil {
		logger.Error("chat generation failed", err, "session_id", sess.ID)
		response = chatFailedMsg
	}

	if _, err := s.store.AddChatMessage(sess.ID, "assistant", response); err != nil {
		logger.Error("storing assistant message", err, "session_id", sess.ID)
	}
	send(messageEvent{Type: "message", Author: "assistant", Message: response})
}

// sessionTitle derives a list title from the first user message.
func sessionTitle(text string) string {
	r := []rune(text)
	if len(r) > 60 {
		return string(r[:60]) + "..."
	}
	return text
}
