package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"arxivchat/internal/models"
	"arxivchat/internal/prompts"
	"arxivchat/internal/providers"
	"arxivchat/internal/util"

	"github.com/google/uuid"
)

var ErrEmptyQuery = errors.New("empty query")

type PaperReader interface {
	GetPaper(ctx context.Context, paperID string) (models.Paper, error)
}

type TurnStore interface {
	AppendTurns(ctx context.Context, userID, paperID string, turns []models.ConversationTurn) error
	ListTurns(ctx context.Context, userID, paperID string, limit int) ([]models.ConversationTurn, error)
	DeleteTurns(ctx context.Context, userID, paperID string) error
}

type Retriever interface {
	Retrieve(ctx context.Context, paperID, query string, k int) ([]models.ChunkResult, error)
}

type Completer interface {
	Complete(ctx context.Context, paperID string, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error)
}

type Options struct {
	HistoryWindow int
	ContextTurns  int
	PromptBudget  int
	TopK          int
	MaxTokens     int
	LLMTimeout    time.Duration
	FollowUps     int
	Logger        *slog.Logger
}

// Answer is the result of one chat turn.
type Answer struct {
	Text        string               `json:"text"`
	Citations   []models.ChunkResult `json:"citations"`
	Chunks      []models.ChunkResult `json:"chunks"`
	Degraded    bool                 `json:"degraded"`
	HistoryUsed int                  `json:"history_used"`
}

// Service runs chat sessions. Turns touching one user's history of a paper
// are serialized through the Locker; other conversations proceed in parallel.
type Service struct {
	papers   PaperReader
	turns    TurnStore
	retr     Retriever
	llm      Completer
	sessions SessionStore
	locks    Locker
	opts     Options
	log      *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

func NewService(papers PaperReader, turns TurnStore, retr Retriever, llm Completer, sessions SessionStore, locks Locker, opts Options) *Service {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 20
	}
	if opts.ContextTurns < 0 {
		opts.ContextTurns = 0
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.LLMTimeout <= 0 {
		opts.LLMTimeout = 60 * time.Second
	}
	if opts.FollowUps <= 0 {
		opts.FollowUps = 3
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		papers:   papers,
		turns:    turns,
		retr:     retr,
		llm:      llm,
		sessions: sessions,
		locks:    locks,
		opts:     opts,
		log:      opts.Logger,
		now:      time.Now,
		inflight: map[string]context.CancelFunc{},
	}
}

// Open starts a session for userID on paperID. Persisted history from earlier
// sessions on the same paper carries over.
func (s *Service) Open(ctx context.Context, userID, paperID string) (*models.ChatSession, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}
	if _, err := s.papers.GetPaper(ctx, paperID); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	sess := &models.ChatSession{
		SessionID: uuid.NewString(),
		UserID:    userID,
		PaperID:   paperID,
		State:     models.SessionAwaitingQuery,
		OpenedAt:  now,
		UpdatedAt: now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("open session: %w: %v", util.ErrExternalUnavailable, err)
	}
	s.log.Info("chat session opened", "session_id", sess.SessionID, "paper_id", paperID)
	return sess, nil
}

// Get returns the live session or util.ErrSessionClosed.
func (s *Service) Get(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, util.ErrNotFound) {
		return nil, util.ErrSessionClosed
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w: %v", util.ErrExternalUnavailable, err)
	}
	return sess, nil
}

// Ask answers query within the session. On any failure the persisted
// history is left exactly as it was.
func (s *Service) Ask(ctx context.Context, sessionID, query string) (Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Answer{}, ErrEmptyQuery
	}
	unlock, err := s.lockHistory(ctx, sessionID)
	if err != nil {
		return Answer{}, err
	}
	defer unlock()

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return Answer{}, err
	}
	turnCtx, cancel := context.WithCancel(ctx)
	s.track(sessionID, cancel)
	defer s.untrack(sessionID)
	defer func() {
		if sess.State != models.SessionIdle {
			s.settle(context.WithoutCancel(ctx), sess)
		}
	}()

	if sess.State != models.SessionAwaitingQuery {
		if sess.State != models.SessionIdle {
			// Left behind by a turn that died without settling.
			s.log.Warn("resetting stale session state", "session_id", sessionID, "state", sess.State)
			sess.State = models.SessionIdle
		}
		if err := s.transition(ctx, sess, models.SessionAwaitingQuery); err != nil {
			return Answer{}, err
		}
	}
	paper, err := s.papers.GetPaper(ctx, sess.PaperID)
	if err != nil {
		return Answer{}, err
	}
	history, err := s.turns.ListTurns(ctx, sess.UserID, sess.PaperID, s.opts.HistoryWindow)
	if err != nil {
		return Answer{}, fmt.Errorf("load history: %w: %v", util.ErrExternalUnavailable, err)
	}

	if err := s.transition(ctx, sess, models.SessionRetrieving); err != nil {
		return Answer{}, err
	}
	chunks, err := s.retr.Retrieve(turnCtx, sess.PaperID, retrievalQuery(history, query, s.opts.ContextTurns), s.opts.TopK)
	if turnCtx.Err() != nil && ctx.Err() == nil {
		return Answer{}, util.ErrSessionClosed
	}
	degraded := false
	if err != nil {
		s.log.Warn("retrieval unavailable, answering without excerpts", "session_id", sessionID, "paper_id", sess.PaperID, "err", err)
		chunks, degraded = nil, true
	} else if len(chunks) == 0 {
		degraded = true
	}

	if err := s.transition(ctx, sess, models.SessionGenerating); err != nil {
		return Answer{}, err
	}
	req, history, chunks := buildRequest(paper, history, chunks, query, degraded, s.opts.PromptBudget)
	req.MaxTokens = s.opts.MaxTokens
	llmCtx, llmCancel := context.WithTimeout(turnCtx, s.opts.LLMTimeout)
	resp, _, err := s.llm.Complete(llmCtx, sess.PaperID, req)
	llmCancel()
	if turnCtx.Err() != nil && ctx.Err() == nil {
		return Answer{}, util.ErrSessionClosed
	}
	if err != nil {
		if !errors.Is(err, util.ErrExternalUnavailable) {
			err = fmt.Errorf("%w: %v", util.ErrExternalUnavailable, err)
		}
		return Answer{}, fmt.Errorf("generate answer: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return Answer{}, fmt.Errorf("generate answer: empty completion: %w", util.ErrMalformedResponse)
	}

	// The session may have been closed by another replica while generating.
	if current, err := s.sessions.Get(ctx, sessionID); err != nil || current.State == models.SessionClosed {
		return Answer{}, util.ErrSessionClosed
	}
	// A local Close cancels turnCtx before deleting the session; the write
	// rolls back if that lands mid-transaction.
	if turnCtx.Err() != nil {
		return Answer{}, util.ErrSessionClosed
	}
	now := s.now().UTC()
	if err := s.turns.AppendTurns(turnCtx, sess.UserID, sess.PaperID, []models.ConversationTurn{
		{TurnID: uuid.NewString(), Role: models.RoleUser, Content: query, CreatedAt: now},
		{TurnID: uuid.NewString(), Role: models.RoleAssistant, Content: text, CreatedAt: now},
	}); err != nil {
		if turnCtx.Err() != nil && ctx.Err() == nil {
			return Answer{}, util.ErrSessionClosed
		}
		return Answer{}, fmt.Errorf("save turns: %w: %v", util.ErrExternalUnavailable, err)
	}
	sess.Turns += 2
	if err := s.transition(ctx, sess, models.SessionIdle); err != nil {
		s.log.Warn("session state not saved", "session_id", sessionID, "err", err)
	}

	return Answer{
		Text:        text,
		Citations:   cited(text, chunks),
		Chunks:      chunks,
		Degraded:    degraded,
		HistoryUsed: len(history),
	}, nil
}

// lockHistory serializes writers of the conversation a session belongs to.
// History is shared by every session of one user on one paper, so the key
// is (user, paper) rather than the session id.
func (s *Service) lockHistory(ctx context.Context, sessionID string) (func(), error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.locks.Lock(ctx, "chat:"+sess.UserID+":"+sess.PaperID)
}

// Close ends the session. An answer still being generated is discarded.
func (s *Service) Close(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	cancel, ok := s.inflight[sessionID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("close session: %w: %v", util.ErrExternalUnavailable, err)
	}
	s.log.Info("chat session closed", "session_id", sessionID, "in_flight", ok)
	return nil
}

// History returns every persisted turn for the session's user and paper.
func (s *Service) History(ctx context.Context, sessionID string) ([]models.ConversationTurn, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	turns, err := s.turns.ListTurns(ctx, sess.UserID, sess.PaperID, 0)
	if err != nil {
		return nil, fmt.Errorf("load history: %w: %v", util.ErrExternalUnavailable, err)
	}
	return turns, nil
}

// ClearHistory drops the persisted conversation for the session's paper.
func (s *Service) ClearHistory(ctx context.Context, sessionID string) error {
	unlock, err := s.lockHistory(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.turns.DeleteTurns(ctx, sess.UserID, sess.PaperID); err != nil {
		return fmt.Errorf("clear history: %w: %v", util.ErrExternalUnavailable, err)
	}
	sess.Turns = 0
	return s.sessions.Update(ctx, sess)
}

// SuggestFollowUps asks the LLM for follow-up questions on the recent
// conversation. Output that does not validate is util.ErrMalformedResponse.
func (s *Service) SuggestFollowUps(ctx context.Context, sessionID string) ([]string, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	history, err := s.turns.ListTurns(ctx, sess.UserID, sess.PaperID, s.opts.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("load history: %w: %v", util.ErrExternalUnavailable, err)
	}
	paper, err := s.papers.GetPaper(ctx, sess.PaperID)
	if err != nil {
		return nil, err
	}
	last := ""
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleAssistant {
			last = history[i].Content
			break
		}
	}
	llmCtx, cancel := context.WithTimeout(ctx, s.opts.LLMTimeout)
	defer cancel()
	resp, _, err := s.llm.Complete(llmCtx, sess.PaperID, providers.GenerateRequest{
		Operation: providers.OpChatFollowUps,
		System:    prompts.PaperSystem(paper),
		Prompt:    prompts.FollowUps(history, last, s.opts.FollowUps),
		MaxTokens: s.opts.MaxTokens,
		Format:    providers.FormatStructured,
	})
	if err != nil {
		return nil, fmt.Errorf("suggest follow-ups: %w", err)
	}
	return prompts.ParseQuestions(resp.Text, s.opts.FollowUps)
}

var transitions = map[models.SessionState][]models.SessionState{
	models.SessionIdle:          {models.SessionAwaitingQuery},
	models.SessionAwaitingQuery: {models.SessionRetrieving, models.SessionIdle},
	models.SessionRetrieving:    {models.SessionGenerating, models.SessionIdle},
	models.SessionGenerating:    {models.SessionIdle},
}

func canTransition(from, to models.SessionState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s *Service) transition(ctx context.Context, sess *models.ChatSession, to models.SessionState) error {
	if !canTransition(sess.State, to) {
		return fmt.Errorf("session %s: invalid transition %s -> %s", sess.SessionID, sess.State, to)
	}
	prev := sess.State
	sess.State = to
	sess.UpdatedAt = s.now().UTC()
	if err := s.sessions.Update(ctx, sess); err != nil {
		sess.State = prev
		if errors.Is(err, util.ErrNotFound) {
			return util.ErrSessionClosed
		}
		return fmt.Errorf("save session state: %w: %v", util.ErrExternalUnavailable, err)
	}
	return nil
}

// settle returns a session to Idle after a failed turn.
func (s *Service) settle(ctx context.Context, sess *models.ChatSession) {
	sess.State = models.SessionIdle
	sess.UpdatedAt = s.now().UTC()
	if err := s.sessions.Update(ctx, sess); err != nil && !errors.Is(err, util.ErrNotFound) {
		s.log.Warn("reset session state failed", "session_id", sess.SessionID, "err", err)
	}
}

func (s *Service) track(sessionID string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.inflight[sessionID] = cancel
	s.mu.Unlock()
}

func (s *Service) untrack(sessionID string) {
	s.mu.Lock()
	if cancel, ok := s.inflight[sessionID]; ok {
		cancel()
		delete(s.inflight, sessionID)
	}
	s.mu.Unlock()
}

// retrievalQuery folds the last n user turns into the query so follow-ups
// like "why?" still retrieve on topic.
func retrievalQuery(history []models.ConversationTurn, query string, n int) string {
	if n <= 0 {
		return query
	}
	prior := make([]string, 0, n)
	for i := len(history) - 1; i >= 0 && len(prior) < n; i-- {
		if history[i].Role == models.RoleUser {
			prior = append(prior, history[i].Content)
		}
	}
	if len(prior) == 0 {
		return query
	}
	parts := make([]string, 0, len(prior)+1)
	for i := len(prior) - 1; i >= 0; i-- {
		parts = append(parts, prior[i])
	}
	return strings.Join(append(parts, query), "\n")
}

func cited(answer string, chunks []models.ChunkResult) []models.ChunkResult {
	idx := prompts.CitedIndexes(answer, len(chunks))
	out := make([]models.ChunkResult, 0, len(idx))
	for _, i := range idx {
		out = append(out, chunks[i])
	}
	return out
}
