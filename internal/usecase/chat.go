package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"readwith/internal/domain"
	"readwith/internal/integrations/paramstore"
	"readwith/internal/retrieval"
)

const (
	defaultMaxMessageLen     = 2000
	defaultGenerationTimeout = 60 * time.Second
	defaultRetrievalTimeout  = 10 * time.Second
	defaultOpenAIModel       = "gpt-4o"

	generationFailedText = "Sorry, I couldn't generate a reply just now. Your message is saved; please try again."
	rateLimitedText      = "Sorry, too many requests are being made right now. Please wait a moment and try again."
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// ContextRetriever returns book passages relevant to a query.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string, topK int, threshold float64) ([]domain.RetrievedChunk, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// ChatConfig holds the tunables read from the environment.
type ChatConfig struct {
	ParamPrefix       string
	MaxMessageLen     int
	TopK              int
	Threshold         float64
	GenerationTimeout time.Duration
	RetrievalTimeout  time.Duration
}

type ChatOption func(*ChatService)

// WithRetriever enables context retrieval. Without it replies are generated
// from the persona and the conversation only.
func WithRetriever(r ContextRetriever) ChatOption {
	return func(s *ChatService) {
		s.retriever = r
	}
}

func WithChatLogger(l *slog.Logger) ChatOption {
	return func(s *ChatService) {
		if l != nil {
			s.logger = l
		}
	}
}

type ChatService struct {
	params    ParamGetter
	llm       LLMClient
	sessions  SessionStore
	retriever ContextRetriever
	logger    *slog.Logger
	cfg       ChatConfig

	cacheMu     sync.RWMutex
	cacheLoaded bool
	bookTitle   string
	persona     string
	openaiModel string
}

type SendInput struct {
	SessionID string
	Message   string
}

func NewChatService(p ParamGetter, llm LLMClient, sessions SessionStore, cfg ChatConfig, opts ...ChatOption) (*ChatService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	if cfg.ParamPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if cfg.MaxMessageLen <= 0 {
		cfg.MaxMessageLen = defaultMaxMessageLen
	}
	if cfg.TopK <= 0 {
		cfg.TopK = retrieval.DefaultTopK
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = retrieval.DefaultThreshold
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = defaultGenerationTimeout
	}
	if cfg.RetrievalTimeout <= 0 {
		cfg.RetrievalTimeout = defaultRetrievalTimeout
	}
	s := &ChatService{
		params:   p,
		llm:      llm,
		sessions: sessions,
		logger:   slog.Default(),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Send appends the reply to message as the next turn. A generation failure
// is not an error: the turn is recorded with a visible error text and the
// returned view carries a Notice.
func (s *ChatService) Send(ctx context.Context, in SendInput) (View, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return View{}, newError(ErrorValidation, "empty_message", nil)
	}
	if utf8.RuneCountInString(message) > s.cfg.MaxMessageLen {
		return View{}, newError(ErrorValidation, "message_too_long", nil)
	}

	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = newUUID()
	} else {
		var err error
		if sessionID, err = validateSessionID(sessionID); err != nil {
			return View{}, err
		}
	}

	if err := s.ensureConfig(ctx); err != nil {
		return View{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	sess, err := loadSession(ctx, s.sessions, sessionID, true)
	if err != nil {
		return View{}, err
	}
	log := s.logger.With("session_id", sessionID, "turn_index", sess.Len())

	chunks := s.retrieveContext(ctx, log, message)

	messages := buildPromptMessages(promptContext{persona: s.persona, bookTitle: s.bookTitle}, chunks, sess.History(), message)
	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	reply, err := s.llm.Chat(genCtx, s.openaiModel, messages)
	cancel()
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errors.New("empty reply")
	}

	var notice *Notice
	var idx int
	if err != nil {
		notice = generationNotice(err)
		log.Warn("generation failed", "reason", notice.Reason, "err", err)
		idx = sess.AppendFailedTurn(message, notice.Message)
	} else {
		idx = sess.AppendTurn(message, reply)
	}

	turn, err := sess.Turn(idx)
	if err != nil {
		return View{}, newError(ErrorInternal, "session_error", err)
	}
	if err := s.sessions.SaveTurn(ctx, sessionID, turn); err != nil {
		log.Error("failed to save turn", "err", err)
		if errors.Is(err, domain.ErrTurnConflict) {
			return View{}, newError(ErrorStorage, "turn_conflict", err)
		}
		return View{}, newError(ErrorStorage, "session_save_error", err)
	}
	return buildView(sess, notice), nil
}

// Session returns the view of an existing session.
func (s *ChatService) Session(ctx context.Context, sessionID string) (View, error) {
	id, err := validateSessionID(sessionID)
	if err != nil {
		return View{}, err
	}
	sess, err := loadSession(ctx, s.sessions, id, false)
	if err != nil {
		return View{}, err
	}
	return buildView(sess, nil), nil
}

// retrieveContext never fails: a retrieval error or timeout is logged and
// the reply is generated without context.
func (s *ChatService) retrieveContext(ctx context.Context, log *slog.Logger, query string) []domain.RetrievedChunk {
	if s.retriever == nil {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RetrievalTimeout)
	defer cancel()
	chunks, err := s.retriever.Retrieve(rctx, query, s.cfg.TopK, s.cfg.Threshold)
	if err == nil && rctx.Err() != nil {
		err = rctx.Err()
	}
	if err != nil {
		var rerr *retrieval.Error
		if !errors.As(err, &rerr) {
			err = &retrieval.Error{Op: "retrieve", Err: err}
		}
		log.Warn("retrieval failed, answering without context", "code", ErrorRetrieval, "err", err)
		return nil
	}
	log.Debug("retrieved context", "chunks", len(chunks))
	return chunks
}

func generationNotice(err error) *Notice {
	if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
		return &Notice{Code: ErrorRateLimited, Reason: "openai_rate_limited", Message: rateLimitedText}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Notice{Code: ErrorGeneration, Reason: "openai_timeout", Message: generationFailedText}
	}
	return &Notice{Code: ErrorGeneration, Reason: "openai_error", Message: generationFailedText}
}

func (s *ChatService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	bookTitle, persona, openaiModel, err := s.loadSSMParams(ctx)
	if err != nil {
		return err
	}

	s.bookTitle = bookTitle
	s.persona = persona
	s.openaiModel = openaiModel
	s.cacheLoaded = true
	return nil
}

func (s *ChatService) loadSSMParams(ctx context.Context) (bookTitle, persona, openaiModel string, err error) {
	prefix := s.cfg.ParamPrefix

	bookTitle, err = paramstore.GetParameterOrDefault(ctx, s.params, prefix+"/book_title", defaultBookTitle)
	if err != nil {
		return "", "", "", fmt.Errorf("usecase: load book title: %w", err)
	}
	persona, err = paramstore.GetParameterOrDefault(ctx, s.params, prefix+"/persona_prompt", "")
	if err != nil {
		return "", "", "", fmt.Errorf("usecase: load persona prompt: %w", err)
	}
	openaiModel, err = paramstore.GetParameterOrDefault(ctx, s.params, prefix+"/config/openai_model", defaultOpenAIModel)
	if err != nil {
		return "", "", "", fmt.Errorf("usecase: load openai model: %w", err)
	}
	return bookTitle, persona, openaiModel, nil
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
