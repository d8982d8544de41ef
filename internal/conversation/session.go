// Package conversation holds the in-memory state of one chat session: its
// ordered turns and the feedback draft attached to each turn.
//
// A SessionContext is not safe for concurrent use. A session is mutated by one
// request at a time.
package conversation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"readwith/internal/domain"
)

var (
	// ErrNotFound is returned for a turn index outside the conversation.
	ErrNotFound = errors.New("conversation: turn not found")
	// ErrNoReply is returned when feedback is requested for a turn without a reply.
	ErrNoReply = errors.New("conversation: turn has no reply")
	// ErrEmptyFeedback is returned by NewFeedbackRecord when neither a rating nor
	// a rewrite was given.
	ErrEmptyFeedback = errors.New("select a rating or provide a rewrite")
)

// SessionContext owns the turns and feedback drafts of one session.
type SessionContext struct {
	id     string
	turns  []domain.Turn
	drafts map[int]*domain.FeedbackDraft
	now    func() time.Time
}

func New(sessionID string) *SessionContext {
	return &SessionContext{
		id:     sessionID,
		drafts: make(map[int]*domain.FeedbackDraft),
		now:    time.Now,
	}
}

// Restore rebuilds a session from its persisted snapshot. Turns must carry
// dense indexes starting at 0.
func Restore(snap domain.SessionSnapshot) (*SessionContext, error) {
	s := New(snap.SessionID)
	turns := append([]domain.Turn(nil), snap.Turns...)
	sort.Slice(turns, func(i, j int) bool { return turns[i].Index < turns[j].Index })
	for i, t := range turns {
		if t.Index != i {
			return nil, fmt.Errorf("conversation: restore %s: turn %d found at position %d", snap.SessionID, t.Index, i)
		}
	}
	s.turns = turns
	for _, d := range snap.Drafts {
		if d.TurnIndex < 0 || d.TurnIndex >= len(turns) {
			return nil, fmt.Errorf("conversation: restore %s: draft for missing turn %d", snap.SessionID, d.TurnIndex)
		}
		d := d
		s.drafts[d.TurnIndex] = &d
	}
	return s, nil
}

func (s *SessionContext) ID() string { return s.id }

func (s *SessionContext) Len() int { return len(s.turns) }

// AppendTurn records a completed exchange and returns its index.
func (s *SessionContext) AppendTurn(userMessage, aiReply string) int {
	return s.appendTurn(userMessage, aiReply, false)
}

// AppendFailedTurn records a user message whose reply could not be generated.
// errorText is shown in place of the reply.
func (s *SessionContext) AppendFailedTurn(userMessage, errorText string) int {
	return s.appendTurn(userMessage, errorText, true)
}

func (s *SessionContext) appendTurn(userMessage, aiReply string, failed bool) int {
	idx := len(s.turns)
	s.turns = append(s.turns, domain.Turn{
		Index:       idx,
		UserMessage: userMessage,
		AIReply:     aiReply,
		CreatedAt:   s.now().UTC(),
		Failed:      failed,
	})
	return idx
}

func (s *SessionContext) Turn(index int) (domain.Turn, error) {
	if index < 0 || index >= len(s.turns) {
		return domain.Turn{}, fmt.Errorf("%w: %d", ErrNotFound, index)
	}
	return s.turns[index], nil
}

// Turns returns a copy of the conversation in order.
func (s *SessionContext) Turns() []domain.Turn {
	return append([]domain.Turn(nil), s.turns...)
}

// History returns completed turns as alternating user/assistant messages.
func (s *SessionContext) History() []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, 2*len(s.turns))
	for _, t := range s.turns {
		if t.Failed {
			continue
		}
		q := strings.TrimSpace(t.UserMessage)
		a := strings.TrimSpace(t.AIReply)
		if q == "" || a == "" {
			continue
		}
		out = append(out,
			domain.ChatMessage{Role: domain.RoleUser, Content: q},
			domain.ChatMessage{Role: domain.RoleAssistant, Content: a},
		)
	}
	return out
}

// DraftFeedback returns the draft for a turn, creating a zero-valued one on
// first use.
func (s *SessionContext) DraftFeedback(index int) (*domain.FeedbackDraft, error) {
	t, err := s.Turn(index)
	if err != nil {
		return nil, err
	}
	if t.Failed || strings.TrimSpace(t.AIReply) == "" {
		return nil, fmt.Errorf("%w: %d", ErrNoReply, index)
	}
	if d, ok := s.drafts[index]; ok {
		return d, nil
	}
	d := &domain.FeedbackDraft{TurnIndex: index, Rating: domain.RatingUnrated}
	s.drafts[index] = d
	return d, nil
}

// PeekDraft returns the draft for a turn without creating one.
func (s *SessionContext) PeekDraft(index int) (domain.FeedbackDraft, bool) {
	d, ok := s.drafts[index]
	if !ok {
		return domain.FeedbackDraft{}, false
	}
	return *d, true
}

func (s *SessionContext) SetRating(index int, r domain.Rating) (*domain.FeedbackDraft, error) {
	d, err := s.DraftFeedback(index)
	if err != nil {
		return nil, err
	}
	d.Rating = r
	return d, nil
}

func (s *SessionContext) SetComment(index int, comment string) (*domain.FeedbackDraft, error) {
	d, err := s.DraftFeedback(index)
	if err != nil {
		return nil, err
	}
	d.Comment = comment
	return d, nil
}

func (s *SessionContext) SetRewrite(index int, rewrite string) (*domain.FeedbackDraft, error) {
	d, err := s.DraftFeedback(index)
	if err != nil {
		return nil, err
	}
	d.Rewrite = rewrite
	return d, nil
}

// NewFeedbackRecord validates the turn's draft and builds the pending record
// to append. The draft is not marked submitted; call MarkSubmitted once the
// record is stored. The timestamp is strictly later than the previous
// submission for the same turn.
func (s *SessionContext) NewFeedbackRecord(index int, id string) (domain.FeedbackRecord, error) {
	d, err := s.DraftFeedback(index)
	if err != nil {
		return domain.FeedbackRecord{}, err
	}
	if (d.Rating == "" || d.Rating == domain.RatingUnrated) && strings.TrimSpace(d.Rewrite) == "" {
		return domain.FeedbackRecord{}, ErrEmptyFeedback
	}
	t := s.turns[index]
	ts := s.now().UTC()
	if d.LastSubmittedAt != nil && !ts.After(*d.LastSubmittedAt) {
		ts = d.LastSubmittedAt.Add(time.Microsecond)
	}
	rating := d.Rating
	if rating == "" {
		rating = domain.RatingUnrated
	}
	return domain.FeedbackRecord{
		ID:          id,
		SessionID:   s.id,
		TurnIndex:   index,
		UserMessage: t.UserMessage,
		AIResponse:  t.AIReply,
		Rating:      rating,
		Comment:     d.Comment,
		Rewrite:     d.Rewrite,
		Status:      domain.StatusPending,
		Timestamp:   ts,
	}, nil
}

// MarkSubmitted records a successful submission on the turn's draft.
func (s *SessionContext) MarkSubmitted(rec domain.FeedbackRecord) error {
	d, err := s.DraftFeedback(rec.TurnIndex)
	if err != nil {
		return err
	}
	ts := rec.Timestamp
	d.SubmitCount++
	d.LastSubmittedAt = &ts
	return nil
}

// Snapshot returns the persisted shape of the session.
func (s *SessionContext) Snapshot() domain.SessionSnapshot {
	snap := domain.SessionSnapshot{SessionID: s.id, Turns: s.Turns()}
	for _, t := range s.turns {
		if d, ok := s.drafts[t.Index]; ok {
			snap.Drafts = append(snap.Drafts, *d)
		}
	}
	return snap
}
