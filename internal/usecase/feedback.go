package usecase

import (
	"context"
	"errors"
	"log/slog"

	"readwith/internal/domain"
)

// FeedbackStore is the durable, append-only record store. Both the DynamoDB
// table and the local CSV file implement it.
type FeedbackStore interface {
	AppendFeedback(ctx context.Context, rec domain.FeedbackRecord) error
	ListFeedback(ctx context.Context, status domain.Status) ([]domain.FeedbackRecord, error)
	GetFeedback(ctx context.Context, id string) (domain.FeedbackRecord, error)
	UpdateFeedbackStatus(ctx context.Context, id string, status domain.Status) error
}

// DraftUpdate carries the draft fields to overwrite. Nil fields are left as they are.
type DraftUpdate struct {
	Rating  *string
	Comment *string
	Rewrite *string
}

type SubmitOutput struct {
	RecordID string
	View     View
}

type FeedbackService struct {
	sessions SessionStore
	records  FeedbackStore
	logger   *slog.Logger
}

func NewFeedbackService(sessions SessionStore, records FeedbackStore, logger *slog.Logger) (*FeedbackService, error) {
	if sessions == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if records == nil {
		return nil, errors.New("usecase: feedback store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedbackService{sessions: sessions, records: records, logger: logger}, nil
}

// UpdateDraft overwrites the given draft fields of a turn and persists the draft.
func (s *FeedbackService) UpdateDraft(ctx context.Context, sessionID string, turnIndex int, u DraftUpdate) (View, error) {
	id, err := validateSessionID(sessionID)
	if err != nil {
		return View{}, err
	}
	var rating domain.Rating
	if u.Rating != nil {
		r, ok := domain.ParseRating(*u.Rating)
		if !ok {
			return View{}, newError(ErrorValidation, "invalid_rating", nil)
		}
		rating = r
	}

	sess, err := loadSession(ctx, s.sessions, id, false)
	if err != nil {
		return View{}, err
	}
	draft, err := sess.DraftFeedback(turnIndex)
	if err != nil {
		return View{}, turnError(err)
	}
	if u.Rating != nil {
		if _, err := sess.SetRating(turnIndex, rating); err != nil {
			return View{}, turnError(err)
		}
	}
	if u.Comment != nil {
		if _, err := sess.SetComment(turnIndex, *u.Comment); err != nil {
			return View{}, turnError(err)
		}
	}
	if u.Rewrite != nil {
		if _, err := sess.SetRewrite(turnIndex, *u.Rewrite); err != nil {
			return View{}, turnError(err)
		}
	}

	if err := s.sessions.SaveDraft(ctx, id, *draft); err != nil {
		s.logger.Error("failed to save feedback draft", "session_id", id, "turn_index", turnIndex, "err", err)
		return View{}, newError(ErrorStorage, "draft_save_error", err)
	}
	return buildView(sess, nil), nil
}

func (s *FeedbackService) SetRating(ctx context.Context, sessionID string, turnIndex int, rating string) (View, error) {
	return s.UpdateDraft(ctx, sessionID, turnIndex, DraftUpdate{Rating: &rating})
}

func (s *FeedbackService) SetComment(ctx context.Context, sessionID string, turnIndex int, comment string) (View, error) {
	return s.UpdateDraft(ctx, sessionID, turnIndex, DraftUpdate{Comment: &comment})
}

func (s *FeedbackService) SetRewrite(ctx context.Context, sessionID string, turnIndex int, rewrite string) (View, error) {
	return s.UpdateDraft(ctx, sessionID, turnIndex, DraftUpdate{Rewrite: &rewrite})
}

// Submit appends a pending record built from the turn's draft. Every call
// appends a new record. When the append fails the draft is left unchanged so
// the submission can be retried.
func (s *FeedbackService) Submit(ctx context.Context, sessionID string, turnIndex int) (SubmitOutput, error) {
	id, err := validateSessionID(sessionID)
	if err != nil {
		return SubmitOutput{}, err
	}
	sess, err := loadSession(ctx, s.sessions, id, false)
	if err != nil {
		return SubmitOutput{}, err
	}
	rec, err := sess.NewFeedbackRecord(turnIndex, newUUID())
	if err != nil {
		return SubmitOutput{}, turnError(err)
	}

	log := s.logger.With("session_id", id, "turn_index", turnIndex, "record_id", rec.ID)
	if err := s.records.AppendFeedback(ctx, rec); err != nil {
		log.Error("failed to append feedback", "err", err)
		return SubmitOutput{}, newError(ErrorStorage, "feedback_write_error", err)
	}

	if err := sess.MarkSubmitted(rec); err != nil {
		return SubmitOutput{}, turnError(err)
	}
	if draft, ok := sess.PeekDraft(turnIndex); ok {
		// The record is already stored; a failed draft write is only logged.
		if err := s.sessions.SaveDraft(ctx, id, draft); err != nil {
			log.Warn("feedback stored but draft not updated", "err", err)
		}
	}
	log.Info("feedback submitted", "rating", rec.Rating)
	return SubmitOutput{RecordID: rec.ID, View: buildView(sess, nil)}, nil
}
