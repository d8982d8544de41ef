package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"readwith/internal/conversation"
	"readwith/internal/domain"
)

// SessionStore persists conversation state between requests.
type SessionStore interface {
	LoadSession(ctx context.Context, sessionID string) (domain.SessionSnapshot, error)
	SaveTurn(ctx context.Context, sessionID string, turn domain.Turn) error
	SaveDraft(ctx context.Context, sessionID string, draft domain.FeedbackDraft) error
}

func validateSessionID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", newError(ErrorValidation, "empty_session_id", nil)
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", newError(ErrorValidation, "invalid_session_id", err)
	}
	return id, nil
}

// loadSession restores a stored session. A session with no turns is
// reported as not found unless allowEmpty is set.
func loadSession(ctx context.Context, store SessionStore, id string, allowEmpty bool) (*conversation.SessionContext, error) {
	snap, err := store.LoadSession(ctx, id)
	if err != nil {
		return nil, newError(ErrorStorage, "session_load_error", err)
	}
	snap.SessionID = id
	if len(snap.Turns) == 0 && !allowEmpty {
		return nil, newError(ErrorNotFound, "session_not_found", nil)
	}
	sess, err := conversation.Restore(snap)
	if err != nil {
		return nil, newError(ErrorInternal, "session_corrupt", err)
	}
	return sess, nil
}

// turnError classifies errors from the conversation package.
func turnError(err error) error {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		return newError(ErrorNotFound, "turn_not_found", err)
	case errors.Is(err, conversation.ErrNoReply):
		return newError(ErrorValidation, "turn_has_no_reply", err)
	case errors.Is(err, conversation.ErrEmptyFeedback):
		return newError(ErrorValidation, "empty_feedback", err)
	}
	return newError(ErrorInternal, "session_error", err)
}

var newUUID = func() string {
	return uuid.NewString()
}
