package domain

import (
	"errors"
	"time"
)

// ErrTurnConflict is returned by session stores when a turn index has already
// been written, which means two requests raced on the same session.
var ErrTurnConflict = errors.New("turn already exists")

// Turn is one user message paired with the AI reply produced for it.
type Turn struct {
	Index       int       `json:"turn_index"`
	UserMessage string    `json:"user_message"`
	AIReply     string    `json:"ai_reply"`
	CreatedAt   time.Time `json:"created_at"`
	// Failed marks a turn whose AIReply is the error text shown in place of a
	// reply. Failed turns never collect feedback and are not replayed to the model.
	Failed bool `json:"failed,omitempty"`
}

// FeedbackDraft is the editable, not yet submitted feedback for a turn.
type FeedbackDraft struct {
	TurnIndex       int        `json:"turn_index"`
	Rating          Rating     `json:"rating"`
	Comment         string     `json:"comment"`
	Rewrite         string     `json:"rewrite"`
	SubmitCount     int        `json:"submit_count"`
	LastSubmittedAt *time.Time `json:"last_submitted_at,omitempty"`
}

// SessionSnapshot is the persisted shape of one session's conversation state.
type SessionSnapshot struct {
	SessionID string
	Turns     []Turn
	Drafts    []FeedbackDraft
}
