package domain

import (
	"errors"
	"strings"
	"time"
)

// ErrRecordNotFound is returned by record stores when an id does not exist.
var ErrRecordNotFound = errors.New("record not found")

type Rating string

const (
	RatingUnrated Rating = "unrated"
	RatingUp      Rating = "up"
	RatingDown    Rating = "down"
)

// ParseRating accepts the stored and the wire spellings. An empty string is unrated.
func ParseRating(s string) (Rating, bool) {
	switch Rating(strings.ToLower(strings.TrimSpace(s))) {
	case "", RatingUnrated:
		return RatingUnrated, true
	case RatingUp:
		return RatingUp, true
	case RatingDown:
		return RatingDown, true
	}
	return "", false
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusApproved, StatusRejected:
		return st, true
	}
	return "", false
}

// FeedbackRecord is one submitted feedback row. Records are append-only; only
// Status is ever changed after the write.
type FeedbackRecord struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	TurnIndex   int       `json:"turn_index"`
	UserMessage string    `json:"user_message"`
	AIResponse  string    `json:"ai_response"`
	Rating      Rating    `json:"rating"`
	Comment     string    `json:"comment,omitempty"`
	Rewrite     string    `json:"rewrite,omitempty"`
	Status      Status    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

type Decision string

const (
	DecisionAIResponse Decision = "ai_response"
	DecisionRewrite    Decision = "rewrite"
	DecisionNeither    Decision = "neither"
)

func ParseDecision(s string) (Decision, bool) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(s))); d {
	case DecisionAIResponse, DecisionRewrite, DecisionNeither:
		return d, true
	}
	return "", false
}

// TrainerDecision records a reviewer's judgement of an AI reply against the
// user's rewrite and the reviewer's own version.
type TrainerDecision struct {
	ID             string    `json:"id"`
	FeedbackID     string    `json:"feedback_id"`
	SessionID      string    `json:"session_id"`
	Prompt         string    `json:"prompt"`
	AIResponse     string    `json:"ai_response"`
	UserRewrite    string    `json:"user_rewrite"`
	TrainerRewrite string    `json:"trainer_rewrite"`
	Decision       Decision  `json:"decision"`
	Notes          string    `json:"notes"`
	Timestamp      time.Time `json:"timestamp"`
}

// FeedbackSummary counts submitted records per status.
type FeedbackSummary struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}
