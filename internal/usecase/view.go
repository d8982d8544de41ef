package usecase

import (
	"time"

	"readwith/internal/conversation"
	"readwith/internal/domain"
)

// View is the session state returned by every mutating operation.
type View struct {
	SessionID string     `json:"session_id"`
	Turns     []TurnView `json:"turns"`
	Notice    *Notice    `json:"notice,omitempty"`
}

type TurnView struct {
	Index       int        `json:"turn_index"`
	UserMessage string     `json:"user_message"`
	AIReply     string     `json:"ai_reply"`
	CreatedAt   time.Time  `json:"created_at"`
	Failed      bool       `json:"failed,omitempty"`
	Feedback    *DraftView `json:"feedback,omitempty"`
}

type DraftView struct {
	Rating          domain.Rating `json:"rating"`
	Comment         string        `json:"comment"`
	Rewrite         string        `json:"rewrite"`
	SubmitCount     int           `json:"submit_count"`
	LastSubmittedAt *time.Time    `json:"last_submitted_at,omitempty"`
}

// Notice is a non-fatal problem shown alongside the view.
type Notice struct {
	Code    ErrorCode `json:"code"`
	Reason  string    `json:"reason"`
	Message string    `json:"message"`
}

func buildView(s *conversation.SessionContext, notice *Notice) View {
	turns := s.Turns()
	v := View{
		SessionID: s.ID(),
		Turns:     make([]TurnView, 0, len(turns)),
		Notice:    notice,
	}
	for _, t := range turns {
		tv := TurnView{
			Index:       t.Index,
			UserMessage: t.UserMessage,
			AIReply:     t.AIReply,
			CreatedAt:   t.CreatedAt,
			Failed:      t.Failed,
		}
		if d, ok := s.PeekDraft(t.Index); ok {
			tv.Feedback = &DraftView{
				Rating:          d.Rating,
				Comment:         d.Comment,
				Rewrite:         d.Rewrite,
				SubmitCount:     d.SubmitCount,
				LastSubmittedAt: d.LastSubmittedAt,
			}
		}
		v.Turns = append(v.Turns, tv)
	}
	return v
}
