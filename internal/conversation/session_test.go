package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"readwith/internal/domain"
)

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestAppendTurn_AssignsDenseIndexes(t *testing.T) {
	s := New("sess-1")
	for i := 0; i < 5; i++ {
		idx := s.AppendTurn("q", "a")
		require.Equal(t, i, idx)
	}
	require.Equal(t, 5, s.Len())

	s.AppendTurn("Who is Sabran?", "Sabran IX is Queen of Inys.")
	turn, err := s.Turn(5)
	require.NoError(t, err)
	require.Equal(t, 5, turn.Index)
	require.Equal(t, "Who is Sabran?", turn.UserMessage)
	require.Equal(t, "Sabran IX is Queen of Inys.", turn.AIReply)
}

func TestTurn_OutOfRange(t *testing.T) {
	s := New("sess-1")
	_, err := s.Turn(0)
	require.ErrorIs(t, err, ErrNotFound)

	s.AppendTurn("q", "a")
	_, err = s.Turn(-1)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Turn(1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDraftFeedback_CreatesZeroValueOnce(t *testing.T) {
	s := New("sess-1")
	s.AppendTurn("q", "a")

	d, err := s.DraftFeedback(0)
	require.NoError(t, err)
	require.Equal(t, domain.RatingUnrated, d.Rating)
	require.Empty(t, d.Comment)

	d.Comment = "kept"
	again, err := s.DraftFeedback(0)
	require.NoError(t, err)
	require.Same(t, d, again)
	require.Equal(t, "kept", again.Comment)
}

func TestDraftFeedback_RejectsFailedTurn(t *testing.T) {
	s := New("sess-1")
	s.AppendFailedTurn("q", "ReadWith could not reply")

	_, err := s.DraftFeedback(0)
	require.ErrorIs(t, err, ErrNoReply)
	_, ok := s.PeekDraft(0)
	require.False(t, ok)
}

func TestSetters_Overwrite(t *testing.T) {
	s := New("sess-1")
	s.AppendTurn("q", "a")

	_, err := s.SetRating(0, domain.RatingDown)
	require.NoError(t, err)
	_, err = s.SetRating(0, domain.RatingUp)
	require.NoError(t, err)
	_, err = s.SetComment(0, "first")
	require.NoError(t, err)
	_, err = s.SetComment(0, "second")
	require.NoError(t, err)
	_, err = s.SetRewrite(0, "better answer")
	require.NoError(t, err)

	d, ok := s.PeekDraft(0)
	require.True(t, ok)
	require.Equal(t, domain.RatingUp, d.Rating)
	require.Equal(t, "second", d.Comment)
	require.Equal(t, "better answer", d.Rewrite)
}

func TestNewFeedbackRecord_RequiresRatingOrRewrite(t *testing.T) {
	s := New("sess-1")
	s.AppendTurn("q", "a")

	_, err := s.NewFeedbackRecord(0, "rec-1")
	require.ErrorIs(t, err, ErrEmptyFeedback)

	_, err = s.SetComment(0, "comment alone is not enough")
	require.NoError(t, err)
	_, err = s.NewFeedbackRecord(0, "rec-1")
	require.ErrorIs(t, err, ErrEmptyFeedback)

	_, err = s.SetRewrite(0, "  ")
	require.NoError(t, err)
	_, err = s.NewFeedbackRecord(0, "rec-1")
	require.ErrorIs(t, err, ErrEmptyFeedback)

	_, err = s.SetRewrite(0, "A rewrite")
	require.NoError(t, err)
	rec, err := s.NewFeedbackRecord(0, "rec-1")
	require.NoError(t, err)
	require.Equal(t, domain.RatingUnrated, rec.Rating)
	require.Equal(t, "A rewrite", rec.Rewrite)

	_, err = s.SetRewrite(0, "")
	require.NoError(t, err)
	_, err = s.SetRating(0, domain.RatingDown)
	require.NoError(t, err)
	rec, err = s.NewFeedbackRecord(0, "rec-2")
	require.NoError(t, err)
	require.Equal(t, domain.RatingDown, rec.Rating)
}

func TestNewFeedbackRecord_CopiesTurnAndSession(t *testing.T) {
	ts := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New("sess-1")
	s.now = fixedClock(ts)
	s.AppendTurn("Who is Sabran?", "Sabran IX is Queen of Inys.")
	_, err := s.SetRating(0, domain.RatingUp)
	require.NoError(t, err)
	_, err = s.SetComment(0, "great context")
	require.NoError(t, err)

	rec, err := s.NewFeedbackRecord(0, "rec-1")
	require.NoError(t, err)
	require.Equal(t, domain.FeedbackRecord{
		ID:          "rec-1",
		SessionID:   "sess-1",
		TurnIndex:   0,
		UserMessage: "Who is Sabran?",
		AIResponse:  "Sabran IX is Queen of Inys.",
		Rating:      domain.RatingUp,
		Comment:     "great context",
		Status:      domain.StatusPending,
		Timestamp:   ts,
	}, rec)
}

func TestNewFeedbackRecord_ResubmissionGetsLaterTimestamp(t *testing.T) {
	ts := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New("sess-1")
	s.now = fixedClock(ts)
	s.AppendTurn("q", "a")
	_, err := s.SetRating(0, domain.RatingUp)
	require.NoError(t, err)

	first, err := s.NewFeedbackRecord(0, "rec-1")
	require.NoError(t, err)
	require.NoError(t, s.MarkSubmitted(first))

	second, err := s.NewFeedbackRecord(0, "rec-2")
	require.NoError(t, err)
	require.True(t, second.Timestamp.After(first.Timestamp))
	require.NoError(t, s.MarkSubmitted(second))

	d, _ := s.PeekDraft(0)
	require.Equal(t, 2, d.SubmitCount)
	require.Equal(t, second.Timestamp, *d.LastSubmittedAt)
}

func TestHistory_SkipsFailedTurns(t *testing.T) {
	s := New("sess-1")
	s.AppendTurn("first", "one")
	s.AppendFailedTurn("second", "error text")
	s.AppendTurn("third", "three")

	require.Equal(t, []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "first"},
		{Role: domain.RoleAssistant, Content: "one"},
		{Role: domain.RoleUser, Content: "third"},
		{Role: domain.RoleAssistant, Content: "three"},
	}, s.History())
}

func TestSnapshotRestore(t *testing.T) {
	s := New("sess-1")
	s.AppendTurn("q0", "a0")
	s.AppendTurn("q1", "a1")
	_, err := s.SetRating(1, domain.RatingDown)
	require.NoError(t, err)

	snap := s.Snapshot()
	require.Len(t, snap.Turns, 2)
	require.Len(t, snap.Drafts, 1)

	// Stores may return turns in any order.
	snap.Turns[0], snap.Turns[1] = snap.Turns[1], snap.Turns[0]
	restored, err := Restore(snap)
	require.NoError(t, err)
	require.Equal(t, "sess-1", restored.ID())
	require.Equal(t, s.Turns(), restored.Turns())
	d, ok := restored.PeekDraft(1)
	require.True(t, ok)
	require.Equal(t, domain.RatingDown, d.Rating)
	require.Equal(t, 2, restored.AppendTurn("q2", "a2"))
}

func TestRestore_RejectsGaps(t *testing.T) {
	_, err := Restore(domain.SessionSnapshot{
		SessionID: "sess-1",
		Turns:     []domain.Turn{{Index: 0}, {Index: 2}},
	})
	require.Error(t, err)

	_, err = Restore(domain.SessionSnapshot{
		SessionID: "sess-1",
		Turns:     []domain.Turn{{Index: 0}},
		Drafts:    []domain.FeedbackDraft{{TurnIndex: 3}},
	})
	require.Error(t, err)
}
