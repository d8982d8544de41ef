package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"readwith/internal/domain"
	"readwith/internal/integrations/paramstore"
)

const testSessionID = "6f1c2a52-8f0e-4c53-9a44-1d2b3c4d5e6f"

type mockParams struct {
	vals  map[string]string
	err   error
	calls int
}

func (m *mockParams) GetParameter(_ context.Context, name string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.vals[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", paramstore.ErrNotFound, name)
	}
	return v, nil
}

type transientParams struct {
	*mockParams
	failOnce bool
}

func (p *transientParams) GetParameter(ctx context.Context, name string) (string, error) {
	if p.failOnce {
		p.failOnce = false
		return "", errors.New("temporary ssm failure")
	}
	return p.mockParams.GetParameter(ctx, name)
}

func defaultParams() *mockParams {
	return &mockParams{
		vals: map[string]string{
			"/prefix/book_title":          "The Priory of the Orange Tree",
			"/prefix/config/openai_model": "gpt-4o",
			"/prefix/admin_password":      "s3cret",
		},
	}
}

type chatResponse struct {
	answer string
	err    error
}

// mockLLM replays responses in order and records every request.
type mockLLM struct {
	responses []chatResponse
	calls     [][]domain.ChatMessage
	models    []string
}

func (m *mockLLM) Chat(_ context.Context, model string, msgs []domain.ChatMessage) (string, error) {
	m.calls = append(m.calls, msgs)
	m.models = append(m.models, model)
	if len(m.responses) == 0 {
		return "", errors.New("no llm response configured")
	}
	idx := len(m.calls) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx].answer, m.responses[idx].err
}

func (m *mockLLM) lastCall() []domain.ChatMessage {
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

func replies(answers ...string) *mockLLM {
	m := &mockLLM{}
	for _, a := range answers {
		m.responses = append(m.responses, chatResponse{answer: a})
	}
	return m
}

type blockingLLM struct{}

func (blockingLLM) Chat(ctx context.Context, _ string, _ []domain.ChatMessage) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type blockingRetriever struct{}

func (blockingRetriever) Retrieve(ctx context.Context, _ string, _ int, _ float64) ([]domain.RetrievedChunk, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeRetriever struct {
	chunks    []domain.RetrievedChunk
	err       error
	query     string
	topK      int
	threshold float64
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, topK int, threshold float64) ([]domain.RetrievedChunk, error) {
	f.query, f.topK, f.threshold = query, topK, threshold
	return f.chunks, f.err
}

// memSessions is an in-memory SessionStore with the same conflict rule as
// the DynamoDB store.
type memSessions struct {
	snaps    map[string]*domain.SessionSnapshot
	loadErr  error
	saveErr  error
	draftErr error
}

func newMemSessions() *memSessions {
	return &memSessions{snaps: map[string]*domain.SessionSnapshot{}}
}

func (m *memSessions) LoadSession(_ context.Context, id string) (domain.SessionSnapshot, error) {
	if m.loadErr != nil {
		return domain.SessionSnapshot{}, m.loadErr
	}
	snap, ok := m.snaps[id]
	if !ok {
		return domain.SessionSnapshot{SessionID: id}, nil
	}
	return domain.SessionSnapshot{
		SessionID: id,
		Turns:     append([]domain.Turn(nil), snap.Turns...),
		Drafts:    append([]domain.FeedbackDraft(nil), snap.Drafts...),
	}, nil
}

func (m *memSessions) SaveTurn(_ context.Context, id string, turn domain.Turn) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	snap, ok := m.snaps[id]
	if !ok {
		snap = &domain.SessionSnapshot{SessionID: id}
		m.snaps[id] = snap
	}
	for _, t := range snap.Turns {
		if t.Index == turn.Index {
			return fmt.Errorf("%w: %d", domain.ErrTurnConflict, turn.Index)
		}
	}
	snap.Turns = append(snap.Turns, turn)
	return nil
}

func (m *memSessions) SaveDraft(_ context.Context, id string, draft domain.FeedbackDraft) error {
	if m.draftErr != nil {
		return m.draftErr
	}
	snap, ok := m.snaps[id]
	if !ok {
		return errors.New("no such session")
	}
	for i, d := range snap.Drafts {
		if d.TurnIndex == draft.TurnIndex {
			snap.Drafts[i] = draft
			return nil
		}
	}
	snap.Drafts = append(snap.Drafts, draft)
	return nil
}

func (m *memSessions) draft(id string, turn int) (domain.FeedbackDraft, bool) {
	snap, ok := m.snaps[id]
	if !ok {
		return domain.FeedbackDraft{}, false
	}
	for _, d := range snap.Drafts {
		if d.TurnIndex == turn {
			return d, true
		}
	}
	return domain.FeedbackDraft{}, false
}

type memFeedback struct {
	recs      []domain.FeedbackRecord
	appendErr error
	listErr   error
	updateErr error
}

func (m *memFeedback) AppendFeedback(_ context.Context, rec domain.FeedbackRecord) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memFeedback) ListFeedback(_ context.Context, status domain.Status) ([]domain.FeedbackRecord, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.FeedbackRecord
	for _, r := range m.recs {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *memFeedback) GetFeedback(_ context.Context, id string) (domain.FeedbackRecord, error) {
	for _, r := range m.recs {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.FeedbackRecord{}, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, id)
}

func (m *memFeedback) UpdateFeedbackStatus(_ context.Context, id string, status domain.Status) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	for i := range m.recs {
		if m.recs[i].ID == id {
			m.recs[i].Status = status
			return nil
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrRecordNotFound, id)
}

type memDecisions struct {
	ds        []domain.TrainerDecision
	appendErr error
}

func (m *memDecisions) AppendDecision(_ context.Context, d domain.TrainerDecision) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.ds = append(m.ds, d)
	return nil
}

func (m *memDecisions) ListDecisions(_ context.Context) ([]domain.TrainerDecision, error) {
	return append([]domain.TrainerDecision(nil), m.ds...), nil
}

func expectError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

// stubUUIDs makes newUUID return ids in order for the duration of the test.
func stubUUIDs(t *testing.T, ids ...string) {
	t.Helper()
	orig := newUUID
	i := 0
	newUUID = func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}
	t.Cleanup(func() { newUUID = orig })
}
