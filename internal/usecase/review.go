package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"readwith/internal/domain"
	"readwith/internal/feedbackcsv"
)

// DecisionStore appends and lists trainer decisions.
type DecisionStore interface {
	AppendDecision(ctx context.Context, d domain.TrainerDecision) error
	ListDecisions(ctx context.Context) ([]domain.TrainerDecision, error)
}

type DecisionInput struct {
	FeedbackID     string
	Decision       string
	TrainerRewrite string
	Notes          string
}

// ReviewService lets a reviewer triage submitted feedback. Transitions are
// last-writer-wins and may be repeated on an already decided record.
type ReviewService struct {
	params      ParamGetter
	records     FeedbackStore
	decisions   DecisionStore
	paramPrefix string
	logger      *slog.Logger

	cacheMu       sync.RWMutex
	adminPassword string
}

var now = time.Now

func NewReviewService(p ParamGetter, records FeedbackStore, decisions DecisionStore, paramPrefix string, logger *slog.Logger) (*ReviewService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if records == nil {
		return nil, errors.New("usecase: feedback store must not be nil")
	}
	if decisions == nil {
		return nil, errors.New("usecase: decision store must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewService{
		params:      p,
		records:     records,
		decisions:   decisions,
		paramPrefix: paramPrefix,
		logger:      logger,
	}, nil
}

func parseStatusFilter(raw string) (domain.Status, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	st, ok := domain.ParseStatus(raw)
	if !ok {
		return "", newError(ErrorValidation, "invalid_status", nil)
	}
	return st, nil
}

// List returns records with the given status, or all records for an empty
// filter, most recent first.
func (s *ReviewService) List(ctx context.Context, status string) ([]domain.FeedbackRecord, error) {
	st, err := parseStatusFilter(status)
	if err != nil {
		return nil, err
	}
	recs, err := s.records.ListFeedback(ctx, st)
	if err != nil {
		return nil, newError(ErrorStorage, "feedback_read_error", err)
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Timestamp.After(recs[j].Timestamp) })
	return recs, nil
}

// Transition sets the status of one record. Only approved and rejected are
// valid targets.
func (s *ReviewService) Transition(ctx context.Context, recordID, status string) error {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return newError(ErrorValidation, "empty_record_id", nil)
	}
	st, ok := domain.ParseStatus(status)
	if !ok || st == domain.StatusPending {
		return newError(ErrorValidation, "invalid_transition", nil)
	}
	if err := s.records.UpdateFeedbackStatus(ctx, recordID, st); err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return newError(ErrorNotFound, "record_not_found", err)
		}
		s.logger.Error("failed to update feedback status", "record_id", recordID, "status", st, "err", err)
		return newError(ErrorStorage, "feedback_write_error", err)
	}
	s.logger.Info("feedback reviewed", "record_id", recordID, "status", st)
	return nil
}

// Export writes the matching records as CSV.
func (s *ReviewService) Export(ctx context.Context, status string, w io.Writer) error {
	recs, err := s.List(ctx, status)
	if err != nil {
		return err
	}
	if err := feedbackcsv.Write(w, recs); err != nil {
		return newError(ErrorInternal, "export_error", err)
	}
	return nil
}

func (s *ReviewService) Summary(ctx context.Context) (domain.FeedbackSummary, error) {
	recs, err := s.List(ctx, "")
	if err != nil {
		return domain.FeedbackSummary{}, err
	}
	sum := domain.FeedbackSummary{Total: len(recs)}
	for _, rec := range recs {
		switch rec.Status {
		case domain.StatusPending:
			sum.Pending++
		case domain.StatusApproved:
			sum.Approved++
		case domain.StatusRejected:
			sum.Rejected++
		}
	}
	return sum, nil
}

// RecordDecision appends a trainer decision about a submitted record. A blank
// trainer rewrite defaults to the user's rewrite.
func (s *ReviewService) RecordDecision(ctx context.Context, in DecisionInput) (domain.TrainerDecision, error) {
	feedbackID := strings.TrimSpace(in.FeedbackID)
	if feedbackID == "" {
		return domain.TrainerDecision{}, newError(ErrorValidation, "empty_record_id", nil)
	}
	decision, ok := domain.ParseDecision(in.Decision)
	if !ok {
		return domain.TrainerDecision{}, newError(ErrorValidation, "invalid_decision", nil)
	}
	rec, err := s.records.GetFeedback(ctx, feedbackID)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return domain.TrainerDecision{}, newError(ErrorNotFound, "record_not_found", err)
		}
		return domain.TrainerDecision{}, newError(ErrorStorage, "feedback_read_error", err)
	}

	trainerRewrite := in.TrainerRewrite
	if strings.TrimSpace(trainerRewrite) == "" {
		trainerRewrite = rec.Rewrite
	}
	d := domain.TrainerDecision{
		ID:             newUUID(),
		FeedbackID:     rec.ID,
		SessionID:      rec.SessionID,
		Prompt:         rec.UserMessage,
		AIResponse:     rec.AIResponse,
		UserRewrite:    rec.Rewrite,
		TrainerRewrite: trainerRewrite,
		Decision:       decision,
		Notes:          strings.TrimSpace(in.Notes),
		Timestamp:      now().UTC(),
	}
	if err := s.decisions.AppendDecision(ctx, d); err != nil {
		s.logger.Error("failed to append trainer decision", "record_id", rec.ID, "err", err)
		return domain.TrainerDecision{}, newError(ErrorStorage, "decision_write_error", err)
	}
	return d, nil
}

func (s *ReviewService) ListDecisions(ctx context.Context) ([]domain.TrainerDecision, error) {
	ds, err := s.decisions.ListDecisions(ctx)
	if err != nil {
		return nil, newError(ErrorStorage, "decision_read_error", err)
	}
	sort.SliceStable(ds, func(i, j int) bool { return ds[i].Timestamp.After(ds[j].Timestamp) })
	return ds, nil
}

// ExportDecisions writes every logged trainer decision as CSV, newest first.
// RecordDecision only logs parsed decisions, so each entry is reviewed.
func (s *ReviewService) ExportDecisions(ctx context.Context, w io.Writer) error {
	ds, err := s.ListDecisions(ctx)
	if err != nil {
		return err
	}
	if err := feedbackcsv.WriteDecisions(w, ds); err != nil {
		return newError(ErrorInternal, "export_error", err)
	}
	return nil
}

// Authorize checks password against the admin password stored in SSM.
func (s *ReviewService) Authorize(ctx context.Context, password string) error {
	want, err := s.loadAdminPassword(ctx)
	if err != nil {
		return newError(ErrorInternal, "ssm_load_error", err)
	}
	if password == "" || subtle.ConstantTimeCompare([]byte(password), []byte(want)) != 1 {
		return newError(ErrorUnauthorized, "invalid_admin_password", nil)
	}
	return nil
}

func (s *ReviewService) loadAdminPassword(ctx context.Context) (string, error) {
	s.cacheMu.RLock()
	if s.adminPassword != "" {
		defer s.cacheMu.RUnlock()
		return s.adminPassword, nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.adminPassword != "" {
		return s.adminPassword, nil
	}
	pw, err := s.params.GetParameter(ctx, s.paramPrefix+"/admin_password")
	if err != nil {
		return "", fmt.Errorf("usecase: load admin password: %w", err)
	}
	if strings.TrimSpace(pw) == "" {
		return "", errors.New("usecase: admin password is empty")
	}
	s.adminPassword = pw
	return pw, nil
}
