package feedbackcsv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"readwith/internal/domain"
)

// Store keeps feedback records in a local CSV file. Appends add one row;
// status updates rewrite the file through a temporary file and rename.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("feedbackcsv: path must not be empty")
	}
	return &Store{path: path}, nil
}

func (s *Store) Path() string { return s.path }

// AppendFeedback appends one row, creating the file with its header first
// if it does not exist yet. A file whose header lacks any of the current
// columns is rewritten with the full header before the row is added.
func (s *Store) AppendFeedback(_ context.Context, rec domain.FeedbackRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("feedbackcsv: AppendFeedback: record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	header, err := s.readHeader()
	if err != nil {
		return err
	}
	if header != nil && !hasAllColumns(header) {
		recs, err := s.readAll()
		if err != nil {
			return err
		}
		return s.rewrite(append(recs, rec))
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("feedbackcsv: AppendFeedback open: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if header == nil {
		if err := cw.Write(Header); err != nil {
			return fmt.Errorf("feedbackcsv: AppendFeedback header: %w", err)
		}
	}
	if err := cw.Write(row(rec)); err != nil {
		return fmt.Errorf("feedbackcsv: AppendFeedback: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("feedbackcsv: AppendFeedback flush: %w", err)
	}
	return nil
}

// ListFeedback returns records newest first. An empty status lists all records.
func (s *Store) ListFeedback(_ context.Context, status domain.Status) ([]domain.FeedbackRecord, error) {
	s.mu.Lock()
	recs, err := s.readAll()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, rec := range recs {
		if status == "" || rec.Status == status {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (s *Store) GetFeedback(_ context.Context, id string) (domain.FeedbackRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.readAll()
	if err != nil {
		return domain.FeedbackRecord{}, err
	}
	for _, rec := range recs {
		if rec.ID == id {
			return rec, nil
		}
	}
	return domain.FeedbackRecord{}, fmt.Errorf("%w: feedback %s", domain.ErrRecordNotFound, id)
}

// UpdateFeedbackStatus changes the status column of one record and leaves
// every other field as read.
func (s *Store) UpdateFeedbackStatus(_ context.Context, id string, status domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.readAll()
	if err != nil {
		return err
	}
	found := false
	for i := range recs {
		if recs[i].ID == id {
			recs[i].Status = status
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: feedback %s", domain.ErrRecordNotFound, id)
	}
	return s.rewrite(recs)
}

// rewrite replaces the file with recs under the current header.
func (s *Store) rewrite(recs []domain.FeedbackRecord) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("feedbackcsv: rewrite temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := Write(tmp, recs); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("feedbackcsv: rewrite close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("feedbackcsv: rewrite rename: %w", err)
	}
	return nil
}

// readHeader returns nil for a missing or empty file.
func (s *Store) readHeader() ([]string, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("feedbackcsv: open: %w", err)
	}
	defer f.Close()
	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("feedbackcsv: read header: %w", err)
	}
	return header, nil
}

// readAll keeps file order. A missing file holds no records.
func (s *Store) readAll() ([]domain.FeedbackRecord, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("feedbackcsv: open: %w", err)
	}
	defer f.Close()
	return Read(f)
}
