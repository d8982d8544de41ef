// Package feedbackcsv reads and writes feedback records in the delimited
// file layout shared by the local degraded-mode backend and the review export.
package feedbackcsv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"readwith/internal/domain"
)

// Header is the column order written by this package. The first seven
// columns are fixed; status, rewrite and id are optional for readers.
var Header = []string{
	"timestamp",
	"session_id",
	"turn_index",
	"user_message",
	"ai_response",
	"rating",
	"comment",
	"status",
	"rewrite",
	"id",
}

// DecisionHeader is the column order of the trainer decision export.
var DecisionHeader = []string{
	"timestamp",
	"id",
	"feedback_id",
	"session_id",
	"prompt",
	"ai_response",
	"user_rewrite",
	"trainer_rewrite",
	"decision",
	"notes",
}

const timeLayout = time.RFC3339Nano

// columnAliases maps older header spellings onto the current names.
var columnAliases = map[string]string{
	"turn": "turn_index",
}

func row(rec domain.FeedbackRecord) []string {
	return []string{
		rec.Timestamp.UTC().Format(timeLayout),
		rec.SessionID,
		strconv.Itoa(rec.TurnIndex),
		rec.UserMessage,
		rec.AIResponse,
		string(rec.Rating),
		rec.Comment,
		string(rec.Status),
		rec.Rewrite,
		rec.ID,
	}
}

// Write encodes recs with a header row.
func Write(w io.Writer, recs []domain.FeedbackRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("feedbackcsv: write header: %w", err)
	}
	for _, rec := range recs {
		if err := cw.Write(row(rec)); err != nil {
			return fmt.Errorf("feedbackcsv: write record %s: %w", rec.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("feedbackcsv: flush: %w", err)
	}
	return nil
}

// WriteDecisions encodes trainer decisions with a header row.
func WriteDecisions(w io.Writer, decisions []domain.TrainerDecision) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(DecisionHeader); err != nil {
		return fmt.Errorf("feedbackcsv: write header: %w", err)
	}
	for _, d := range decisions {
		err := cw.Write([]string{
			d.Timestamp.UTC().Format(timeLayout),
			d.ID,
			d.FeedbackID,
			d.SessionID,
			d.Prompt,
			d.AIResponse,
			d.UserRewrite,
			d.TrainerRewrite,
			string(d.Decision),
			d.Notes,
		})
		if err != nil {
			return fmt.Errorf("feedbackcsv: write decision %s: %w", d.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("feedbackcsv: flush: %w", err)
	}
	return nil
}

// Read decodes records, locating columns by header name. Unknown columns are
// ignored. A row without a status is pending; a row without an id gets one
// derived from its position.
func Read(r io.Reader) ([]domain.FeedbackRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("feedbackcsv: read header: %w", err)
	}
	cols := columnIndex(header)
	for _, required := range []string{"timestamp", "turn_index", "rating"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("feedbackcsv: missing column %q", required)
		}
	}

	var out []domain.FeedbackRecord
	for line := 1; ; line++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("feedbackcsv: read row %d: %w", line, err)
		}
		get := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(fields) {
				return ""
			}
			return fields[i]
		}
		rec, err := parseRow(get, line)
		if err != nil {
			return nil, fmt.Errorf("feedbackcsv: row %d: %w", line, err)
		}
		out = append(out, rec)
	}
}

// columnIndex maps normalized column names to their position. The first
// occurrence of a name wins.
func columnIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if alias, ok := columnAliases[name]; ok {
			name = alias
		}
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	return cols
}

// hasAllColumns reports whether header carries every column of Header.
func hasAllColumns(header []string) bool {
	cols := columnIndex(header)
	for _, name := range Header {
		if _, ok := cols[name]; !ok {
			return false
		}
	}
	return true
}

func parseRow(get func(string) string, line int) (domain.FeedbackRecord, error) {
	ts, err := time.Parse(timeLayout, strings.TrimSpace(get("timestamp")))
	if err != nil {
		return domain.FeedbackRecord{}, fmt.Errorf("parse timestamp: %w", err)
	}
	idx, err := strconv.Atoi(strings.TrimSpace(get("turn_index")))
	if err != nil {
		return domain.FeedbackRecord{}, fmt.Errorf("parse turn_index: %w", err)
	}
	rating, ok := domain.ParseRating(get("rating"))
	if !ok {
		return domain.FeedbackRecord{}, fmt.Errorf("unknown rating %q", get("rating"))
	}
	status := domain.StatusPending
	if raw := strings.TrimSpace(get("status")); raw != "" {
		if status, ok = domain.ParseStatus(raw); !ok {
			return domain.FeedbackRecord{}, fmt.Errorf("unknown status %q", raw)
		}
	}
	id := strings.TrimSpace(get("id"))
	if id == "" {
		id = fmt.Sprintf("row-%d", line)
	}
	return domain.FeedbackRecord{
		ID:          id,
		SessionID:   get("session_id"),
		TurnIndex:   idx,
		UserMessage: get("user_message"),
		AIResponse:  get("ai_response"),
		Rating:      rating,
		Comment:     get("comment"),
		Rewrite:     get("rewrite"),
		Status:      status,
		Timestamp:   ts.UTC(),
	}, nil
}
