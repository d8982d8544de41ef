// Package vectorsearch runs similarity matches against passages stored in
// Postgres with the pgvector extension.
//
// The database is expected to expose a set-returning function with the
// signature used by Supabase's document-matching recipe:
//
//	match_documents(query_embedding vector, match_threshold float, match_count int)
//	  returns table (content text, similarity float)
package vectorsearch

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"readwith/internal/domain"
)

const DefaultMatchFunction = "match_documents"

var functionNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

type matchRow struct {
	Content    string
	Similarity float64
}

// Searcher calls the match function with a query embedding.
type Searcher struct {
	db       *gorm.DB
	function string
}

// Open connects to Postgres and returns a Searcher using the given match
// function (DefaultMatchFunction when empty).
func Open(dsn, function string) (*Searcher, error) {
	if dsn == "" {
		return nil, errors.New("vectorsearch: dsn must not be empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorsearch: open: %w", err)
	}
	return New(db, function)
}

func New(db *gorm.DB, function string) (*Searcher, error) {
	if db == nil {
		return nil, errors.New("vectorsearch: db must not be nil")
	}
	if function == "" {
		function = DefaultMatchFunction
	}
	if !functionNameRE.MatchString(function) {
		return nil, fmt.Errorf("vectorsearch: invalid match function name %q", function)
	}
	return &Searcher{db: db, function: function}, nil
}

func (s *Searcher) query() string {
	return fmt.Sprintf("SELECT content, similarity FROM %s(?, ?, ?) ORDER BY similarity DESC", s.function)
}

// Search returns at most matchCount passages with similarity >= threshold.
func (s *Searcher) Search(ctx context.Context, embedding []float32, matchCount int, threshold float64) ([]domain.RetrievedChunk, error) {
	if len(embedding) == 0 {
		return nil, errors.New("vectorsearch: embedding must not be empty")
	}
	if matchCount <= 0 {
		return nil, fmt.Errorf("vectorsearch: match count must be positive, got %d", matchCount)
	}

	var rows []matchRow
	err := s.db.WithContext(ctx).
		Raw(s.query(), pgvector.NewVector(embedding), threshold, matchCount).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("vectorsearch: %s: %w", s.function, err)
	}

	out := make([]domain.RetrievedChunk, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.RetrievedChunk{Content: r.Content, Similarity: r.Similarity})
	}
	return out, nil
}
