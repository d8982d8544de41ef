// Package retrieval maps a reader's question to book passages that are
// appended to the prompt as extra context.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"readwith/internal/domain"
)

const (
	DefaultTopK      = 5
	DefaultThreshold = 0.75
)

// Embedder computes the embedding of a text with the given model.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// Searcher runs a similarity match over the pre-embedded passages.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, matchCount int, threshold float64) ([]domain.RetrievedChunk, error)
}

// Error reports a failed retrieval. Callers answer without context when they
// see one.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("retrieval: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type Retriever struct {
	embedder Embedder
	searcher Searcher
	model    string
}

func New(e Embedder, s Searcher, model string) (*Retriever, error) {
	if e == nil {
		return nil, errors.New("retrieval: embedder must not be nil")
	}
	if s == nil {
		return nil, errors.New("retrieval: searcher must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("retrieval: embedding model must not be empty")
	}
	return &Retriever{embedder: e, searcher: s, model: model}, nil
}

// Retrieve returns at most topK chunks whose similarity is at least threshold,
// most similar first. An empty result is not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, threshold float64) ([]domain.RetrievedChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &Error{Op: "validate", Err: errors.New("query must not be empty")}
	}
	if topK <= 0 {
		return nil, &Error{Op: "validate", Err: fmt.Errorf("top_k must be positive, got %d", topK)}
	}
	if threshold < 0 || threshold > 1 {
		return nil, &Error{Op: "validate", Err: fmt.Errorf("threshold must be within [0,1], got %v", threshold)}
	}

	vec, err := r.embedder.Embed(ctx, r.model, query)
	if err != nil {
		return nil, &Error{Op: "embed", Err: err}
	}
	if len(vec) == 0 {
		return nil, &Error{Op: "embed", Err: errors.New("empty embedding")}
	}

	found, err := r.searcher.Search(ctx, vec, topK, threshold)
	if err != nil {
		return nil, &Error{Op: "search", Err: err}
	}

	chunks := make([]domain.RetrievedChunk, 0, len(found))
	for _, c := range found {
		if c.Similarity < threshold || strings.TrimSpace(c.Content) == "" {
			continue
		}
		chunks = append(chunks, c)
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Similarity > chunks[j].Similarity })
	if len(chunks) > topK {
		chunks = chunks[:topK]
	}
	return chunks, nil
}
