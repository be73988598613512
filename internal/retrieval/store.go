package retrieval

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve"
	"github.com/google/uuid"
)

const (
	DefaultK = 3
	MaxK     = 50
	rrfK     = 60
)

// Embedder turns texts into vectors. core.LLMProvider satisfies it.
type Embedder interface {
	Embed(ctx context.Context, model string, input []string) ([][]float32, error)
}

type Document struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	IndexedAt time.Time `json:"indexed_at"`
}

type Hit struct {
	DocID string  `json:"doc_id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// Store is an in-process document index. Lexical search uses bleve; when an
// embedder is configured, vector similarity is fused in with reciprocal rank
// fusion.
type Store struct {
	mu       sync.RWMutex
	index    bleve.Index
	docs     map[string]Document
	vectors  map[string][]float32
	embedder Embedder
	model    string
	logger   *log.Logger
}

// NewStore creates an empty index. embedder may be nil for lexical-only search.
func NewStore(embedder Embedder, model string, logger *log.Logger) (*Store, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{
		index:    index,
		docs:     make(map[string]Document),
		vectors:  make(map[string][]float32),
		embedder: embedder,
		model:    model,
		logger:   logger,
	}, nil
}

// IndexDocuments adds texts to the index and returns how many were stored.
// Blank texts are skipped. An embedding failure leaves the batch searchable
// lexically.
func (s *Store) IndexDocuments(ctx context.Context, texts []string) (int, error) {
	var docs []Document
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		docs = append(docs, Document{ID: uuid.NewString(), Text: t, IndexedAt: time.Now().UTC()})
	}
	if len(docs) == 0 {
		return 0, nil
	}
	s.logger.Printf("Indexing %d documents", len(docs))

	var vecs [][]float32
	if s.embedder != nil {
		inputs := make([]string, len(docs))
		for i, d := range docs {
			inputs[i] = d.Text
		}
		v, err := s.embedder.Embed(ctx, s.model, inputs)
		switch {
		case err != nil:
			s.logger.Printf("embedding failed, indexing lexically only: %v", err)
		case len(v) != len(docs):
			s.logger.Printf("embedder returned %d vectors for %d documents, ignoring", len(v), len(docs))
		default:
			vecs = v
		}
	}

	batch := s.index.NewBatch()
	for _, d := range docs {
		if err := batch.Index(d.ID, map[string]interface{}{"text": d.Text}); err != nil {
			return 0, fmt.Errorf("failed to index document: %w", err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.index.Batch(batch); err != nil {
		return 0, fmt.Errorf("failed to index documents: %w", err)
	}
	for i, d := range docs {
		s.docs[d.ID] = d
		if vecs != nil {
			s.vectors[d.ID] = vecs[i]
		}
	}
	return len(docs), nil
}

// Retrieve returns up to k documents relevant to query, best first.
func (s *Store) Retrieve(ctx context.Context, query string, k int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if k <= 0 {
		k = DefaultK
	}
	if k > MaxK {
		k = MaxK
	}
	lexical, err := s.bm25Search(query, k)
	if err != nil {
		return nil, err
	}
	if s.embedder == nil || s.vectorCount() == 0 {
		return lexical, nil
	}
	qvecs, err := s.embedder.Embed(ctx, s.model, []string{query})
	if err != nil || len(qvecs) == 0 {
		s.logger.Printf("query embedding failed, using lexical results: %v", err)
		return lexical, nil
	}
	return fuseRRF(lexical, s.vectorSearch(qvecs[0], k), k), nil
}

// Len reports the number of indexed documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *Store) Close() error {
	return s.index.Close()
}

func (s *Store) vectorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

func (s *Store) bm25Search(q string, k int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(q), k*3, 0, false)
	res, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	var out []Hit
	for i, hit := range res.Hits {
		out = append(out, Hit{DocID: hit.ID, Text: s.docs[hit.ID].Text, Score: hit.Score, Rank: i + 1})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func (s *Store) vectorSearch(q []float32, k int) []Hit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type scored struct {
		id    string
		score float64
	}
	scoreds := make([]scored, 0, len(s.vectors))
	for id, v := range s.vectors {
		scoreds = append(scoreds, scored{id: id, score: cosine(q, v)})
	}
	sort.Slice(scoreds, func(i, j int) bool {
		if scoreds[i].score == scoreds[j].score {
			return scoreds[i].id < scoreds[j].id
		}
		return scoreds[i].score > scoreds[j].score
	})
	var out []Hit
	for i, sc := range scoreds {
		out = append(out, Hit{DocID: sc.id, Text: s.docs[sc.id].Text, Score: sc.score, Rank: i + 1})
		if len(out) >= k {
			break
		}
	}
	return out
}

func fuseRRF(a, b []Hit, k int) []Hit {
	scores := map[string]float64{}
	items := map[string]Hit{}
	for _, list := range [][]Hit{a, b} {
		for _, h := range list {
			scores[h.DocID] += 1.0 / float64(rrfK+h.Rank)
			if _, ok := items[h.DocID]; !ok {
				items[h.DocID] = h
			}
		}
	}
	out := make([]Hit, 0, len(items))
	for id, h := range items {
		h.Score = scores[id]
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].DocID < out[j].DocID
		}
		return out[i].Score > out[j].Score
	})
	if len(out) > k {
		out = out[:k]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Texts returns the text of each hit in rank order.
func Texts(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Text
	}
	return out
}
