package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/calderhq/navigator/internal/model"
)

type Store interface {
	Candidates(ctx context.Context, queryVec []float32, queryText string, allowedAudience []string, language string, limit int) ([]model.ChunkCandidate, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
}

type Options struct {
	TopK          int
	CandidateK    int
	LexicalWeight float64
	Timeout       time.Duration
	CacheSize     int
	CacheTTL      time.Duration
}

// Result is a retrieved chunk with its blended relevance score.
type Result struct {
	model.ChunkCandidate
	Score float64
}

// Query carries the hard constraints alongside the query text. Audience and
// language are filters, never score inputs: nothing outside them is returned.
type Query struct {
	Text             string
	AllowedAudiences []string
	Language         string
}

// Engine embeds the query, pulls hard-filtered candidates and blends vector
// and lexical similarity into the final ranking.
type Engine struct {
	store    Store
	embedder Embedder
	opts     Options
	cache    *lru.LRU[string, []float32]
}

func NewEngine(store Store, embedder Embedder, opts Options) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.CandidateK < opts.TopK {
		opts.CandidateK = opts.TopK * 4
	}
	if opts.LexicalWeight < 0 || opts.LexicalWeight > 1 {
		opts.LexicalWeight = 0.3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	var cache *lru.LRU[string, []float32]
	if opts.CacheSize > 0 {
		cache = lru.NewLRU[string, []float32](opts.CacheSize, nil, opts.CacheTTL)
	}
	return &Engine{store: store, embedder: embedder, opts: opts, cache: cache}
}

func (e *Engine) Search(ctx context.Context, q *Query) ([]Result, error) {
	if len(q.AllowedAudiences) == 0 {
		return nil, fmt.Errorf("query without allowed audiences")
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	vec, err := e.embedQuery(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	lang := q.Language
	if lang == "" {
		lang = model.LanguageUnknown
	}
	candidates, err := e.store.Candidates(ctx, vec, q.Text, q.AllowedAudiences, lang, e.opts.CandidateK)
	if err != nil {
		return nil, fmt.Errorf("candidate query: %w", err)
	}

	allowed := make(map[string]struct{}, len(q.AllowedAudiences))
	for _, tag := range q.AllowedAudiences {
		allowed[tag] = struct{}{}
	}
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		// The store already filters; re-check so a permissive store
		// implementation can never leak restricted content.
		if !audienceAllowed(c.Audience, allowed) || !languageMatches(c.Language, lang) {
			continue
		}
		score := (1-e.opts.LexicalWeight)*c.VectorScore + e.opts.LexicalWeight*c.LexicalScore
		results = append(results, Result{ChunkCandidate: c, Score: score})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].SourceKey != results[j].SourceKey {
			return results[i].SourceKey < results[j].SourceKey
		}
		return results[i].Index < results[j].Index
	})
	if len(results) > e.opts.TopK {
		results = results[:e.opts.TopK]
	}
	logutil.GetLogger(ctx).Debug("retrieval done",
		zap.Int("candidates", len(candidates)), zap.Int("results", len(results)))
	return results, nil
}

func (e *Engine) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if e.cache != nil {
		if vec, ok := e.cache.Get(text); ok {
			return vec, nil
		}
	}
	vec, err := e.embedder.Embed(ctx, text, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Add(text, vec)
	}
	return vec, nil
}

func audienceAllowed(tags []string, allowed map[string]struct{}) bool {
	for _, tag := range tags {
		if _, ok := allowed[tag]; ok {
			return true
		}
	}
	return false
}

func languageMatches(chunkLang, queryLang string) bool {
	return chunkLang == queryLang ||
		chunkLang == model.LanguageUnknown ||
		queryLang == model.LanguageUnknown
}
