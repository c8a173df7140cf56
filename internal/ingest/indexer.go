package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/calderhq/navigator/internal/model"
	appErr "github.com/calderhq/navigator/internal/pkg/errors"
	"github.com/calderhq/navigator/internal/pkg/keymutex"
	"github.com/calderhq/navigator/internal/pkg/retrywait"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type DocumentStore interface {
	Upsert(ctx context.Context, doc *model.Document) error
	Get(ctx context.Context, sourceKey string) (*model.Document, error)
	LatestVersion(ctx context.Context, sourceKey string) (int64, error)
}

type ChunkStore interface {
	InsertChunks(ctx context.Context, chunks []model.Chunk) error
	DeactivateOlderVersions(ctx context.Context, sourceKey string, keepVersion int64) (int64, error)
	SweepSuperseded(ctx context.Context) (int64, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
}

type Request struct {
	SourceKey    string
	Text         string
	Audience     []string
	Category     string
	LanguageHint string
}

type Result struct {
	SourceKey  string `json:"source_key"`
	Version    int64  `json:"version"`
	ChunkCount int    `json:"chunk_count"`
	Language   string `json:"language"`
}

// Indexer turns raw documents into embedded, searchable chunks. Concurrent
// requests for the same source key are serialized so versions assigned under
// the key lock cannot interleave.
type Indexer struct {
	docs     DocumentStore
	chunks   ChunkStore
	embedder Embedder
	chunker  *Chunker
	keys     *keymutex.KeyMutex
	parallel int
}

func NewIndexer(docs DocumentStore, chunks ChunkStore, embedder Embedder, chunker *Chunker, embedConcurrency int) *Indexer {
	if embedConcurrency <= 0 {
		embedConcurrency = 4
	}
	return &Indexer{
		docs:     docs,
		chunks:   chunks,
		embedder: embedder,
		chunker:  chunker,
		keys:     keymutex.New(),
		parallel: embedConcurrency,
	}
}

// Index ingests one document version. New chunks are written and activated
// before older versions are deactivated, so readers never observe a gap;
// if deactivation fails the stray old chunks are cleaned up by the sweep job.
func (ix *Indexer) Index(ctx context.Context, req *Request) (*Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("%w: source_key=%s", appErr.ErrEmptyDocument, req.SourceKey)
	}
	ix.keys.Lock(req.SourceKey)
	defer ix.keys.Unlock(req.SourceKey)

	logger := logutil.GetLogger(ctx).With(zap.String("source_key", req.SourceKey))

	lang := req.LanguageHint
	if lang == "" {
		lang = DetectLanguage(req.Text)
	}
	audience := req.Audience
	if len(audience) == 0 {
		audience = []string{model.AudienceAll}
	}

	pieces := ix.chunker.Split(req.Text)
	prev, err := ix.docs.LatestVersion(ctx, req.SourceKey)
	if err != nil {
		return nil, fmt.Errorf("read latest version: %w", err)
	}
	version := prev + 1

	vectors, err := ix.embedAll(ctx, pieces)
	if err != nil {
		return nil, fmt.Errorf("embed document: %w", err)
	}

	now := time.Now().Unix()
	chunks := make([]model.Chunk, 0, len(pieces))
	for i, p := range pieces {
		chunks = append(chunks, model.Chunk{
			SourceKey: req.SourceKey,
			Version:   version,
			Index:     i,
			Content:   p.Content,
			StartPos:  p.StartPos,
			EndPos:    p.EndPos,
			Embedding: vectors[i],
			Audience:  audience,
			Category:  req.Category,
			Language:  lang,
			Active:    true,
			Ctime:     now,
		})
	}
	if err := ix.chunks.InsertChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("insert chunks: %w", err)
	}
	if err := ix.docs.Upsert(ctx, &model.Document{
		SourceKey:  req.SourceKey,
		Version:    version,
		ByteLen:    len(req.Text),
		Language:   lang,
		Audience:   audience,
		Category:   req.Category,
		ChunkCount: len(chunks),
		IngestedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("upsert document: %w", err)
	}
	if _, err := ix.chunks.DeactivateOlderVersions(ctx, req.SourceKey, version); err != nil {
		logger.Warn("index consistency: deactivate older versions failed, sweep will retire them",
			zap.Int64("version", version), zap.Error(err))
	}
	logger.Info("document indexed", zap.Int64("version", version),
		zap.Int("chunk_count", len(chunks)), zap.String("language", lang))
	return &Result{SourceKey: req.SourceKey, Version: version, ChunkCount: len(chunks), Language: lang}, nil
}

func (ix *Indexer) embedAll(ctx context.Context, pieces []Piece) ([][]float32, error) {
	vectors := make([][]float32, len(pieces))
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(ix.parallel)
	for i, p := range pieces {
		grp.Go(func() error {
			return retrywait.Do(gctx, 3, 500*time.Millisecond, func() error {
				vec, err := ix.embedder.Embed(gctx, p.Content, "RETRIEVAL_DOCUMENT")
				if err != nil {
					return err
				}
				vectors[i] = vec
				return nil
			})
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Sweep retires any active chunks whose version is older than the latest
// ingested version of their document. It backs up the inline deactivation
// in Index when that step failed mid-ingest.
func (ix *Indexer) Sweep(ctx context.Context) (int64, error) {
	return ix.chunks.SweepSuperseded(ctx)
}
