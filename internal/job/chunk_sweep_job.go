package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/calderhq/navigator/internal/ingest"
)

// ChunkSweepJob retires active chunks left behind by ingests that failed
// between activating a new document version and deactivating the old one.
type ChunkSweepJob struct {
	indexer *ingest.Indexer
}

func NewChunkSweepJob(indexer *ingest.Indexer) *ChunkSweepJob {
	return &ChunkSweepJob{indexer: indexer}
}

func (j *ChunkSweepJob) Name() string {
	return "chunk_sweep"
}

func (j *ChunkSweepJob) Run(ctx context.Context) error {
	n, err := j.indexer.Sweep(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		logutil.GetLogger(ctx).Info("retired superseded chunks", zap.Int64("count", n))
	}
	return nil
}
