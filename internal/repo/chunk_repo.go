package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/calderhq/navigator/internal/model"
	"github.com/calderhq/navigator/internal/pkg/dbutil"
	appErr "github.com/calderhq/navigator/internal/pkg/errors"
)

type ChunkRepo struct {
	db *sql.DB
}

func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

func (r *ChunkRepo) InsertChunks(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	rows := make([]map[string]interface{}, 0, len(chunks))
	for _, ch := range chunks {
		rows = append(rows, map[string]interface{}{
			"source_key":  ch.SourceKey,
			"version":     ch.Version,
			"chunk_index": ch.Index,
			"content":     ch.Content,
			"start_pos":   ch.StartPos,
			"end_pos":     ch.EndPos,
			"embedding":   pgvector.NewVector(ch.Embedding),
			"audience":    pq.Array(ch.Audience),
			"category":    ch.Category,
			"language":    ch.Language,
			"active":      ch.Active,
			"ctime":       ch.Ctime,
		})
	}
	sqlStr, args, err := builder.BuildInsert("chunks", rows)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// Candidates runs the hard-filtered hybrid candidate query: inactive chunks,
// chunks outside the allowed audience tags, and chunks in a different
// language never come back, regardless of similarity. Ordering is by vector
// distance with chunk position as the deterministic tiebreaker.
func (r *ChunkRepo) Candidates(ctx context.Context, queryVec []float32, queryText string, allowedAudience []string, language string, limit int) ([]model.ChunkCandidate, error) {
	sqlStr := `
		SELECT source_key, version, chunk_index, content, start_pos, end_pos,
		       audience, category, language,
		       1 - (embedding <=> $1) AS vector_score,
		       ts_rank(to_tsvector('simple', content), plainto_tsquery('simple', $2)) AS lexical_score
		FROM chunks
		WHERE active
		  AND audience && $3
		  AND (language = $4 OR language = 'und' OR $4 = 'und')
		ORDER BY embedding <=> $1 ASC, source_key ASC, chunk_index ASC
		LIMIT $5`
	rows, err := r.db.QueryContext(ctx, sqlStr,
		pgvector.NewVector(queryVec), queryText, pq.Array(allowedAudience), language, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.ChunkCandidate, 0, limit)
	for rows.Next() {
		var c model.ChunkCandidate
		if err := rows.Scan(&c.SourceKey, &c.Version, &c.Index, &c.Content, &c.StartPos, &c.EndPos,
			pq.Array(&c.Audience), &c.Category, &c.Language, &c.VectorScore, &c.LexicalScore); err != nil {
			return nil, err
		}
		c.Active = true
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetChunk loads one chunk of the latest active version, for citation excerpts.
func (r *ChunkRepo) GetChunk(ctx context.Context, sourceKey string, index int) (*model.Chunk, error) {
	where := map[string]interface{}{
		"source_key":  sourceKey,
		"chunk_index": index,
		"active":      true,
		"_orderby":    "version desc",
		"_limit":      []uint{0, 1},
	}
	sqlStr, args, err := builder.BuildSelect("chunks", where,
		[]string{"source_key", "version", "chunk_index", "content", "start_pos", "end_pos", "audience", "category", "language", "active", "ctime"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	row := r.db.QueryRowContext(ctx, sqlStr, args...)
	var ch model.Chunk
	err = row.Scan(&ch.SourceKey, &ch.Version, &ch.Index, &ch.Content, &ch.StartPos, &ch.EndPos,
		pq.Array(&ch.Audience), &ch.Category, &ch.Language, &ch.Active, &ch.Ctime)
	if err == sql.ErrNoRows {
		return nil, appErr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (r *ChunkRepo) DeactivateOlderVersions(ctx context.Context, sourceKey string, keepVersion int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE chunks SET active = FALSE WHERE source_key = $1 AND version < $2 AND active",
		sourceKey, keepVersion)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SweepSuperseded retires active chunks older than the newest ingested
// version of their document. Safety net for ingests that crashed between
// activating the new version and deactivating the old one.
func (r *ChunkRepo) SweepSuperseded(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE chunks c SET active = FALSE
		WHERE c.active
		  AND c.version < (SELECT COALESCE(MAX(d.version), c.version)
		                   FROM documents d WHERE d.source_key = c.source_key)`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
