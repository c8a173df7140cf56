package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/didi/gendry/builder"
	"github.com/lib/pq"

	"github.com/calderhq/navigator/internal/model"
	"github.com/calderhq/navigator/internal/pkg/dbutil"
	appErr "github.com/calderhq/navigator/internal/pkg/errors"
)

type DocumentRepo struct {
	db *sql.DB
}

func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

func (r *DocumentRepo) Upsert(ctx context.Context, doc *model.Document) error {
	data := map[string]interface{}{
		"source_key":  doc.SourceKey,
		"version":     doc.Version,
		"byte_len":    doc.ByteLen,
		"language":    doc.Language,
		"audience":    pq.Array(doc.Audience),
		"category":    doc.Category,
		"chunk_count": doc.ChunkCount,
		"ingested_at": doc.IngestedAt,
	}
	sqlStr, args, err := builder.BuildInsert("documents", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	sqlStr += " ON CONFLICT (source_key, version) DO NOTHING"
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// Get returns the latest version of a document.
func (r *DocumentRepo) Get(ctx context.Context, sourceKey string) (*model.Document, error) {
	where := map[string]interface{}{
		"source_key": sourceKey,
		"_orderby":   "version desc",
		"_limit":     []uint{0, 1},
	}
	sqlStr, args, err := builder.BuildSelect("documents", where, documentFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	row := r.db.QueryRowContext(ctx, sqlStr, args...)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErr.ErrNotFound
	}
	return doc, err
}

func (r *DocumentRepo) LatestVersion(ctx context.Context, sourceKey string) (int64, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM documents WHERE source_key = $1", sourceKey)
	var version int64
	if err := row.Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func (r *DocumentRepo) List(ctx context.Context, limit, offset uint) ([]model.Document, error) {
	sqlStr := `SELECT DISTINCT ON (source_key) ` + documentColumns + `
		FROM documents ORDER BY source_key, version DESC LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, sqlStr, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs := make([]model.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

const documentColumns = "source_key, version, byte_len, language, audience, category, chunk_count, ingested_at"

var documentFields = []string{"source_key", "version", "byte_len", "language", "audience", "category", "chunk_count", "ingested_at"}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var doc model.Document
	if err := row.Scan(&doc.SourceKey, &doc.Version, &doc.ByteLen, &doc.Language,
		pq.Array(&doc.Audience), &doc.Category, &doc.ChunkCount, &doc.IngestedAt); err != nil {
		return nil, err
	}
	return &doc, nil
}
