package handler

import (
	"fmt"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/calderhq/navigator/internal/filestore"
	"github.com/calderhq/navigator/internal/ingest"
	appErr "github.com/calderhq/navigator/internal/pkg/errors"
	"github.com/calderhq/navigator/internal/pkg/response"
)

const maxDocumentBytes = 4 << 20

type IngestHandler struct {
	indexer *ingest.Indexer
	files   filestore.Store
}

func NewIngestHandler(indexer *ingest.Indexer, files filestore.Store) *IngestHandler {
	return &IngestHandler{indexer: indexer, files: files}
}

type ingestRequest struct {
	SourceKey string   `json:"source_key"`
	Text      string   `json:"text"`
	FromStore bool     `json:"from_store"`
	Audience  []string `json:"audience"`
	Category  string   `json:"category"`
	Language  string   `json:"language"`
}

// Ingest indexes one document version. The text comes inline or, with
// from_store set, from the document store under the same source key.
func (h *IngestHandler) Ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SourceKey == "" {
		handleError(c, appErr.ErrInvalid)
		return
	}
	if req.FromStore {
		text, err := h.readFromStore(c, req.SourceKey)
		if err != nil {
			handleError(c, err)
			return
		}
		req.Text = text
	}
	result, err := h.indexer.Index(c.Request.Context(), &ingest.Request{
		SourceKey:    req.SourceKey,
		Text:         req.Text,
		Audience:     req.Audience,
		Category:     req.Category,
		LanguageHint: req.Language,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}

func (h *IngestHandler) readFromStore(c *gin.Context, sourceKey string) (string, error) {
	if h.files == nil {
		return "", fmt.Errorf("%w: no document store configured", appErr.ErrInvalid)
	}
	rc, err := h.files.Open(c.Request.Context(), sourceKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", appErr.ErrNotFound, err)
	}
	defer rc.Close()
	// Read one byte past the cap so an oversized object is rejected instead
	// of silently truncated.
	data, err := io.ReadAll(io.LimitReader(rc, maxDocumentBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxDocumentBytes {
		return "", fmt.Errorf("%w: document exceeds %d bytes", appErr.ErrInvalid, maxDocumentBytes)
	}
	return string(data), nil
}
