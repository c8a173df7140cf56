package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/calderhq/navigator/internal/model"
	appErr "github.com/calderhq/navigator/internal/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu          sync.Mutex
	docs        map[string]*model.Document
	chunks      []model.Chunk
	failDeact   bool
	deactivated map[string]int64
}

func newMemStore() *memStore {
	return &memStore{docs: map[string]*model.Document{}, deactivated: map[string]int64{}}
}

func (m *memStore) Upsert(_ context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *doc
	m.docs[doc.SourceKey] = &cp
	return nil
}

func (m *memStore) Get(_ context.Context, sourceKey string) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[sourceKey]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return doc, nil
}

func (m *memStore) LatestVersion(_ context.Context, sourceKey string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc, ok := m.docs[sourceKey]; ok {
		return doc.Version, nil
	}
	return 0, nil
}

func (m *memStore) InsertChunks(_ context.Context, chunks []model.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = append(m.chunks, chunks...)
	return nil
}

func (m *memStore) DeactivateOlderVersions(_ context.Context, sourceKey string, keepVersion int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDeact {
		return 0, fmt.Errorf("deactivate unavailable")
	}
	m.deactivated[sourceKey] = keepVersion
	var n int64
	for i := range m.chunks {
		if m.chunks[i].SourceKey == sourceKey && m.chunks[i].Version < keepVersion && m.chunks[i].Active {
			m.chunks[i].Active = false
			n++
		}
	}
	return n, nil
}

func (m *memStore) SweepSuperseded(ctx context.Context) (int64, error) {
	m.mu.Lock()
	docs := make(map[string]int64, len(m.docs))
	for k, d := range m.docs {
		docs[k] = d.Version
	}
	m.mu.Unlock()
	var total int64
	for k, v := range docs {
		n, err := m.DeactivateOlderVersions(ctx, k, v)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeEmbedder) Embed(_ context.Context, text string, _ string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail {
		return nil, fmt.Errorf("embedder down")
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

func newTestIndexer(store *memStore, emb *fakeEmbedder) *Indexer {
	return NewIndexer(store, store, emb, NewChunker(200, 40), 2)
}

func TestIndexerEmptyDocument(t *testing.T) {
	store := newMemStore()
	ix := newTestIndexer(store, &fakeEmbedder{})
	_, err := ix.Index(context.Background(), &Request{SourceKey: "kb/empty", Text: "  \n  "})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErr.ErrEmptyDocument)
	assert.Empty(t, store.chunks)
}

func TestIndexerFirstVersion(t *testing.T) {
	store := newMemStore()
	ix := newTestIndexer(store, &fakeEmbedder{})
	res, err := ix.Index(context.Background(), &Request{
		SourceKey: "kb/grading",
		Text:      strings.Repeat("Grades post within five business days. ", 20),
		Audience:  []string{"instructors"},
		Category:  "policy",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Version)
	assert.Greater(t, res.ChunkCount, 1)
	assert.Len(t, store.chunks, res.ChunkCount)
	for _, ch := range store.chunks {
		assert.True(t, ch.Active)
		assert.Equal(t, []string{"instructors"}, ch.Audience)
		assert.NotEmpty(t, ch.Embedding)
	}
	doc, err := store.Get(context.Background(), "kb/grading")
	require.NoError(t, err)
	assert.Equal(t, res.ChunkCount, doc.ChunkCount)
}

func TestIndexerReingestSupersedes(t *testing.T) {
	store := newMemStore()
	ix := newTestIndexer(store, &fakeEmbedder{})
	text := strings.Repeat("Refund requests go through the bursar. ", 20)

	res1, err := ix.Index(context.Background(), &Request{SourceKey: "kb/refunds", Text: text})
	require.NoError(t, err)
	res2, err := ix.Index(context.Background(), &Request{SourceKey: "kb/refunds", Text: text + " Updated for fall."})
	require.NoError(t, err)
	assert.Equal(t, res1.Version+1, res2.Version)

	for _, ch := range store.chunks {
		if ch.Version == res1.Version {
			assert.False(t, ch.Active, "superseded chunk %d still active", ch.Index)
		} else {
			assert.True(t, ch.Active)
		}
	}
}

func TestIndexerDeactivateFailureStillSucceeds(t *testing.T) {
	store := newMemStore()
	ix := newTestIndexer(store, &fakeEmbedder{})
	text := strings.Repeat("Parking permits renew each term. ", 20)

	_, err := ix.Index(context.Background(), &Request{SourceKey: "kb/parking", Text: text})
	require.NoError(t, err)

	store.failDeact = true
	res, err := ix.Index(context.Background(), &Request{SourceKey: "kb/parking", Text: text + " New lots opened."})
	require.NoError(t, err, "deactivation failure must not fail the ingest")
	assert.Equal(t, int64(2), res.Version)

	// Both versions are live until the sweep retires the stale one.
	active := map[int64]bool{}
	for _, ch := range store.chunks {
		if ch.Active {
			active[ch.Version] = true
		}
	}
	assert.True(t, active[1])
	assert.True(t, active[2])

	store.failDeact = false
	n, err := ix.Sweep(context.Background())
	require.NoError(t, err)
	assert.Greater(t, n, int64(0))
	for _, ch := range store.chunks {
		if ch.Version == 1 {
			assert.False(t, ch.Active)
		}
	}
}

func TestIndexerDefaultsAudienceAndLanguage(t *testing.T) {
	store := newMemStore()
	ix := newTestIndexer(store, &fakeEmbedder{})
	res, err := ix.Index(context.Background(), &Request{SourceKey: "kb/welcome", Text: "Welcome to campus. The help desk is in the library."})
	require.NoError(t, err)
	assert.Equal(t, "en", res.Language)
	require.NotEmpty(t, store.chunks)
	assert.Equal(t, []string{model.AudienceAll}, store.chunks[0].Audience)
}

func TestIndexerEmbedFailure(t *testing.T) {
	store := newMemStore()
	ix := newTestIndexer(store, &fakeEmbedder{fail: true})
	_, err := ix.Index(context.Background(), &Request{SourceKey: "kb/fail", Text: strings.Repeat("words ", 50)})
	require.Error(t, err)
	assert.Empty(t, store.chunks, "no chunks persisted when embedding fails")
}
