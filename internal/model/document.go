package model

// Document is a versioned ingestion record for one source key. Re-ingesting
// the same key writes a new version; chunks of older versions are deactivated
// afterwards.
type Document struct {
	SourceKey  string   `json:"source_key"`
	Version    int64    `json:"version"`
	ByteLen    int      `json:"byte_len"`
	Language   string   `json:"language"`
	Audience   []string `json:"audience"`
	Category   string   `json:"category"`
	ChunkCount int      `json:"chunk_count"`
	IngestedAt int64    `json:"ingested_at"`
}

// ChunkCandidate is a chunk pulled by the candidate query together with its
// raw similarity scores. Blending happens above the storage layer.
type ChunkCandidate struct {
	Chunk
	VectorScore  float64 `json:"vector_score"`
	LexicalScore float64 `json:"lexical_score"`
}

// AudienceAll marks content visible to every role.
const AudienceAll = "all"

// LanguageUnknown is stored when detection fails; it matches any query language.
const LanguageUnknown = "und"

// Chunk is the unit of retrieval: a bounded span of one document version with
// its embedding and denormalized filter metadata.
type Chunk struct {
	SourceKey string    `json:"source_key"`
	Version   int64     `json:"version"`
	Index     int       `json:"chunk_index"`
	Content   string    `json:"content"`
	StartPos  int       `json:"start_pos"`
	EndPos    int       `json:"end_pos"`
	Embedding []float32 `json:"-"`
	Audience  []string  `json:"audience"`
	Category  string    `json:"category"`
	Language  string    `json:"language"`
	Active    bool      `json:"active"`
	Ctime     int64     `json:"ctime"`
}
