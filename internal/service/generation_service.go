package service

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/calderhq/navigator/internal/ai"
	"github.com/calderhq/navigator/internal/model"
	appErr "github.com/calderhq/navigator/internal/pkg/errors"
	"github.com/calderhq/navigator/internal/retrieval"
)

var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

const citationExcerptLimit = 200

type GenerationResult struct {
	Text        string
	Citations   []model.Citation
	Usage       ai.Usage
	Interrupted bool
}

// GenerationService streams model output to the caller while accumulating
// the full text for persistence. The persisted transcript never depends on
// the caller's connection staying up.
type GenerationService struct {
	gen ai.IGenerator
}

func NewGenerationService(gen ai.IGenerator) *GenerationService {
	return &GenerationService{gen: gen}
}

// Stream generates the answer for prompt, forwarding fragments to onFragment
// until it fails; after that the stream is drained silently so the full text
// is still captured. A mid-stream provider failure yields the partial text
// with Interrupted set; only producing no text at all is an error.
func (s *GenerationService) Stream(ctx context.Context, prompt string, passages []retrieval.Result, onFragment ai.StreamHandler) (*GenerationResult, error) {
	var acc strings.Builder
	sinkDead := false
	_, usage, err := s.gen.GenerateStream(ctx, prompt, func(fragment string) error {
		acc.WriteString(fragment)
		if sinkDead || onFragment == nil {
			return nil
		}
		if serr := onFragment(fragment); serr != nil {
			sinkDead = true
			logutil.GetLogger(ctx).Warn("client sink failed mid-stream, draining", zap.Error(serr))
		}
		return nil
	})
	text := acc.String()
	if err != nil {
		if text == "" {
			return nil, appErr.ErrAIUnavailable
		}
		logutil.GetLogger(ctx).Warn("generation interrupted, keeping partial answer",
			zap.Int("partial_len", len(text)), zap.Error(err))
		return &GenerationResult{
			Text:        text,
			Citations:   ResolveCitations(text, passages),
			Usage:       usage,
			Interrupted: true,
		}, nil
	}
	if strings.TrimSpace(text) == "" {
		return nil, appErr.ErrAIUnavailable
	}
	return &GenerationResult{
		Text:      text,
		Citations: ResolveCitations(text, passages),
		Usage:     usage,
	}, nil
}

// ResolveCitations maps [n] markers in text to the passage list. Markers
// that point at nothing are left in the text but produce no citation entry.
func ResolveCitations(text string, passages []retrieval.Result) []model.Citation {
	matches := citationMarker.FindAllStringSubmatch(text, -1)
	seen := map[int]bool{}
	citations := make([]model.Citation, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(passages) || seen[n] {
			continue
		}
		seen[n] = true
		p := passages[n-1]
		excerpt := p.Content
		if len(excerpt) > citationExcerptLimit {
			excerpt = excerpt[:citationExcerptLimit]
		}
		citations = append(citations, model.Citation{
			Marker:     n,
			SourceKey:  p.SourceKey,
			ChunkIndex: p.Index,
			Excerpt:    excerpt,
		})
	}
	return citations
}
