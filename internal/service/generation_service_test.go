package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calderhq/navigator/internal/ai"
	appErr "github.com/calderhq/navigator/internal/pkg/errors"
	"github.com/calderhq/navigator/internal/retrieval"
)

// scriptedGen streams fragments one by one, optionally failing after a
// given count.
type scriptedGen struct {
	fragments []string
	failAfter int // -1 to never fail
	genOut    string
	genErr    error
}

func (g *scriptedGen) Generate(_ context.Context, _ string) (string, ai.Usage, error) {
	return g.genOut, ai.Usage{PromptTokens: 10, CompletionTokens: 5}, g.genErr
}

func (g *scriptedGen) GenerateStream(_ context.Context, _ string, onFragment ai.StreamHandler) (string, ai.Usage, error) {
	var acc strings.Builder
	for i, f := range g.fragments {
		if g.failAfter >= 0 && i == g.failAfter {
			return acc.String(), ai.Usage{}, fmt.Errorf("stream dropped")
		}
		acc.WriteString(f)
		if err := onFragment(f); err != nil {
			return acc.String(), ai.Usage{}, err
		}
	}
	return acc.String(), ai.Usage{PromptTokens: 10, CompletionTokens: 5}, nil
}

func TestStreamLossless(t *testing.T) {
	gen := &scriptedGen{fragments: []string{"The library ", "opens at 8am. ", "[1]"}, failAfter: -1}
	svc := NewGenerationService(gen)

	var streamed strings.Builder
	res, err := svc.Stream(context.Background(), "p", nil, func(f string) error {
		streamed.WriteString(f)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "The library opens at 8am. [1]", res.Text)
	assert.Equal(t, res.Text, streamed.String(), "streamed fragments must concatenate to the persisted text")
	assert.False(t, res.Interrupted)
}

func TestStreamSinkDeathKeepsFullText(t *testing.T) {
	gen := &scriptedGen{fragments: []string{"part one ", "part two ", "part three"}, failAfter: -1}
	svc := NewGenerationService(gen)

	delivered := 0
	res, err := svc.Stream(context.Background(), "p", nil, func(string) error {
		delivered++
		if delivered >= 2 {
			return fmt.Errorf("client went away")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "part one part two part three", res.Text,
		"the full answer is kept even after the sink dies")
	assert.Equal(t, 2, delivered)
}

func TestStreamProviderFailureMidway(t *testing.T) {
	gen := &scriptedGen{fragments: []string{"partial ", "answer ", "never sent"}, failAfter: 2}
	svc := NewGenerationService(gen)

	res, err := svc.Stream(context.Background(), "p", nil, func(string) error { return nil })
	require.NoError(t, err)
	assert.True(t, res.Interrupted)
	assert.Equal(t, "partial answer ", res.Text)
}

func TestStreamNoOutputIsUnavailable(t *testing.T) {
	gen := &scriptedGen{fragments: nil, failAfter: 0}
	svc := NewGenerationService(gen)

	_, err := svc.Stream(context.Background(), "p", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErr.ErrAIUnavailable)
}

func TestResolveCitations(t *testing.T) {
	passages := []retrieval.Result{
		passage("kb/map", "The library is in building C."),
		passage("kb/hours", "Open 8am to 10pm."),
	}
	text := "It is in building C [1] and opens at 8am [2]. See also [7]."
	citations := ResolveCitations(text, passages)
	require.Len(t, citations, 2, "the dangling [7] produces no citation")
	assert.Equal(t, 1, citations[0].Marker)
	assert.Equal(t, "kb/map", citations[0].SourceKey)
	assert.Equal(t, 2, citations[1].Marker)
	assert.Equal(t, "kb/hours", citations[1].SourceKey)
}

func TestResolveCitationsDeduplicates(t *testing.T) {
	passages := []retrieval.Result{passage("kb/a", "content")}
	citations := ResolveCitations("see [1] and again [1]", passages)
	assert.Len(t, citations, 1)
}
