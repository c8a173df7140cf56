package service

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/calderhq/navigator/internal/model"
	"github.com/calderhq/navigator/internal/retrieval"
)

var rolePrompts = map[string]string{
	retrieval.RoleLearner: "You are a campus support assistant helping a student. Be warm and practical. " +
		"Answer only from the provided passages and observations; cite passages with [n] markers. " +
		"If the passages do not cover the question, say so instead of guessing.",
	retrieval.RoleInstructor: "You are a campus support assistant helping an instructor. Be precise and assume " +
		"familiarity with teaching workflows. Answer only from the provided passages and observations; " +
		"cite passages with [n] markers. If the passages do not cover the question, say so instead of guessing.",
	retrieval.RoleStaff: "You are a campus support assistant helping a staff member. Be direct and procedural. " +
		"Answer only from the provided passages and observations; cite passages with [n] markers. " +
		"If the passages do not cover the question, say so instead of guessing.",
	retrieval.RoleAdmin: "You are a campus support assistant helping an administrator. Be complete; include " +
		"operational detail when present. Answer only from the provided passages and observations; " +
		"cite passages with [n] markers. If the passages do not cover the question, say so instead of guessing.",
}

const generalPrompt = "You are a campus support assistant. Answer only from the provided passages and " +
	"observations; cite passages with [n] markers. If the passages do not cover the question, say so " +
	"instead of guessing."

// FallbackAnswer is returned when generation produced nothing usable.
const FallbackAnswer = "I'm sorry, I wasn't able to find an answer for you right now. " +
	"Please try rephrasing your question, or ask me to connect you with a human support agent."

type PromptInput struct {
	Role        string
	History     []model.Turn
	Passages    []retrieval.Result
	Transcript  []model.ToolCall
	UserMessage string
}

// ContextAssembler renders the generation prompt. The output is a pure
// function of its input: same turns, passages and message produce identical
// prompts, so answers are reproducible given the same model behavior.
type ContextAssembler struct {
	historyTurns int
	tokenBudget  int
}

func NewContextAssembler(historyTurns, tokenBudget int) *ContextAssembler {
	if historyTurns <= 0 {
		historyTurns = 10
	}
	if tokenBudget <= 0 {
		tokenBudget = 3000
	}
	return &ContextAssembler{historyTurns: historyTurns, tokenBudget: tokenBudget}
}

func (a *ContextAssembler) Build(in *PromptInput) string {
	var sb strings.Builder
	system, ok := rolePrompts[in.Role]
	if !ok {
		system = generalPrompt
	}
	sb.WriteString(system)
	sb.WriteString("\n\n")

	budget := a.tokenBudget

	if len(in.Passages) > 0 {
		sb.WriteString("Knowledge base passages:\n")
		for i, p := range in.Passages {
			entry := fmt.Sprintf("[%d] (%s) %s\n", i+1, p.SourceKey, p.Content)
			cost := estimateTokens(entry)
			if cost > budget {
				break
			}
			budget -= cost
			sb.WriteString(entry)
		}
		sb.WriteString("\n")
	}

	if history := a.trimHistory(in.History, &budget); len(history) > 0 {
		sb.WriteString("Conversation so far:\n")
		for _, t := range history {
			fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Content)
		}
		sb.WriteString("\n")
	}

	if len(in.Transcript) > 0 {
		sb.WriteString("Observations from this turn:\n")
		for _, tc := range in.Transcript {
			obs := tc.Observation
			if tc.IsError {
				obs = "(failed) " + obs
			}
			fmt.Fprintf(&sb, "- %s(%s): %s\n", tc.Tool, tc.Input, obs)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "user: %s\nassistant:", in.UserMessage)
	return sb.String()
}

// trimHistory keeps the most recent turns that fit the budget and returns
// them oldest first.
func (a *ContextAssembler) trimHistory(history []model.Turn, budget *int) []model.Turn {
	if len(history) > a.historyTurns {
		history = history[len(history)-a.historyTurns:]
	}
	kept := 0
	for i := len(history) - 1; i >= 0; i-- {
		cost := estimateTokens(history[i].Content)
		if cost > *budget {
			break
		}
		*budget -= cost
		kept++
	}
	return history[len(history)-kept:]
}

// estimateTokens approximates model token counts: whitespace-separated words
// plus CJK runes, which tokenize roughly one per character.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	cjk := 0
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			cjk++
		}
	}
	return words + cjk
}
