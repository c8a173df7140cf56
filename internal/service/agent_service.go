package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/calderhq/navigator/internal/ai"
	"github.com/calderhq/navigator/internal/model"
	"github.com/calderhq/navigator/internal/tool"
)

const agentPromptTemplate = `You are the planning step of a campus support assistant.
You may call tools to gather facts before the final answer is written.

Available tools:
%s
Conversation context:
%s

User question: %s
%s
Reply with exactly one JSON object and nothing else.
To call a tool: {"action": "tool", "tool": "<name>", "input": "<tool input>"}
To finish and answer: {"action": "answer", "note": "<one-line guidance for the answer>"}`

type agentAction struct {
	Action string `json:"action"`
	Tool   string `json:"tool"`
	Input  string `json:"input"`
	Note   string `json:"note"`
}

// AgentDecision is what the loop hands to the answer generation: the tool
// transcript, a planning note, and whether the step bound cut it off.
type AgentDecision struct {
	Transcript     []model.ToolCall
	Note           string
	Usage          ai.Usage
	StepsExhausted bool
}

// AgentService runs the bounded tool loop. Every iteration costs one step
// whether it succeeds, fails, or fails to parse; the loop can never run
// longer than maxSteps.
type AgentService struct {
	gen      ai.IGenerator
	registry *tool.Registry
	maxSteps int
}

func NewAgentService(gen ai.IGenerator, registry *tool.Registry, maxSteps int) *AgentService {
	if maxSteps <= 0 {
		maxSteps = 5
	}
	return &AgentService{gen: gen, registry: registry, maxSteps: maxSteps}
}

func (s *AgentService) Run(ctx context.Context, question, contextSummary string) (*AgentDecision, error) {
	logger := logutil.GetLogger(ctx)
	decision := &AgentDecision{}
	for step := 0; step < s.maxSteps; step++ {
		prompt := fmt.Sprintf(agentPromptTemplate,
			s.registry.Describe(), contextSummary, question, renderTranscript(decision.Transcript))
		raw, usage, err := s.gen.Generate(ctx, prompt)
		decision.Usage.Add(usage)
		if err != nil {
			// Planning is best effort: fall through to a plain answer.
			logger.Warn("agent reasoning failed, answering without tools", zap.Int("step", step), zap.Error(err))
			return decision, nil
		}
		action, perr := parseAgentAction(raw)
		if perr != nil {
			logger.Warn("unparseable agent action, treating as answer", zap.Int("step", step), zap.Error(perr))
			decision.Note = strings.TrimSpace(raw)
			return decision, nil
		}
		if action.Action != "tool" {
			decision.Note = action.Note
			return decision, nil
		}
		call := model.ToolCall{Seq: len(decision.Transcript), Tool: action.Tool, Input: action.Input}
		obs, terr := s.registry.Invoke(ctx, action.Tool, action.Input)
		if terr != nil {
			call.Observation = terr.Error()
			call.IsError = true
		} else {
			call.Observation = obs
		}
		decision.Transcript = append(decision.Transcript, call)
	}
	logger.Info("agent step bound reached", zap.Int("max_steps", s.maxSteps))
	decision.StepsExhausted = true
	return decision, nil
}

func renderTranscript(calls []model.ToolCall) string {
	if len(calls) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Tool results so far:\n")
	for _, c := range calls {
		obs := c.Observation
		if c.IsError {
			obs = "(failed) " + obs
		}
		fmt.Fprintf(&sb, "%d. %s(%s) -> %s\n", c.Seq+1, c.Tool, c.Input, obs)
	}
	return sb.String()
}

// parseAgentAction digs the JSON object out of model output that may be
// wrapped in code fences or prose.
func parseAgentAction(raw string) (*agentAction, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model output")
	}
	var action agentAction
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &action); err != nil {
		return nil, err
	}
	if action.Action == "" {
		return nil, fmt.Errorf("action field missing")
	}
	return &action, nil
}
