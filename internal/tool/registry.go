package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	appErr "github.com/calderhq/navigator/internal/pkg/errors"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// ExecuteFunc runs one tool invocation. The returned string is the
// observation fed back to the agent verbatim.
type ExecuteFunc func(ctx context.Context, input string) (string, error)

type Tool struct {
	Name        string
	Description string
	Execute     ExecuteFunc
}

type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Tool
	timeout time.Duration
}

func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Registry{tools: map[string]*Tool{}, timeout: timeout}
}

func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" || t.Execute == nil {
		return fmt.Errorf("tool must have a name and an execute func")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name]; ok {
		return fmt.Errorf("tool already registered: %s", t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// Invoke runs the named tool under the registry timeout. Tool failures come
// back wrapped in ErrToolFailed so the agent can surface them as
// observations instead of aborting the loop.
func (r *Registry) Invoke(ctx context.Context, name, input string) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: unknown tool %q", appErr.ErrToolFailed, name)
	}
	tctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	start := time.Now()
	out, err := t.Execute(tctx, input)
	logutil.GetLogger(ctx).Debug("tool invoked",
		zap.String("tool", name), zap.Duration("cost", time.Since(start)), zap.Bool("failed", err != nil))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", appErr.ErrToolFailed, name, err)
	}
	return out, nil
}

// Describe renders the tool catalog for the agent prompt, sorted by name so
// prompts are stable across runs.
func (r *Registry) Describe() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, name := range names {
		fmt.Fprintf(&sb, "- %s: %s\n", name, r.tools[name].Description)
	}
	return sb.String()
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
