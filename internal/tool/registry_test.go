package tool

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErr "github.com/calderhq/navigator/internal/pkg/errors"
)

func TestRegistryInvoke(t *testing.T) {
	reg := NewRegistry(time.Second)
	require.NoError(t, reg.Register(&Tool{
		Name:        "echo",
		Description: "echoes its input",
		Execute: func(_ context.Context, input string) (string, error) {
			return "echo: " + input, nil
		},
	}))

	out, err := reg.Invoke(context.Background(), "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", out)
}

func TestRegistryUnknownTool(t *testing.T) {
	reg := NewRegistry(time.Second)
	_, err := reg.Invoke(context.Background(), "nope", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErr.ErrToolFailed)
}

func TestRegistryToolFailureIsWrapped(t *testing.T) {
	reg := NewRegistry(time.Second)
	require.NoError(t, reg.Register(&Tool{
		Name:        "broken",
		Description: "always fails",
		Execute: func(_ context.Context, _ string) (string, error) {
			return "", fmt.Errorf("backend down")
		},
	}))

	_, err := reg.Invoke(context.Background(), "broken", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErr.ErrToolFailed)
	assert.Contains(t, err.Error(), "backend down")
}

func TestRegistryTimeout(t *testing.T) {
	reg := NewRegistry(20 * time.Millisecond)
	require.NoError(t, reg.Register(&Tool{
		Name:        "slow",
		Description: "waits for the context",
		Execute: func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}))

	start := time.Now()
	_, err := reg.Invoke(context.Background(), "slow", "")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRegistryDuplicateName(t *testing.T) {
	reg := NewRegistry(time.Second)
	mk := func() *Tool {
		return &Tool{Name: "dup", Description: "d", Execute: func(context.Context, string) (string, error) { return "", nil }}
	}
	require.NoError(t, reg.Register(mk()))
	assert.Error(t, reg.Register(mk()))
}

func TestEscalateToolMarksScope(t *testing.T) {
	scope := &Scope{ConversationID: "c1"}
	ctx := WithScope(context.Background(), scope)
	out, err := NewEscalateTool().Execute(ctx, "user asked for a human")
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.True(t, scope.EscalateRequested)
	assert.Equal(t, "user asked for a human", scope.EscalateUserReason)
}
