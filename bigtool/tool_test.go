package bigtool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBaseToolExecuteSuccess(t *testing.T) {
	tool := NewBaseTool(
		ToolMetadata{Name: "ok", Capability: CapabilityDB, Provider: "Test", IsMock: true},
		func(_ context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"echo": params["in"]}, nil
		},
	)

	result := tool.Execute(context.Background(), map[string]interface{}{"in": "x"})

	assert.True(t, result.Success)
	assert.Equal(t, "ok", result.ToolName)
	assert.Equal(t, "x", result.Data["echo"])
	assert.Empty(t, result.Error)
	assert.GreaterOrEqual(t, result.ExecutionTimeMs, 0.0)
	assert.Equal(t, "db", result.Metadata["capability"])
	assert.Equal(t, int64(1), tool.Executions())
}

func TestBaseToolExecuteError(t *testing.T) {
	tool := NewBaseTool(
		ToolMetadata{Name: "broken", Capability: CapabilityEmail},
		func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
			return nil, errors.New("smtp refused")
		},
	)

	result := tool.Execute(context.Background(), nil)

	assert.False(t, result.Success)
	assert.Equal(t, "smtp refused", result.Error)
	assert.Nil(t, result.Data)
}

func TestBaseToolExecuteRecoversPanic(t *testing.T) {
	tool := NewBaseTool(
		ToolMetadata{Name: "panicky", Capability: CapabilityOCR},
		func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
			panic("provider blew up")
		},
	)

	result := tool.Execute(context.Background(), nil)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "provider blew up")
}

func TestBaseToolCountsExecutions(t *testing.T) {
	tool := newMockTool(providerSpecs[0])
	for i := 0; i < 3; i++ {
		tool.Execute(context.Background(), nil)
	}
	assert.Equal(t, int64(3), tool.Executions())
}
