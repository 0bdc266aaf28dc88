package bigtool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryHasEighteenTools(t *testing.T) {
	r := NewDefaultRegistry(nil)

	stats := r.Stats()
	assert.Equal(t, 18, stats["total_tools"])
	perCap := stats["capabilities"].(map[string]int)
	for _, capability := range Capabilities {
		assert.Equal(t, 3, perCap[string(capability)], "capability %s", capability)
	}
}

func TestRegistryDefaultToolMatchesCapabilityDefault(t *testing.T) {
	r := NewDefaultRegistry(nil)
	for capability, want := range capabilityDefaults {
		tool, ok := r.DefaultTool(capability)
		require.True(t, ok, "capability %s", capability)
		assert.Equal(t, want, tool.Metadata().Name)
	}
}

func TestRegistryDuplicateReplaces(t *testing.T) {
	r := NewRegistry(nil)
	first := NewBaseTool(ToolMetadata{Name: "dup", Capability: CapabilityOCR, Version: "1"},
		func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"version": "1"}, nil
		})
	second := NewBaseTool(ToolMetadata{Name: "dup", Capability: CapabilityOCR, Version: "2"},
		func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"version": "2"}, nil
		})

	r.Register(first)
	r.Register(second)

	assert.Equal(t, []string{"dup"}, r.ToolNames(CapabilityOCR))
	tool, ok := r.Get(CapabilityOCR, "dup")
	require.True(t, ok)
	assert.Equal(t, "2", tool.Metadata().Version)
}

func TestRegistryPreservesInsertionOrder(t *testing.T) {
	r := NewDefaultRegistry(nil)
	assert.Equal(t, []string{"google_vision", "tesseract", "aws_textract"}, r.ToolNames(CapabilityOCR))
}

func TestRegistryUnknownLookups(t *testing.T) {
	r := NewRegistry(nil)
	_, ok := r.Get(CapabilityOCR, "nope")
	assert.False(t, ok)
	_, ok = r.DefaultTool(CapabilityOCR)
	assert.False(t, ok)
	assert.Empty(t, r.ToolNames(CapabilityOCR))
}
