// Package bigtool owns per-capability pools of provider tools and the
// selection engine that picks one per call site. Selection is rule-based
// first, with an optional LLM fallback for ambiguous contexts.
package bigtool

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/invoiceflow/invoiceflow/telemetry"
)

// Capability is a family of interchangeable tools.
type Capability string

const (
	CapabilityOCR        Capability = "ocr"
	CapabilityEnrichment Capability = "enrichment"
	CapabilityERP        Capability = "erp_connector"
	CapabilityDB         Capability = "db"
	CapabilityEmail      Capability = "email"
	CapabilityStorage    Capability = "storage"
)

// Capabilities lists every known capability.
var Capabilities = []Capability{
	CapabilityOCR,
	CapabilityEnrichment,
	CapabilityERP,
	CapabilityDB,
	CapabilityEmail,
	CapabilityStorage,
}

// ToolMetadata describes a registered tool.
type ToolMetadata struct {
	Name        string                 `json:"name"`
	Capability  Capability             `json:"capability"`
	Provider    string                 `json:"provider"`
	Description string                 `json:"description"`
	Version     string                 `json:"version"`
	IsMock      bool                   `json:"is_mock"`
	Config      map[string]interface{} `json:"config,omitempty"`
}

// ToolResult is the uniform result of a tool execution.
type ToolResult struct {
	Success         bool                   `json:"success"`
	Data            map[string]interface{} `json:"data,omitempty"`
	ToolName        string                 `json:"tool_name"`
	ExecutionTimeMs float64                `json:"execution_time_ms"`
	Error           string                 `json:"error,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// Tool is a concrete provider bound to a capability.
type Tool interface {
	Metadata() ToolMetadata
	Execute(ctx context.Context, params map[string]interface{}) *ToolResult
}

// RunFunc is the provider behavior wrapped by BaseTool.
type RunFunc func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// BaseTool wraps a provider function with timing, error capture and an
// execution counter.
type BaseTool struct {
	meta       ToolMetadata
	run        RunFunc
	executions atomic.Int64
}

// NewBaseTool builds a tool from metadata and a run function.
func NewBaseTool(meta ToolMetadata, run RunFunc) *BaseTool {
	return &BaseTool{meta: meta, run: run}
}

// Metadata returns the tool's descriptor.
func (t *BaseTool) Metadata() ToolMetadata {
	return t.meta
}

// Executions returns how many times the tool has been executed.
func (t *BaseTool) Executions() int64 {
	return t.executions.Load()
}

// Execute runs the provider. Panics and errors are captured into the
// result; Execute itself never fails.
func (t *BaseTool) Execute(ctx context.Context, params map[string]interface{}) (result *ToolResult) {
	start := time.Now()
	t.executions.Add(1)

	result = &ToolResult{
		ToolName: t.meta.Name,
		Metadata: map[string]interface{}{
			"capability": string(t.meta.Capability),
			"provider":   t.meta.Provider,
			"is_mock":    t.meta.IsMock,
		},
	}

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("tool panic: %v", r)
		}
		result.ExecutionTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
		status := "success"
		if !result.Success {
			status = "error"
		}
		telemetry.Counter("bigtool.executions",
			"tool", t.meta.Name,
			"capability", string(t.meta.Capability),
			"status", status,
		)
		telemetry.Duration("bigtool.execution_ms", start, "tool", t.meta.Name)
	}()

	data, err := t.run(ctx, params)
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		return result
	}
	result.Success = true
	result.Data = data
	return result
}

var _ Tool = (*BaseTool)(nil)
