package bigtool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/invoiceflow/invoiceflow/core"
	"github.com/invoiceflow/invoiceflow/telemetry"
)

// SelectionMethod records how a tool was chosen.
type SelectionMethod string

const (
	MethodRuleBased   SelectionMethod = "rule_based"
	MethodLLMFallback SelectionMethod = "llm_fallback"
	MethodDefault     SelectionMethod = "default"
)

// SelectionRecord is one entry in the picker's audit log.
type SelectionRecord struct {
	Timestamp   string          `json:"timestamp"`
	Capability  Capability      `json:"capability"`
	Selected    string          `json:"selected"`
	ContextKeys []string        `json:"context_keys"`
	Available   []string        `json:"available"`
	Method      SelectionMethod `json:"method"`
}

// capabilityDefaults is the terminal fallback per capability.
var capabilityDefaults = map[Capability]string{
	CapabilityOCR:        "google_vision",
	CapabilityEnrichment: "clearbit",
	CapabilityERP:        "mock_erp",
	CapabilityDB:         "sqlite",
	CapabilityEmail:      "sendgrid",
	CapabilityStorage:    "local_fs",
}

// Picker selects a tool per capability using rules, then an optional LLM
// fallback, then the capability default. It never returns a name outside
// the registered pool unless the pool itself is empty.
type Picker struct {
	registry *Registry
	cfg      *core.Config
	ai       core.AIClient
	logger   core.Logger

	mu  sync.Mutex
	log []SelectionRecord
}

// PickerOption configures a Picker.
type PickerOption func(*Picker)

// WithPickerLogger sets the logger.
func WithPickerLogger(l core.Logger) PickerOption {
	return func(p *Picker) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithAIClient wires the LLM fallback client. The fallback only fires
// when the config also carries an LLM fallback key.
func WithAIClient(c core.AIClient) PickerOption {
	return func(p *Picker) { p.ai = c }
}

// NewPicker creates a Picker over a registry.
func NewPicker(registry *Registry, cfg *core.Config, opts ...PickerOption) *Picker {
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	p := &Picker{
		registry: registry,
		cfg:      cfg,
		logger:   &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Select picks a tool name for a capability given a selection context.
func (p *Picker) Select(ctx context.Context, capability Capability, selCtx map[string]interface{}) string {
	selCtx = p.withEnvHints(selCtx)
	available := p.registry.ToolNames(capability)

	if len(available) == 0 {
		p.logger.Warn("No tools available for capability", map[string]interface{}{
			"capability": string(capability),
		})
		name := capabilityDefaults[capability]
		p.recordSelection(capability, name, selCtx, available, MethodDefault)
		return name
	}

	if name := ruleBasedSelect(capability, selCtx, available); name != "" {
		p.recordSelection(capability, name, selCtx, available, MethodRuleBased)
		return name
	}

	if p.ai != nil && p.cfg.LLMFallbackKey != "" {
		if name := p.llmSelect(ctx, capability, selCtx, available); name != "" {
			p.recordSelection(capability, name, selCtx, available, MethodLLMFallback)
			return name
		}
	}

	name := capabilityDefaults[capability]
	if !contains(available, name) {
		name = available[0]
	}
	p.recordSelection(capability, name, selCtx, available, MethodDefault)
	return name
}

// ExecuteTool runs a tool from the pool. A missing tool yields a failed
// ToolResult rather than an error so call sites handle one shape.
func (p *Picker) ExecuteTool(ctx context.Context, capability Capability, name string, params map[string]interface{}) *ToolResult {
	tool, ok := p.registry.Get(capability, name)
	if !ok {
		return &ToolResult{
			Success:  false,
			ToolName: name,
			Error:    fmt.Sprintf("tool not found: %s/%s", capability, name),
		}
	}
	return tool.Execute(ctx, params)
}

// SelectionLog returns a copy of the selection log.
func (p *Picker) SelectionLog() []SelectionRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SelectionRecord, len(p.log))
	copy(out, p.log)
	return out
}

// ClearSelectionLog discards all recorded selections.
func (p *Picker) ClearSelectionLog() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = nil
}

func (p *Picker) withEnvHints(selCtx map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(selCtx)+2)
	for k, v := range selCtx {
		out[k] = v
	}
	if _, ok := out["is_development"]; !ok {
		out["is_development"] = p.cfg.IsDevelopment()
	}
	if _, ok := out["is_production"]; !ok {
		out["is_production"] = p.cfg.IsProduction()
	}
	return out
}

func (p *Picker) recordSelection(capability Capability, selected string, selCtx map[string]interface{}, available []string, method SelectionMethod) {
	keys := make([]string, 0, len(selCtx))
	for k := range selCtx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p.mu.Lock()
	p.log = append(p.log, SelectionRecord{
		Timestamp:   core.UTCNow(),
		Capability:  capability,
		Selected:    selected,
		ContextKeys: keys,
		Available:   available,
		Method:      method,
	})
	p.mu.Unlock()

	telemetry.Counter("bigtool.selections",
		"capability", string(capability),
		"tool", selected,
		"method", string(method),
	)
	p.logger.Debug("Tool selected", map[string]interface{}{
		"capability": string(capability),
		"tool":       selected,
		"method":     string(method),
	})
}

// ruleBasedSelect applies the capability rule table in order. The first
// rule whose guard holds and whose candidate is in the pool wins.
func ruleBasedSelect(capability Capability, ctx map[string]interface{}, available []string) string {
	type rule struct {
		guard     bool
		candidate string
	}

	var rules []rule
	switch capability {
	case CapabilityOCR:
		pages, _ := ctxFloat(ctx, "page_count")
		rules = []rule{
			{ctxString(ctx, "quality") == "high" || ctxBool(ctx, "has_tables"), "google_vision"},
			{pages > 5, "aws_textract"},
			{ctxString(ctx, "quality") == "low" || ctxBool(ctx, "cost_sensitive"), "tesseract"},
			{ctxString(ctx, "document_type") == "invoice", "google_vision"},
		}
	case CapabilityEnrichment:
		vendorType := ctxString(ctx, "vendor_type")
		enrichType := ctxString(ctx, "enrichment_type")
		rules = []rule{
			{ctxBool(ctx, "is_known_vendor"), "vendor_db"},
			{vendorType == "business" || vendorType == "b2b" || vendorType == "enterprise", "clearbit"},
			{enrichType == "contact" || enrichType == "person" || enrichType == "employee", "people_data_labs"},
			{true, "clearbit"},
		}
	case CapabilityERP:
		erp := strings.ToLower(ctxString(ctx, "erp_system"))
		rules = []rule{
			{strings.Contains(erp, "sap"), "sap_sandbox"},
			{strings.Contains(erp, "netsuite"), "netsuite"},
			{ctxBool(ctx, "is_development") || ctxBool(ctx, "use_mock"), "mock_erp"},
		}
	case CapabilityDB:
		rules = []rule{
			{ctxString(ctx, "data_size") == "large" || ctxBool(ctx, "is_production"), "postgres"},
			{ctxBool(ctx, "serverless"), "dynamodb"},
			{ctxBool(ctx, "is_development"), "sqlite"},
		}
	case CapabilityEmail:
		rules = []rule{
			{ctxString(ctx, "volume") == "high" || ctxString(ctx, "email_type") == "transactional", "sendgrid"},
			{ctxBool(ctx, "aws_environment"), "ses"},
			{ctxBool(ctx, "is_development"), "smtp"},
		}
	case CapabilityStorage:
		rules = []rule{
			{ctxString(ctx, "size") == "large" || ctxBool(ctx, "is_production"), "s3"},
			{ctxBool(ctx, "gcp_environment"), "gcs"},
			{ctxBool(ctx, "is_development"), "local_fs"},
		}
	}

	for _, r := range rules {
		if r.guard && contains(available, r.candidate) {
			return r.candidate
		}
	}
	return ""
}

// llmSelect asks the configured AI client to pick from the pool. The
// answer is accepted only if it names a pool member: exact match first,
// then substring.
func (p *Picker) llmSelect(ctx context.Context, capability Capability, selCtx map[string]interface{}, available []string) string {
	ctxJSON, _ := json.Marshal(selCtx)
	prompt := fmt.Sprintf(
		"Select the best tool for capability %q.\nAvailable tools: %s\nSelection context: %s\nAnswer with exactly one tool name from the available list.",
		capability, strings.Join(available, ", "), string(ctxJSON),
	)

	resp, err := p.ai.GenerateResponse(ctx, prompt, &core.AIOptions{
		MaxTokens:    32,
		Temperature:  0,
		SystemPrompt: "You select provider tools for an invoice workflow. Reply with a single tool name and nothing else.",
	})
	if err != nil {
		p.logger.Warn("LLM tool selection failed", map[string]interface{}{
			"capability": string(capability),
			"error":      err.Error(),
		})
		return ""
	}

	answer := strings.ToLower(strings.TrimSpace(resp.Content))
	for _, name := range available {
		if answer == strings.ToLower(name) {
			return name
		}
	}
	for _, name := range available {
		if strings.Contains(answer, strings.ToLower(name)) {
			return name
		}
	}
	return ""
}

func ctxString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func ctxBool(m map[string]interface{}, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

func ctxFloat(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
