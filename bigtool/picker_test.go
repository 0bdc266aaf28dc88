package bigtool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoiceflow/invoiceflow/core"
)

func newTestPicker(t *testing.T, opts ...PickerOption) *Picker {
	t.Helper()
	cfg := core.DefaultConfig()
	return NewPicker(NewDefaultRegistry(nil), cfg, opts...)
}

func TestRuleBasedSelection(t *testing.T) {
	tests := []struct {
		name       string
		capability Capability
		ctx        map[string]interface{}
		want       string
	}{
		{"ocr high quality", CapabilityOCR, map[string]interface{}{"quality": "high"}, "google_vision"},
		{"ocr tables", CapabilityOCR, map[string]interface{}{"has_tables": true}, "google_vision"},
		{"ocr many pages", CapabilityOCR, map[string]interface{}{"page_count": 10}, "aws_textract"},
		{"ocr cost sensitive", CapabilityOCR, map[string]interface{}{"cost_sensitive": true}, "tesseract"},
		{"ocr invoice doc", CapabilityOCR, map[string]interface{}{"document_type": "invoice"}, "google_vision"},
		{"enrichment known vendor", CapabilityEnrichment, map[string]interface{}{"is_known_vendor": true}, "vendor_db"},
		{"enrichment b2b", CapabilityEnrichment, map[string]interface{}{"vendor_type": "b2b"}, "clearbit"},
		{"enrichment person", CapabilityEnrichment, map[string]interface{}{"enrichment_type": "person"}, "people_data_labs"},
		{"enrichment else clause", CapabilityEnrichment, map[string]interface{}{}, "clearbit"},
		{"erp sap", CapabilityERP, map[string]interface{}{"erp_system": "SAP S/4"}, "sap_sandbox"},
		{"erp netsuite", CapabilityERP, map[string]interface{}{"erp_system": "netsuite cloud"}, "netsuite"},
		{"erp mock flag", CapabilityERP, map[string]interface{}{"use_mock": true}, "mock_erp"},
		{"db large", CapabilityDB, map[string]interface{}{"data_size": "large"}, "postgres"},
		{"db serverless", CapabilityDB, map[string]interface{}{"serverless": true}, "dynamodb"},
		{"email transactional", CapabilityEmail, map[string]interface{}{"email_type": "transactional"}, "sendgrid"},
		{"email aws", CapabilityEmail, map[string]interface{}{"aws_environment": true}, "ses"},
		{"storage large", CapabilityStorage, map[string]interface{}{"size": "large"}, "s3"},
		{"storage gcp", CapabilityStorage, map[string]interface{}{"gcp_environment": true}, "gcs"},
	}

	p := newTestPicker(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Select(context.Background(), tt.capability, tt.ctx)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDevelopmentEnvInfluencesRules(t *testing.T) {
	p := newTestPicker(t)

	// With no explicit context, the development environment drives the
	// dev-oriented rules.
	assert.Equal(t, "mock_erp", p.Select(context.Background(), CapabilityERP, nil))
	assert.Equal(t, "sqlite", p.Select(context.Background(), CapabilityDB, nil))
	assert.Equal(t, "smtp", p.Select(context.Background(), CapabilityEmail, map[string]interface{}{}))
	assert.Equal(t, "local_fs", p.Select(context.Background(), CapabilityStorage, nil))
}

func TestProductionEnvInfluencesRules(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Env = "production"
	p := NewPicker(NewDefaultRegistry(nil), cfg)

	assert.Equal(t, "postgres", p.Select(context.Background(), CapabilityDB, nil))
	assert.Equal(t, "s3", p.Select(context.Background(), CapabilityStorage, nil))
}

func TestSelectEmptyPoolReturnsDefault(t *testing.T) {
	p := NewPicker(NewRegistry(nil), core.DefaultConfig())

	got := p.Select(context.Background(), CapabilityOCR, nil)
	assert.Equal(t, "google_vision", got)

	log := p.SelectionLog()
	require.Len(t, log, 1)
	assert.Equal(t, MethodDefault, log[0].Method)
	assert.Empty(t, log[0].Available)
}

func TestSelectionLogRecordsMethod(t *testing.T) {
	p := newTestPicker(t)
	ctx := context.Background()

	p.Select(ctx, CapabilityOCR, map[string]interface{}{"quality": "high"})

	log := p.SelectionLog()
	require.Len(t, log, 1)
	assert.Equal(t, CapabilityOCR, log[0].Capability)
	assert.Equal(t, "google_vision", log[0].Selected)
	assert.Equal(t, MethodRuleBased, log[0].Method)
	assert.Contains(t, log[0].ContextKeys, "quality")
	assert.Equal(t, []string{"google_vision", "tesseract", "aws_textract"}, log[0].Available)

	p.ClearSelectionLog()
	assert.Empty(t, p.SelectionLog())
}

type stubAIClient struct {
	content string
	err     error
	calls   int
}

func (s *stubAIClient) GenerateResponse(_ context.Context, _ string, _ *core.AIOptions) (*core.AIResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &core.AIResponse{Content: s.content}, nil
}

func TestLLMFallback(t *testing.T) {
	tests := []struct {
		name    string
		content string
		err     error
		want    string
		method  SelectionMethod
	}{
		{"exact name", "tesseract", nil, "tesseract", MethodLLMFallback},
		{"substring answer", "I would pick aws_textract here.", nil, "aws_textract", MethodLLMFallback},
		{"out of pool falls through", "paddleocr", nil, "google_vision", MethodDefault},
		{"llm error falls through", "", errors.New("rate limited"), "google_vision", MethodDefault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ai := &stubAIClient{content: tt.content, err: tt.err}
			c := core.DefaultConfig()
			c.LLMFallbackKey = "sk-test"
			c.Env = "production" // disable the dev rules so ocr has no rule hit
			p := NewPicker(NewDefaultRegistry(nil), c, WithAIClient(ai))

			got := p.Select(context.Background(), CapabilityOCR, map[string]interface{}{"quality": "medium"})
			assert.Equal(t, tt.want, got)
			assert.Equal(t, 1, ai.calls)

			log := p.SelectionLog()
			require.Len(t, log, 1)
			assert.Equal(t, tt.method, log[0].Method)
		})
	}
}

func TestLLMFallbackSkippedWithoutKey(t *testing.T) {
	ai := &stubAIClient{content: "tesseract"}
	c := core.DefaultConfig()
	c.Env = "production"
	p := NewPicker(NewDefaultRegistry(nil), c, WithAIClient(ai))

	got := p.Select(context.Background(), CapabilityOCR, map[string]interface{}{"quality": "medium"})
	assert.Equal(t, "google_vision", got)
	assert.Zero(t, ai.calls)
}

func TestExecuteTool(t *testing.T) {
	p := newTestPicker(t)

	result := p.ExecuteTool(context.Background(), CapabilityStorage, "local_fs", map[string]interface{}{
		"raw_id": "raw_0123456789abcdef",
	})
	require.True(t, result.Success)
	assert.Equal(t, "local_fs", result.ToolName)
	assert.Equal(t, "raw_0123456789abcdef", result.Data["stored_ref"])

	missing := p.ExecuteTool(context.Background(), CapabilityStorage, "floppy_disk", nil)
	assert.False(t, missing.Success)
	assert.Contains(t, missing.Error, "tool not found")
}
