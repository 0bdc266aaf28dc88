package bigtool

import (
	"context"

	"github.com/invoiceflow/invoiceflow/core"
)

// The shipped providers are mock stand-ins: they fabricate structurally
// correct responses without leaving the process. Production deployments
// register real providers under the same names.

type providerSpec struct {
	name        string
	capability  Capability
	provider    string
	description string
	data        map[string]interface{}
}

var providerSpecs = []providerSpec{
	// ocr
	{"google_vision", CapabilityOCR, "Google Cloud Vision", "High-accuracy OCR with table detection", map[string]interface{}{"confidence": 0.97, "supports_tables": true}},
	{"tesseract", CapabilityOCR, "Tesseract", "Open-source OCR for cost-sensitive workloads", map[string]interface{}{"confidence": 0.85, "supports_tables": false}},
	{"aws_textract", CapabilityOCR, "AWS Textract", "Document analysis tuned for multi-page forms", map[string]interface{}{"confidence": 0.94, "supports_tables": true}},

	// enrichment
	{"clearbit", CapabilityEnrichment, "Clearbit", "Company enrichment for B2B vendors", map[string]interface{}{"record_type": "company"}},
	{"people_data_labs", CapabilityEnrichment, "People Data Labs", "Person and contact enrichment", map[string]interface{}{"record_type": "person"}},
	{"vendor_db", CapabilityEnrichment, "Internal Vendor DB", "Known-vendor master data lookup", map[string]interface{}{"record_type": "vendor_master"}},

	// erp_connector
	{"mock_erp", CapabilityERP, "Mock ERP", "In-process ERP simulator for development", map[string]interface{}{"erp_system": "mock"}},
	{"sap_sandbox", CapabilityERP, "SAP Sandbox", "SAP S/4HANA sandbox connector", map[string]interface{}{"erp_system": "sap"}},
	{"netsuite", CapabilityERP, "NetSuite", "NetSuite SuiteTalk connector", map[string]interface{}{"erp_system": "netsuite"}},

	// db
	{"sqlite", CapabilityDB, "SQLite", "Embedded store for development", map[string]interface{}{"engine": "sqlite"}},
	{"postgres", CapabilityDB, "PostgreSQL", "Relational store for production data", map[string]interface{}{"engine": "postgres"}},
	{"dynamodb", CapabilityDB, "DynamoDB", "Serverless key-value store", map[string]interface{}{"engine": "dynamodb"}},

	// email
	{"sendgrid", CapabilityEmail, "SendGrid", "Transactional email at volume", map[string]interface{}{"channel": "email"}},
	{"ses", CapabilityEmail, "Amazon SES", "Email delivery inside AWS environments", map[string]interface{}{"channel": "email"}},
	{"smtp", CapabilityEmail, "SMTP Relay", "Plain SMTP for development", map[string]interface{}{"channel": "email"}},

	// storage
	{"local_fs", CapabilityStorage, "Local Filesystem", "Local disk storage for development", map[string]interface{}{"backend": "local_fs"}},
	{"s3", CapabilityStorage, "Amazon S3", "Object storage for production payloads", map[string]interface{}{"backend": "s3"}},
	{"gcs", CapabilityStorage, "Google Cloud Storage", "Object storage on GCP", map[string]interface{}{"backend": "gcs"}},
}

func newMockTool(spec providerSpec) *BaseTool {
	meta := ToolMetadata{
		Name:        spec.name,
		Capability:  spec.capability,
		Provider:    spec.provider,
		Description: spec.description,
		Version:     "1.0.0",
		IsMock:      true,
	}
	return NewBaseTool(meta, func(_ context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		data := map[string]interface{}{
			"provider":     spec.name,
			"capability":   string(spec.capability),
			"processed_at": core.UTCNow(),
		}
		for k, v := range spec.data {
			data[k] = v
		}
		if ref, ok := params["raw_id"].(string); ok && ref != "" {
			data["stored_ref"] = ref
		}
		return data, nil
	})
}

// NewDefaultRegistry builds a registry preloaded with the eighteen mock
// providers, three per capability.
func NewDefaultRegistry(logger core.Logger) *Registry {
	r := NewRegistry(logger)
	for _, spec := range providerSpecs {
		r.Register(newMockTool(spec))
	}
	return r
}
