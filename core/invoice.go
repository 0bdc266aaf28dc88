package core

import "math"

// LineItem is a single invoice line.
type LineItem struct {
	Description string  `json:"desc"`
	Quantity    float64 `json:"qty"`
	UnitPrice   float64 `json:"unit_price"`
	Total       float64 `json:"total"`
}

// Invoice is the immutable input payload a caller submits.
// Optional date fields are ISO-8601 date strings.
type Invoice struct {
	InvoiceID   string     `json:"invoice_id"`
	VendorName  string     `json:"vendor_name"`
	VendorTaxID string     `json:"vendor_tax_id,omitempty"`
	InvoiceDate string     `json:"invoice_date,omitempty"`
	DueDate     string     `json:"due_date,omitempty"`
	Amount      float64    `json:"amount"`
	Currency    string     `json:"currency"`
	LineItems   []LineItem `json:"line_items,omitempty"`
	Attachments []string   `json:"attachments,omitempty"`
}

// Validate rejects payloads that must never reach the workflow runtime.
// Required fields are invoice_id, vendor_name and a non-negative amount.
func (inv *Invoice) Validate() error {
	var missing []string
	if inv.InvoiceID == "" {
		missing = append(missing, "invoice_id")
	}
	if inv.VendorName == "" {
		missing = append(missing, "vendor_name")
	}
	if len(missing) > 0 {
		return &ValidationError{MissingFields: missing}
	}
	if inv.Amount < 0 {
		return &ValidationError{Reason: "amount must be non-negative"}
	}
	return nil
}

// LineTotalDrift returns the absolute difference between the sum of line
// item totals and the invoice amount. The second return is true when line
// items are present and the drift exceeds one cent. Callers treat this as
// a warning, not a rejection.
func (inv *Invoice) LineTotalDrift() (float64, bool) {
	if len(inv.LineItems) == 0 {
		return 0, false
	}
	var sum float64
	for _, li := range inv.LineItems {
		sum += li.Total
	}
	drift := math.Abs(sum - inv.Amount)
	return drift, drift > 0.01
}

// CurrencyOrDefault returns the invoice currency, defaulting to USD.
func (inv *Invoice) CurrencyOrDefault() string {
	if inv.Currency == "" {
		return "USD"
	}
	return inv.Currency
}
