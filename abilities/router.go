// Package abilities routes named operations to one of two backends.
//
// The routing table is fixed at compile time. Internal abilities are pure
// transformations of the parameter map; external abilities simulate side
// effects against provider systems. Every dispatched call is appended to
// a per-process call log for audit inspection.
package abilities

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/invoiceflow/invoiceflow/core"
	"github.com/invoiceflow/invoiceflow/telemetry"
)

// BackendKind identifies which backend serves an ability.
type BackendKind string

const (
	BackendInternal BackendKind = "internal"
	BackendExternal BackendKind = "external"
)

// RoutingTable maps every known ability to its backend.
var RoutingTable = map[string]BackendKind{
	"validate_schema":          BackendInternal,
	"persist_raw_invoice":      BackendInternal,
	"parse_line_items":         BackendInternal,
	"normalize_vendor":         BackendInternal,
	"compute_flags":            BackendInternal,
	"compute_match_score":      BackendInternal,
	"save_checkpoint":          BackendInternal,
	"build_accounting_entries": BackendInternal,
	"apply_approval_policy":    BackendInternal,
	"output_final_payload":     BackendInternal,

	"ocr_extract":         BackendExternal,
	"enrich_vendor":       BackendExternal,
	"fetch_po":            BackendExternal,
	"fetch_grn":           BackendExternal,
	"fetch_history":       BackendExternal,
	"human_review_action": BackendExternal,
	"post_to_erp":         BackendExternal,
	"schedule_payment":    BackendExternal,
	"notify_vendor":       BackendExternal,
	"notify_finance_team": BackendExternal,
}

// Backend executes an ability against a parameter map. Failures are
// reported through the result map's "error" key, never as a panic.
type Backend interface {
	Execute(ctx context.Context, ability string, params map[string]interface{}) map[string]interface{}
}

// CallRecord is one entry in the router's audit log.
type CallRecord struct {
	Ability    string      `json:"ability"`
	Backend    BackendKind `json:"backend"`
	Timestamp  string      `json:"timestamp"`
	ParamsKeys []string    `json:"params_keys"`
}

// Router dispatches abilities per RoutingTable and records every call.
type Router struct {
	internal Backend
	external Backend
	timeout  time.Duration
	logger   core.Logger

	mu      sync.Mutex
	callLog []CallRecord
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the logger.
func WithRouterLogger(l core.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithInternalBackend replaces the internal backend. Used by tests to
// inject deterministic doubles.
func WithInternalBackend(b Backend) RouterOption {
	return func(r *Router) {
		if b != nil {
			r.internal = b
		}
	}
}

// WithExternalBackend replaces the external backend.
func WithExternalBackend(b Backend) RouterOption {
	return func(r *Router) {
		if b != nil {
			r.external = b
		}
	}
}

// WithExternalTimeout bounds each external ability call.
func WithExternalTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRouter creates a Router with the built-in backends.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		internal: NewInternalBackend(),
		external: NewExternalBackend(),
		timeout:  30 * time.Second,
		logger:   &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Call dispatches an ability. Unknown abilities return an error map
// without dispatching or logging. Backend errors are surfaced through
// the result's "error" key; Call itself never fails.
func (r *Router) Call(ctx context.Context, ability string, params map[string]interface{}) map[string]interface{} {
	kind, ok := RoutingTable[ability]
	if !ok {
		r.logger.Warn("Unknown ability requested", map[string]interface{}{
			"ability": ability,
		})
		return map[string]interface{}{"error": "Unknown ability: " + ability}
	}

	r.record(ability, kind, params)
	telemetry.Counter("abilities.calls", "ability", ability, "backend", string(kind))

	backend := r.internal
	if kind == BackendExternal {
		backend = r.external
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	result := backend.Execute(ctx, ability, params)
	if result == nil {
		result = map[string]interface{}{}
	}
	if errMsg, ok := result["error"]; ok {
		r.logger.Warn("Ability returned error", map[string]interface{}{
			"ability": ability,
			"backend": string(kind),
			"error":   errMsg,
		})
		telemetry.Counter("abilities.errors", "ability", ability)
	}
	return result
}

func (r *Router) record(ability string, kind BackendKind, params map[string]interface{}) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.callLog = append(r.callLog, CallRecord{
		Ability:    ability,
		Backend:    kind,
		Timestamp:  core.UTCNow(),
		ParamsKeys: keys,
	})
}

// CallLog returns a copy of the call log.
func (r *Router) CallLog() []CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallRecord, len(r.callLog))
	copy(out, r.callLog)
	return out
}

// ClearCallLog discards all recorded calls.
func (r *Router) ClearCallLog() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callLog = nil
}
