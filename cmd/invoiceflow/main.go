// Command invoiceflow runs an invoice through the processing pipeline
// from the terminal. It drives the same engine the service embeds:
// submit an invoice, watch it pause for review when the two-way match
// fails, resolve the checkpoint and resume.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/invoiceflow/invoiceflow/abilities"
	"github.com/invoiceflow/invoiceflow/bigtool"
	"github.com/invoiceflow/invoiceflow/core"
	"github.com/invoiceflow/invoiceflow/graph"
	"github.com/invoiceflow/invoiceflow/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "invoiceflow:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "optional YAML config file")
		invoicePath = flag.String("invoice", "", "invoice JSON file; omit for a built-in sample")
		decision    = flag.String("decision", "ACCEPT", "verdict applied when the run pauses (ACCEPT or REJECT)")
		reviewer    = flag.String("reviewer", "cli", "reviewer id recorded on the checkpoint")
		showGraph   = flag.Bool("graph", false, "print the pipeline as mermaid and exit")
		listReviews = flag.Bool("reviews", false, "list pending reviews and exit")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := core.NewJSONLogger(os.Stderr, cfg.LogLevel)

	st, cleanup, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	pickerOpts := []bigtool.PickerOption{bigtool.WithPickerLogger(logger)}
	if cfg.LLMFallbackKey != "" {
		ai, err := bigtool.NewAnthropicClient(cfg.LLMFallbackKey)
		if err != nil {
			return fmt.Errorf("building LLM fallback client: %w", err)
		}
		pickerOpts = append(pickerOpts, bigtool.WithAIClient(ai))
	}

	engine := graph.NewEngine(&graph.Deps{
		Router: abilities.NewRouter(
			abilities.WithRouterLogger(logger),
			abilities.WithExternalTimeout(cfg.ExternalCallTimeout),
		),
		Picker: bigtool.NewPicker(bigtool.NewDefaultRegistry(logger), cfg, pickerOpts...),
		Store:  st,
		Config: cfg,
		Logger: logger,
	})

	if *showGraph {
		fmt.Print(engine.Graph().Mermaid())
		return nil
	}

	ctx := context.Background()

	expiry := store.NewExpiryProcessor(st, 10*time.Minute, cfg.ReviewExpiryHours, logger)
	expiry.Start(ctx)
	defer expiry.Stop()

	if *listReviews {
		return printPendingReviews(ctx, st)
	}

	inv, err := loadInvoice(*invoicePath)
	if err != nil {
		return err
	}

	res, err := engine.Start(ctx, inv)
	if err != nil {
		return err
	}

	if res.Paused {
		fmt.Printf("workflow %s paused for review\n", res.WorkflowID)
		fmt.Printf("  checkpoint: %s\n", res.CheckpointID)
		fmt.Printf("  review url: %s\n", res.ReviewURL)

		verdict := core.Decision(*decision)
		resolution, err := st.ResolveCheckpoint(ctx, res.CheckpointID, verdict, *reviewer, "resolved from cli")
		if err != nil {
			return fmt.Errorf("resolving checkpoint: %w", err)
		}
		fmt.Printf("  decision %s, resuming at %s\n", resolution.Decision, resolution.NextStage)

		res, err = engine.Resume(ctx, res.WorkflowID)
		if err != nil {
			return err
		}
	}

	fmt.Printf("workflow %s finished: %s\n", res.WorkflowID, res.Status)
	if res.State.Complete != nil {
		payload, err := json.MarshalIndent(res.State.Complete.FinalPayload, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(payload))
	}
	return nil
}

func loadConfig(path string) (*core.Config, error) {
	if path != "" {
		return core.LoadConfigFile(path)
	}
	return core.NewConfig(), nil
}

func openStore(cfg *core.Config, logger core.Logger) (store.Store, func(), error) {
	opts := []store.Option{
		store.WithLogger(logger),
		store.WithFrontendBaseURL(cfg.FrontendBaseURL),
		store.WithReviewExpiry(cfg.ReviewExpiryHours),
	}
	if cfg.RedisURL == "" {
		return store.NewMemoryStore(opts...), func() {}, nil
	}
	rs, err := store.NewRedisStore(cfg.RedisURL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting store: %w", err)
	}
	return rs, func() { _ = rs.Close() }, nil
}

func loadInvoice(path string) (*core.Invoice, error) {
	if path == "" {
		return &core.Invoice{
			InvoiceID:  "INV-2024-001",
			VendorName: "Acme Industrial Supply",
			Amount:     12500.00,
			Currency:   "USD",
			DueDate:    "2026-09-30",
			LineItems: []core.LineItem{
				{Description: "Hydraulic pump", Quantity: 2, UnitPrice: 5000.00},
				{Description: "Gasket set", Quantity: 10, UnitPrice: 250.00},
			},
		}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading invoice file %s: %w", path, err)
	}
	var inv core.Invoice
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("parsing invoice file %s: %w", path, err)
	}
	return &inv, nil
}

func printPendingReviews(ctx context.Context, st store.Store) error {
	reviews, err := st.PendingReviews(ctx)
	if err != nil {
		return err
	}
	if len(reviews) == 0 {
		fmt.Println("no pending reviews")
		return nil
	}
	for _, r := range reviews {
		fmt.Printf("[p%d] %s  %s  %s %.2f  score %.2f  %s\n",
			r.Priority, r.CheckpointID, r.InvoiceID, r.Currency, r.Amount, r.MatchScore, r.ReviewURL)
	}
	return nil
}
