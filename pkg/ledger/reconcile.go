package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/robfig/cron/v3"

	"github.com/anthonybaldwin/page-gen-sub000/pkg/config"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/models"
	"github.com/anthonybaldwin/page-gen-sub000/pkg/store"
)

// reconcileBatchSize is how many ledger rows one reconciliation page reads.
const reconcileBatchSize = 500

// Reconciler recomputes every billing ledger row's cost from the current
// pricing catalog. Rows imported without cache columns get their cache
// tokens inferred from the stored total and attributed to cache-creation,
// the worst case for cost.
type Reconciler struct {
	tokens  *store.TokenStore
	catalog *Catalog
	cron    *cron.Cron
	log     *slog.Logger
}

// ReconcileStats summarizes one reconciliation pass.
type ReconcileStats struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
}

// NewReconciler creates a Reconciler.
func NewReconciler(tokens *store.TokenStore, catalog *Catalog) *Reconciler {
	return &Reconciler{
		tokens:  tokens,
		catalog: catalog,
		log:     slog.With("component", "ledger_reconciler"),
	}
}

// Start schedules the nightly reconciliation run (03:00 server time).
func (r *Reconciler) Start() error {
	if r.cron != nil {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc("0 3 * * *", func() {
		if _, err := r.Reconcile(context.Background()); err != nil {
			r.log.Error("Scheduled reconciliation failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule reconciliation: %w", err)
	}
	c.Start()
	r.cron = c
	r.log.Info("Ledger reconciliation scheduled", "cron", "0 3 * * *")
	return nil
}

// Stop halts the schedule and waits for a running job to finish.
func (r *Reconciler) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.cron = nil
}

// Reconcile walks the whole ledger in pages, recomputing each row's cost
// and rewriting rows whose cost or cache columns changed.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileStats, error) {
	var stats ReconcileStats
	afterID := ""

	for {
		rows, err := r.tokens.ListLedgerRows(ctx, afterID, reconcileBatchSize)
		if err != nil {
			return stats, fmt.Errorf("reconcile: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		for i := range rows {
			rec := &rows[i]
			stats.Scanned++

			usage := reconciledUsage(rec)
			cost := r.catalog.EstimateCost(config.ProviderType(rec.Provider), rec.Model, usage)
			if usage == rec.Usage && costEqual(cost, rec.CostEstimate) {
				continue
			}
			if err := r.tokens.UpdateLedgerRow(ctx, rec.ID, usage, cost); err != nil {
				return stats, fmt.Errorf("reconcile row %s: %w", rec.ID, err)
			}
			stats.Updated++
		}

		afterID = rows[len(rows)-1].ID
		if len(rows) < reconcileBatchSize {
			break
		}
	}

	r.log.Info("Ledger reconciliation complete",
		"scanned", stats.Scanned, "updated", stats.Updated)
	return stats, nil
}

// reconciledUsage returns the row's usage with legacy cache inference
// applied: rows whose stored total exceeds in+out but carry empty cache
// columns had their cache traffic folded into the total. The difference
// is attributed to cache-creation.
func reconciledUsage(rec *models.TokenRecord) models.TokenUsage {
	usage := rec.Usage
	if usage.CacheCreationInputTokens == 0 && usage.CacheReadInputTokens == 0 {
		if gap := rec.TotalTokens - usage.InputTokens - usage.OutputTokens; gap > 0 {
			usage.CacheCreationInputTokens = gap
		}
	}
	return usage
}

func costEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
