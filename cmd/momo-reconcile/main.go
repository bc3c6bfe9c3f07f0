package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/models"
	"github.com/mmdatafocus/momo_backend/utils"
	"github.com/mmdatafocus/momo_backend/workflow"
	"github.com/shopspring/decimal"
)

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	companyID := flag.String("company-id", "", "Company the reconciliation belongs to (required)")
	reconID := flag.Int("reconciliation-id", 0, "Existing reconciliation to import into. If 0, a new one is started")
	providerID := flag.Int("provider-id", 0, "Provider for a new reconciliation")
	from := flag.String("from", "", "Period start (YYYY-MM-DD) for a new reconciliation")
	to := flag.String("to", "", "Period end (YYYY-MM-DD) for a new reconciliation")
	opening := flag.String("opening", "0", "Statement opening balance for a new reconciliation")
	closing := flag.String("closing", "0", "Statement closing balance for a new reconciliation")
	file := flag.String("file", "", "Statement file (.csv or .xlsx)")
	export := flag.String("export", "", "Optional: write the reconciliation workbook to this path")
	complete := flag.Bool("complete", false, "Complete the reconciliation after the run")
	flag.Parse()

	if strings.TrimSpace(*companyID) == "" {
		fail("-company-id is required")
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fail("database not initialized (config.GetDB returned nil)")
	}
	models.MigrateTable()

	ctx := utils.SystemContext(context.Background(), strings.TrimSpace(*companyID))
	ctx = utils.SetUserNameInContext(ctx, "MomoReconcileCLI")
	w := workflow.NewReconciliationWorkflow(config.GetLogger())

	id := *reconID
	if id == 0 {
		input, err := newReconciliationInput(*providerID, *from, *to, *opening, *closing)
		if err != nil {
			fail("invalid reconciliation: %v", err)
		}
		recon, err := w.Start(ctx, input)
		if err != nil {
			fail("failed to start reconciliation: %v", err)
		}
		id = recon.ID
		fmt.Printf("Started reconciliation %d for provider %d (%s .. %s)\n", id, recon.ProviderId, *from, *to)
	}

	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			fail("failed to read statement: %v", err)
		}
		_, n, err := w.ImportStatement(ctx, id, filepath.Base(*file), data)
		if err != nil {
			fail("failed to import statement: %v", err)
		}
		fmt.Printf("Imported %d statement lines from %s\n", n, *file)
	}

	recon, err := w.Run(ctx, id)
	if err != nil {
		fail("reconciliation run failed: %v", err)
	}
	fmt.Printf("Run complete: matched=%d unmatched_bank=%d unmatched_book=%d difference=%s status=%s\n",
		recon.MatchedCount, recon.UnmatchedBankCount, recon.UnmatchedBookCount, recon.Difference.StringFixed(2), recon.Status)

	if *complete {
		recon, err = w.Complete(ctx, id, "completed from momo-reconcile")
		if err != nil {
			fail("failed to complete reconciliation: %v", err)
		}
		fmt.Printf("Reconciliation %d is now %s\n", id, recon.Status)
	}

	if *export != "" {
		data, _, err := w.ExportExcel(ctx, id)
		if err != nil {
			fail("export failed: %v", err)
		}
		if err := os.WriteFile(*export, data, 0o644); err != nil {
			fail("failed to write %s: %v", *export, err)
		}
		fmt.Printf("Wrote %s\n", *export)
	}
}

func newReconciliationInput(providerID int, from, to, opening, closing string) (*models.NewBankReconciliation, error) {
	if providerID <= 0 {
		return nil, fmt.Errorf("-provider-id is required when -reconciliation-id is not set")
	}
	start, err := time.Parse("2006-01-02", strings.TrimSpace(from))
	if err != nil {
		return nil, fmt.Errorf("-from: %w", err)
	}
	end, err := time.Parse("2006-01-02", strings.TrimSpace(to))
	if err != nil {
		return nil, fmt.Errorf("-to: %w", err)
	}
	openingBal, err := decimal.NewFromString(strings.TrimSpace(opening))
	if err != nil {
		return nil, fmt.Errorf("-opening: %w", err)
	}
	closingBal, err := decimal.NewFromString(strings.TrimSpace(closing))
	if err != nil {
		return nil, fmt.Errorf("-closing: %w", err)
	}
	return &models.NewBankReconciliation{
		ProviderId:              providerID,
		PeriodStart:             start,
		PeriodEnd:               end,
		StatementOpeningBalance: openingBal,
		StatementClosingBalance: closingBal,
		Notes:                   "started from momo-reconcile",
	}, nil
}
