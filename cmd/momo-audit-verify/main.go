package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/models"
	"github.com/mmdatafocus/momo_backend/utils"
)

func main() {
	companyID := flag.String("company-id", "", "Company whose audit chains are verified (required)")
	transactionID := flag.Int("transaction-id", 0, "Optional: verify only this transaction")
	flagBroken := flag.Bool("flag", false, "Flag transactions with a broken chain for review")
	flag.Parse()

	if strings.TrimSpace(*companyID) == "" {
		fmt.Fprintln(os.Stderr, "-company-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	ctx := utils.SystemContext(context.Background(), strings.TrimSpace(*companyID))
	ctx = utils.SetUserNameInContext(ctx, "MomoAuditVerify")

	var ids []int
	if *transactionID > 0 {
		ids = []int{*transactionID}
	} else if err := db.WithContext(ctx).Model(&models.MomoTransaction{}).
		Where("company_id = ?", strings.TrimSpace(*companyID)).
		Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to list transactions: %v\n", err)
		os.Exit(1)
	}

	broken := 0
	for _, id := range ids {
		intact, brokenAt, err := models.VerifyTransactionAuditChain(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "transaction %d: %v\n", id, err)
			broken++
			continue
		}
		if intact {
			continue
		}
		broken++
		fmt.Printf("transaction %d: chain broken at sequence %d\n", id, brokenAt)
		if !*flagBroken {
			continue
		}
		txn, err := models.GetMomoTransaction(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "transaction %d: %v\n", id, err)
			continue
		}
		if txn.NeedsReview {
			continue
		}
		reason := fmt.Sprintf("audit chain broken at sequence %d", brokenAt)
		if err := models.FlagTransactionForReview(ctx, txn, reason, models.EventSourceOperator); err != nil {
			fmt.Fprintf(os.Stderr, "transaction %d: failed to flag: %v\n", id, err)
		}
	}

	fmt.Printf("Verified %d transactions; %d with broken or unreadable chains\n", len(ids), broken)
	if broken > 0 {
		os.Exit(2)
	}
}
