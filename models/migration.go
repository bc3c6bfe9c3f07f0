package models

import (
	"log"

	"github.com/mmdatafocus/momo_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&History{},
		&IdempotencyKey{},
		&MomoProvider{},
		&MomoTransaction{}, &MomoTransactionEvent{},
		&MomoWebhook{},
		&MomoEventRecord{},
		&MomoLedgerEntry{},
		&BankReconciliation{}, &ReconciliationStatementLine{}, &ReconciliationMatch{}, &ReconciliationAction{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
