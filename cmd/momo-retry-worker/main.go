package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mmdatafocus/momo_backend/config"
	"github.com/mmdatafocus/momo_backend/providers"
	"github.com/mmdatafocus/momo_backend/workflow"
	"github.com/sirupsen/logrus"
)

func main() {
	once := flag.Bool("once", false, "Process a single batch and exit")
	batch := flag.Int("batch-size", 0, "Override MOMO_RETRY_BATCH_SIZE")
	interval := flag.Duration("interval", 0, "Override MOMO_RETRY_POLL_INTERVAL (e.g. 15s)")
	flag.Parse()

	logger := config.GetLogger()

	// Explicit DB connect (config no longer connects DB in init()).
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	// Token cache and idempotency fall back to no-op without Redis; connect when configured.
	if os.Getenv("REDIS_ADDRESS") != "" {
		config.ConnectRedisWithRetry()
	}

	payments := workflow.NewPaymentWorkflow(providers.NewDefaultRegistry(), logger)
	scheduler := workflow.NewRetryScheduler(db, payments, logger)
	if *batch > 0 {
		scheduler.BatchSize = *batch
	}
	if *interval > 0 {
		scheduler.PollInterval = *interval
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		start := time.Now()
		n, err := scheduler.RunOnce(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "retry batch failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Processed %d due transactions in %s\n", n, time.Since(start).Round(time.Millisecond))
		return
	}

	logger.WithFields(logrus.Fields{
		"field":     "momo-retry-worker",
		"worker_id": scheduler.WorkerID,
		"batch":     scheduler.BatchSize,
		"interval":  scheduler.PollInterval.String(),
	}).Info("retry worker started")
	scheduler.Run(ctx)
	logger.WithFields(logrus.Fields{"field": "momo-retry-worker"}).Info("retry worker stopped")
}
