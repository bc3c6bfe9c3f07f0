package config

import (
	"os"
	"strings"
)

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

func envBoolDefault(key string, def bool) bool {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return def
	}
	return envBool(key)
}

// RetrySchedulerEnabled starts the in-process retry scheduler with the API server.
//
// Set via env:
// - MOMO_RETRY_SCHEDULER_ENABLED=true (default true)
func RetrySchedulerEnabled() bool {
	return envBoolDefault("MOMO_RETRY_SCHEDULER_ENABLED", true)
}

// DirectEventProcessing processes outbox events in-process instead of waiting for Pub/Sub push delivery.
// Useful for local development where no push subscription exists.
//
// Set via env:
// - MOMO_EVENT_DIRECT_PROCESSING=true
func DirectEventProcessing() bool {
	return envBool("MOMO_EVENT_DIRECT_PROCESSING")
}

// OutboxDispatcherEnabled publishes outbox records to Pub/Sub from the API process.
//
// Set via env:
// - MOMO_OUTBOX_DISPATCHER_ENABLED=true (default true)
func OutboxDispatcherEnabled() bool {
	return envBoolDefault("MOMO_OUTBOX_DISPATCHER_ENABLED", true)
}

// SkipMigrations disables AutoMigrate on startup.
func SkipMigrations() bool {
	return envBool("SKIP_MIGRATIONS")
}

// NotificationsEnabled reports whether lifecycle notifications are published.
//
// Set via env:
// - MOMO_NOTIFICATIONS_TOPIC=<topic>
func NotificationsEnabled() bool {
	return strings.TrimSpace(os.Getenv("MOMO_NOTIFICATIONS_TOPIC")) != ""
}
