package config

import (
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MomoDefaults holds company-independent fallbacks. Provider rows override any non-zero value.
type MomoDefaults struct {
	MaxRetryAttempts         int
	RetryDelayMinutes        int
	ProcessingTimeoutMinutes int
	ExpiryMinutes            int
	MatchAmountTolerance     decimal.Decimal
	MatchDateToleranceDays   int
	CountryCode              string
	RetryPollInterval        time.Duration
	RetryBatchSize           int
}

// GetMomoDefaults reads MOMO_DEFAULT_* env vars.
func GetMomoDefaults() MomoDefaults {
	return MomoDefaults{
		MaxRetryAttempts:         intFromEnv("MOMO_DEFAULT_MAX_RETRY_ATTEMPTS", 5),
		RetryDelayMinutes:        intFromEnv("MOMO_DEFAULT_RETRY_DELAY_MINUTES", 5),
		ProcessingTimeoutMinutes: intFromEnv("MOMO_DEFAULT_PROCESSING_TIMEOUT_MINUTES", 10),
		ExpiryMinutes:            intFromEnv("MOMO_DEFAULT_EXPIRY_MINUTES", 60),
		MatchAmountTolerance:     decimalFromEnv("MOMO_DEFAULT_MATCH_AMOUNT_TOLERANCE", decimal.Zero),
		MatchDateToleranceDays:   intFromEnv("MOMO_DEFAULT_MATCH_DATE_TOLERANCE_DAYS", 1),
		CountryCode:              stringFromEnv("MOMO_COUNTRY_CODE", "ZM"),
		RetryPollInterval:        time.Duration(intFromEnv("MOMO_RETRY_POLL_SECONDS", 30)) * time.Second,
		RetryBatchSize:           intFromEnv("MOMO_RETRY_BATCH_SIZE", 50),
	}
}

func decimalFromEnv(key string, def decimal.Decimal) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		return def
	}
	return d
}

func stringFromEnv(key string, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
