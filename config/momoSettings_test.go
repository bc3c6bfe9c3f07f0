package config

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestGetMomoDefaults(t *testing.T) {
	t.Setenv("MOMO_DEFAULT_MAX_RETRY_ATTEMPTS", "")
	t.Setenv("MOMO_DEFAULT_MATCH_AMOUNT_TOLERANCE", "")
	d := GetMomoDefaults()
	if d.MaxRetryAttempts != 5 || d.RetryDelayMinutes != 5 {
		t.Fatalf("unexpected retry defaults: %+v", d)
	}
	if !d.MatchAmountTolerance.IsZero() {
		t.Fatalf("expected zero tolerance, got %s", d.MatchAmountTolerance)
	}

	t.Setenv("MOMO_DEFAULT_MAX_RETRY_ATTEMPTS", "3")
	t.Setenv("MOMO_DEFAULT_MATCH_AMOUNT_TOLERANCE", "0.50")
	t.Setenv("MOMO_DEFAULT_MATCH_DATE_TOLERANCE_DAYS", "abc")
	d = GetMomoDefaults()
	if d.MaxRetryAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", d.MaxRetryAttempts)
	}
	if !d.MatchAmountTolerance.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("expected 0.5 tolerance, got %s", d.MatchAmountTolerance)
	}
	if d.MatchDateToleranceDays != 1 {
		t.Fatalf("invalid value must fall back to default, got %d", d.MatchDateToleranceDays)
	}
}

func TestDecimalFromEnvRejectsNegative(t *testing.T) {
	t.Setenv("X_TOL", "-1")
	if got := decimalFromEnv("X_TOL", decimal.NewFromInt(2)); !got.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("negative tolerance must fall back, got %s", got)
	}
}
