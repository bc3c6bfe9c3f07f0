package models

import (
	"testing"
	"time"

	"github.com/mmdatafocus/momo_backend/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculateFee(t *testing.T) {
	cases := []struct {
		name     string
		provider MomoProvider
		amount   string
		want     string
	}{
		{"percentage only", MomoProvider{FeePercentage: dec("1.5")}, "200", "3"},
		{"fixed plus percentage", MomoProvider{FeeFixed: dec("0.5"), FeePercentage: dec("1")}, "100", "1.5"},
		{"clamped to min", MomoProvider{FeePercentage: dec("1"), FeeMin: dec("2")}, "50", "2"},
		{"clamped to max", MomoProvider{FeePercentage: dec("2"), FeeMax: dec("10")}, "1000", "10"},
		{"rounded half away", MomoProvider{FeePercentage: dec("1.25")}, "10.2", "0.13"},
		{"never above amount", MomoProvider{FeeFixed: dec("5")}, "3", "3"},
		{"no fee structure", MomoProvider{}, "100", "0"},
		{"zero amount", MomoProvider{FeeFixed: dec("1")}, "0", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.provider.CalculateFee(dec(tc.amount))
			assert.True(t, dec(tc.want).Equal(got), "want %s got %s", tc.want, got)
		})
	}
}

func TestCheckAmountLimits(t *testing.T) {
	p := MomoProvider{MinAmount: dec("1"), MaxAmount: dec("5000")}

	assert.NoError(t, p.CheckAmountLimits(dec("1")))
	assert.NoError(t, p.CheckAmountLimits(dec("5000")))
	assert.NoError(t, p.CheckAmountLimits(dec("12.50")))

	for _, bad := range []string{"0", "-5", "0.5", "5000.01", "10.005"} {
		err := p.CheckAmountLimits(dec(bad))
		assert.Error(t, err, bad)
		assert.True(t, IsValidationError(err), bad)
	}

	unbounded := MomoProvider{}
	assert.NoError(t, unbounded.CheckAmountLimits(dec("1000000")))
}

func TestRequiresApproval(t *testing.T) {
	p := MomoProvider{PayoutApprovalThreshold: dec("1000")}

	assert.False(t, p.RequiresApproval(TransactionTypePayment, dec("50000")))
	assert.False(t, p.RequiresApproval(TransactionTypePayout, dec("999.99")))
	assert.True(t, p.RequiresApproval(TransactionTypePayout, dec("1000")))
	assert.True(t, p.RequiresApproval(TransactionTypeTransfer, dec("2500")))
	assert.True(t, p.RequiresApproval(TransactionTypeRefund, dec("1000")))

	none := MomoProvider{}
	assert.False(t, none.RequiresApproval(TransactionTypePayout, dec("1000000")))
}

func TestProviderSettingsFallBackToDefaults(t *testing.T) {
	defaults := config.MomoDefaults{
		MaxRetryAttempts:         5,
		RetryDelayMinutes:        5,
		ProcessingTimeoutMinutes: 10,
		ExpiryMinutes:            60,
		MatchAmountTolerance:     dec("0.01"),
		MatchDateToleranceDays:   1,
	}

	s := (&MomoProvider{}).Settings(defaults)
	assert.Equal(t, 5, s.MaxRetryAttempts)
	assert.Equal(t, 5*time.Minute, s.RetryDelay)
	assert.Equal(t, 10*time.Minute, s.ProcessingTimeout)
	assert.Equal(t, time.Hour, s.Expiry)
	assert.True(t, dec("0.01").Equal(s.MatchAmountTolerance))
	assert.Equal(t, 1, s.MatchDateToleranceDays)

	s = (&MomoProvider{
		MaxRetryAttempts:       3,
		RetryDelayMinutes:      2,
		MatchAmountTolerance:   dec("1"),
		MatchDateToleranceDays: 3,
	}).Settings(defaults)
	assert.Equal(t, 3, s.MaxRetryAttempts)
	assert.Equal(t, 2*time.Minute, s.RetryDelay)
	assert.True(t, dec("1").Equal(s.MatchAmountTolerance))
	assert.Equal(t, 3, s.MatchDateToleranceDays)
}

func TestProviderActive(t *testing.T) {
	yes, no := true, false
	assert.True(t, (&MomoProvider{}).Active())
	assert.True(t, (&MomoProvider{IsActive: &yes}).Active())
	assert.False(t, (&MomoProvider{IsActive: &no}).Active())
}
