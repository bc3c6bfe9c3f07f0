package providers_test

import (
	"context"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/mmdatafocus/momo_backend/models"
	"github.com/mmdatafocus/momo_backend/providers"
	"github.com/mmdatafocus/momo_backend/providers/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectProvider(t *testing.T) {
	cases := []struct {
		msisdn string
		want   models.ProviderCode
	}{
		{"260961234567", models.ProviderCodeMTN},
		{"260761234567", models.ProviderCodeMTN},
		{"260971234567", models.ProviderCodeAirtel},
		{"260771234567", models.ProviderCodeAirtel},
		{"260951234567", models.ProviderCodeZamtel},
		{"260751234567", models.ProviderCodeZamtel},
	}
	for _, tc := range cases {
		t.Run(tc.msisdn, func(t *testing.T) {
			got, err := providers.DetectProvider(tc.msisdn, "ZM")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := providers.DetectProvider("260211234567", "ZM")
	assert.Error(t, err)
}

func TestCheckMsisdnProvider(t *testing.T) {
	mtn := &models.MomoProvider{Code: models.ProviderCodeMTN, CountryCode: "ZM"}
	assert.NoError(t, providers.CheckMsisdnProvider("260961234567", mtn))

	err := providers.CheckMsisdnProvider("260971234567", mtn)
	assert.True(t, models.IsValidationError(err))

	foreign := &models.MomoProvider{Code: models.ProviderCodeMTN, CountryCode: "GH"}
	assert.NoError(t, providers.CheckMsisdnProvider("233241234567", foreign))
}

func TestRegistry(t *testing.T) {
	r := providers.NewDefaultRegistry()
	for _, code := range []models.ProviderCode{models.ProviderCodeMTN, models.ProviderCodeAirtel, models.ProviderCodeZamtel} {
		g, err := r.Get(code)
		require.NoError(t, err)
		assert.Equal(t, code, g.Code())
	}
	_, err := r.Get("VODAFONE")
	assert.Error(t, err)
}

func TestInitiateDispatchesByDirection(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	g := mocks.NewMockGateway(ctrl)
	cfg := &models.MomoProvider{ID: 1, Code: models.ProviderCodeMTN}
	ctx := context.Background()

	pay := providers.PaymentRequest{Reference: "r1", Type: models.TransactionTypePayment, Amount: decimal.NewFromInt(10)}
	g.EXPECT().RequestToPay(ctx, cfg, pay).Return(&providers.InitiateResult{ProviderReference: "p1", Status: models.TransactionStatusProcessing}, nil)

	out := providers.PaymentRequest{Reference: "r2", Type: models.TransactionTypePayout, Amount: decimal.NewFromInt(10)}
	g.EXPECT().Transfer(ctx, cfg, out).Return(&providers.InitiateResult{ProviderReference: "p2", Status: models.TransactionStatusProcessing}, nil)

	res, err := providers.Initiate(ctx, g, cfg, pay)
	require.NoError(t, err)
	assert.Equal(t, "p1", res.ProviderReference)

	res, err = providers.Initiate(ctx, g, cfg, out)
	require.NoError(t, err)
	assert.Equal(t, "p2", res.ProviderReference)
}
