package middlewares

import (
	"context"
	"errors"
	"testing"

	"github.com/mmdatafocus/momo_backend/models"
	"github.com/mmdatafocus/momo_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderReaderKeepsOrder(t *testing.T) {
	r := &providerReader{fetch: func(ctx context.Context, ids []int) ([]*models.MomoProvider, error) {
		return []*models.MomoProvider{{ID: 3, Name: "Airtel"}, {ID: 1, Name: "MTN"}}, nil
	}}
	results := r.getProviders(context.Background(), []int{1, 2, 3})
	require.Len(t, results, 3)
	assert.Equal(t, "MTN", results[0].Data.Name)
	assert.ErrorIs(t, results[1].Error, utils.ErrorRecordNotFound)
	assert.Equal(t, "Airtel", results[2].Data.Name)
}

func TestProviderReaderPropagatesError(t *testing.T) {
	boom := errors.New("db down")
	r := &providerReader{fetch: func(ctx context.Context, ids []int) ([]*models.MomoProvider, error) {
		return nil, boom
	}}
	results := r.getProviders(context.Background(), []int{1, 2})
	require.Len(t, results, 2)
	for _, res := range results {
		assert.ErrorIs(t, res.Error, boom)
	}
}
