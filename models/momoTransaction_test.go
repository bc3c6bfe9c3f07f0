package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeNetAmount(t *testing.T) {
	net, err := ComputeNetAmount(dec("100"), dec("2"))
	require.NoError(t, err)
	assert.True(t, dec("98").Equal(net))

	net, err = ComputeNetAmount(dec("3"), dec("3"))
	require.NoError(t, err)
	assert.True(t, net.IsZero())

	_, err = ComputeNetAmount(dec("3"), dec("3.01"))
	assert.True(t, IsValidationError(err))
	_, err = ComputeNetAmount(dec("-1"), dec("0"))
	assert.True(t, IsValidationError(err))
	_, err = ComputeNetAmount(dec("10"), dec("-1"))
	assert.True(t, IsValidationError(err))
}

func TestBeforeSaveKeepsNetAmount(t *testing.T) {
	txn := &MomoTransaction{ID: 4, Amount: dec("100"), FeeAmount: dec("2"), NetAmount: dec("1")}
	require.NoError(t, txn.BeforeSave(nil))
	assert.True(t, dec("98").Equal(txn.NetAmount))

	bad := &MomoTransaction{ID: 5, Amount: dec("1"), FeeAmount: dec("2")}
	assert.Error(t, bad.BeforeSave(nil))

	empty := &MomoTransaction{}
	assert.NoError(t, empty.BeforeSave(nil))
}

func TestWebhookDedupeHash(t *testing.T) {
	a := WebhookDedupeHash(1, "evt-1")
	assert.Len(t, a, 64)
	assert.Equal(t, a, WebhookDedupeHash(1, "evt-1"))
	assert.NotEqual(t, a, WebhookDedupeHash(2, "evt-1"))
	assert.NotEqual(t, a, WebhookDedupeHash(1, "evt-2"))
}

func TestIdCursorRoundTrip(t *testing.T) {
	id, err := DecodeIdCursor(EncodeIdCursor(42))
	require.NoError(t, err)
	assert.Equal(t, 42, id)

	id, err = DecodeIdCursor("")
	require.NoError(t, err)
	assert.Zero(t, id)

	_, err = DecodeIdCursor("%%%")
	assert.True(t, IsValidationError(err))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 50, clampLimit(0))
	assert.Equal(t, 10, clampLimit(10))
	assert.Equal(t, 200, clampLimit(5000))
}
