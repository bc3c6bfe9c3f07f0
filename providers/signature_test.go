package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/mmdatafocus/momo_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyHMAC(t *testing.T) {
	cfg := &models.MomoProvider{ID: 3, WebhookSecret: "whsec_0123456789abcdef"}
	payload := []byte(`{"externalId":"abc","status":"SUCCESSFUL"}`)
	sig := SignPayload(cfg.WebhookSecret, payload)

	assert.NoError(t, VerifyHMAC(cfg, payload, sig))
	assert.NoError(t, VerifyHMAC(cfg, payload, "sha256="+sig))

	mac := hmac.New(sha256.New, []byte(cfg.WebhookSecret))
	mac.Write(payload)
	assert.NoError(t, VerifyHMAC(cfg, payload, base64.StdEncoding.EncodeToString(mac.Sum(nil))))

	cases := map[string]struct {
		cfg     *models.MomoProvider
		payload []byte
		sig     string
	}{
		"tampered payload": {cfg, []byte(`{"externalId":"abc","status":"FAILED"}`), sig},
		"wrong secret":     {&models.MomoProvider{ID: 3, WebhookSecret: "another-secret-value"}, payload, sig},
		"missing":          {cfg, payload, ""},
		"malformed":        {cfg, payload, "not-a-signature"},
		"no secret":        {&models.MomoProvider{ID: 3}, payload, sig},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := VerifyHMAC(tc.cfg, tc.payload, tc.sig)
			var sigErr *models.SignatureError
			require.True(t, errors.As(err, &sigErr), "got %v", err)
			assert.Equal(t, 3, sigErr.ProviderId)
		})
	}
}
