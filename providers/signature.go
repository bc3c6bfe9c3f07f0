package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/mmdatafocus/momo_backend/models"
)

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC accepts a hex or base64 HMAC-SHA256, optionally prefixed with "sha256=".
// Comparison is constant time.
func VerifyHMAC(cfg *models.MomoProvider, payload []byte, signature string) error {
	if cfg.WebhookSecret == "" {
		return &models.SignatureError{ProviderId: cfg.ID, Reason: "provider has no webhook secret"}
	}
	sig := strings.TrimSpace(signature)
	sig = strings.TrimPrefix(sig, "sha256=")
	if sig == "" {
		return &models.SignatureError{ProviderId: cfg.ID, Reason: "missing signature"}
	}

	mac := hmac.New(sha256.New, []byte(cfg.WebhookSecret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	var got []byte
	if b, err := hex.DecodeString(sig); err == nil && len(b) == sha256.Size {
		got = b
	} else if b, err := base64.StdEncoding.DecodeString(sig); err == nil && len(b) == sha256.Size {
		got = b
	} else {
		return &models.SignatureError{ProviderId: cfg.ID, Reason: "malformed signature"}
	}
	if !hmac.Equal(expected, got) {
		return &models.SignatureError{ProviderId: cfg.ID, Reason: "signature mismatch"}
	}
	return nil
}
