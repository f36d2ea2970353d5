package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func computeSHA1(body []byte, secret string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{"event":"push"}`)
	valid := ComputeSignature(body, secret)

	tests := []struct {
		name      string
		signature string
		secret    string
		wantErr   bool
	}{
		{"sha256 prefix", "sha256=" + valid, secret, false},
		{"plain hex", valid, secret, false},
		{"wrong secret", "sha256=" + valid, "other-secret", true},
		{"tampered signature", "sha256=" + ComputeSignature([]byte("other"), secret), secret, true},
		{"not hex", "sha256=zzzz", secret, true},
		{"empty signature", "", secret, true},
		{"empty secret", "sha256=" + valid, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(body, tt.signature, tt.secret)
			if tt.wantErr {
				require.Error(t, err)
				// Generic error only, no detail leakage.
				assert.Equal(t, "webhook verification failed", err.Error())
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerifySignatureSHA1(t *testing.T) {
	// Legacy X-Hub-Signature deliveries still verify.
	body := []byte(`{"zen":"Speak like a human."}`)
	sig := "sha1=" + computeSHA1(body, "s3cret")
	assert.NoError(t, VerifySignature(body, sig, "s3cret"))
	assert.Error(t, VerifySignature(body, sig, "wrong"))
}
