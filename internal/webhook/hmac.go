package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// VerifySignature verifies a keyed-hash signature against the request body.
//
// This function uses constant-time comparison (crypto/subtle) to prevent
// timing attacks. It is source-agnostic: any sender that signs the raw body
// with a shared secret can be verified with it.
//
// Supported formats:
//   - "sha256=<hex>" (GitHub X-Hub-Signature-256 style)
//   - "sha1=<hex>" (GitHub legacy X-Hub-Signature style)
//   - "<hex>" (plain hex, HMAC-SHA256 assumed)
//
// Returns nil if signature is valid, error otherwise.
// All errors are generic to prevent information leakage.
func VerifySignature(body []byte, signature, secret string) error {
	if secret == "" {
		return fmt.Errorf("webhook verification failed")
	}

	if signature == "" {
		return fmt.Errorf("webhook verification failed")
	}

	newHash, actualMAC, err := parseSignature(signature)
	if err != nil {
		// Generic error - don't leak format details
		return fmt.Errorf("webhook verification failed")
	}

	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	expectedMAC := mac.Sum(nil)

	// Constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare(expectedMAC, actualMAC) != 1 {
		return fmt.Errorf("webhook verification failed")
	}

	return nil
}

// parseSignature extracts the hash constructor and raw signature bytes from
// the supported header formats.
func parseSignature(signature string) (func() hash.Hash, []byte, error) {
	if hexSig, ok := strings.CutPrefix(signature, "sha256="); ok {
		raw, err := hex.DecodeString(hexSig)
		return sha256.New, raw, err
	}
	if hexSig, ok := strings.CutPrefix(signature, "sha1="); ok {
		raw, err := hex.DecodeString(hexSig)
		return sha1.New, raw, err
	}

	// Plain hex defaults to SHA-256.
	raw, err := hex.DecodeString(signature)
	return sha256.New, raw, err
}

// ComputeSignature computes the HMAC-SHA256 signature for a body.
// Used for testing and validation. Returns hex-encoded signature.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
