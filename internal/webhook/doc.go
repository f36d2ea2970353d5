// Package webhook implements the hub's HTTP boundary: authenticated
// endpoints for each external sender, publishing raw events onto the bus.
//
// # Security Model
//
// - GitHub deliveries carry an HMAC signature verified with crypto/subtle
//   (constant-time comparison)
// - Buildbot, agent and chat senders embed a capability token in the path
// - WHMCS carries its token in the request body
// - Body size limits enforced to prevent DoS
// - No signature details leaked in error responses (always generic 403)
// - Per-IP rate limiting on all POST endpoints
//
// # Error Responses
//
// - 400 Bad Request: well-formed auth but malformed payload
// - 403 Forbidden: invalid or missing signature/token (no details)
// - 404 Not Found: unknown path (includes wrong path tokens)
// - 413 Payload Too Large: body exceeds the size limit
// - 429 Too Many Requests: sender exceeded the per-IP rate limit
//
// Everything past authentication is publish-and-ack: normalization failures
// never surface to the sender, with the single exception of the WHMCS ticket
// routes, which validate the payload before acknowledging.
package webhook
