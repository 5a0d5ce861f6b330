package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"net/http"
	"strings"
)

// SignatureHeaders lists the headers checked for a signature, in order.
var SignatureHeaders = []string{"X-Webhook-Signature", "X-Vercel-Signature", "X-Hub-Signature-256"}

// Verifier checks HMAC signatures computed over raw webhook bodies.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier for the shared secret. An empty secret
// disables verification; enabling it is an operator responsibility.
func NewVerifier(secret string) Verifier {
	return Verifier{secret: []byte(strings.TrimSpace(secret))}
}

// Enabled reports whether a secret is configured.
func (v Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Verify reports whether signature matches the HMAC of body. Accepted forms
// are bare hex (SHA-256), "sha256=<hex>" and "sha1=<hex>".
func (v Verifier) Verify(body []byte, signature string) bool {
	if !v.Enabled() {
		return true
	}
	algo, digest := splitSignature(signature)
	if algo == nil || digest == "" {
		return false
	}
	provided, err := hex.DecodeString(digest)
	if err != nil {
		return false
	}
	mac := hmac.New(algo, v.secret)
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// Sign returns the bare hex SHA-256 signature for body.
func (v Verifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureFromRequest returns the first non-empty signature header.
func SignatureFromRequest(req *http.Request) string {
	for _, name := range SignatureHeaders {
		if value := strings.TrimSpace(req.Header.Get(name)); value != "" {
			return value
		}
	}
	return ""
}

func splitSignature(signature string) (func() hash.Hash, string) {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return nil, ""
	}
	prefix, digest, found := strings.Cut(signature, "=")
	if !found {
		return sha256.New, signature
	}
	switch strings.ToLower(prefix) {
	case "sha256":
		return sha256.New, digest
	case "sha1":
		return sha1.New, digest
	default:
		return nil, ""
	}
}
