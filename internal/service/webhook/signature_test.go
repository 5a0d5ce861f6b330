package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyAcceptsCorrectSignature(t *testing.T) {
	v := NewVerifier("topsecret")
	body := []byte(`{"type":"deployment.error"}`)

	sig := v.Sign(body)
	assert.True(t, v.Verify(body, sig))
	assert.True(t, v.Verify(body, "sha256="+sig))
}

func TestVerifyRejectsSingleByteMutation(t *testing.T) {
	v := NewVerifier("topsecret")
	body := []byte(`{"type":"deployment.error","payload":{}}`)
	sig := v.Sign(body)

	for i := range body {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01
		require.False(t, v.Verify(mutated, sig), "mutation at byte %d verified", i)
	}
}

func TestVerifySHA1Prefix(t *testing.T) {
	v := NewVerifier("topsecret")
	body := []byte("payload")
	mac := hmac.New(sha1.New, []byte("topsecret"))
	mac.Write(body)
	sig := "sha1=" + hex.EncodeToString(mac.Sum(nil))

	assert.True(t, v.Verify(body, sig))
}

func TestVerifyMalformedSignatures(t *testing.T) {
	v := NewVerifier("topsecret")
	body := []byte("payload")
	for _, sig := range []string{"", "   ", "zz-not-hex", "md5=abcd", "sha256=", "sha256=xyz"} {
		assert.False(t, v.Verify(body, sig), "signature %q", sig)
	}
}

func TestVerifyWithoutSecretAlwaysPasses(t *testing.T) {
	v := NewVerifier("  ")
	assert.False(t, v.Enabled())
	assert.True(t, v.Verify([]byte("anything"), ""))
	assert.True(t, v.Verify([]byte("anything"), "garbage"))
}

func TestSignatureFromRequestHeaderOrder(t *testing.T) {
	req := httptest.NewRequest("POST", "/", nil)
	req.Header.Set("X-Hub-Signature-256", "sha256=bbb")
	req.Header.Set("X-Vercel-Signature", "aaa")
	assert.Equal(t, "aaa", SignatureFromRequest(req))

	req.Header.Set("X-Webhook-Signature", "ccc")
	assert.Equal(t, "ccc", SignatureFromRequest(req))
}
