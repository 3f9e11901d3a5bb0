package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestL2HeadersAtSignsDeterministically(t *testing.T) {
	auth := &HMACAuth{
		Key:        "api-key",
		Secret:     "c2VjcmV0LWtleQ==",
		Passphrase: "pass",
	}

	headers := auth.L2HeadersAt("0xabc", "GET", "/orders", "", 1700000000)

	require.Equal(t, "0xabc", headers["POLY_ADDRESS"])
	require.Equal(t, "api-key", headers["POLY_API_KEY"])
	require.Equal(t, "1700000000", headers["POLY_TIMESTAMP"])
	require.Equal(t, "pass", headers["POLY_PASSPHRASE"])
	assert.Equal(t, "FiR/8+FuoyTo5Tj6Wu3NxOZad4qYdR19WFI9WxOwZ+U=", headers["POLY_SIGNATURE"])
}

func TestL2HeadersBodyChangesSignature(t *testing.T) {
	auth := &HMACAuth{Key: "k", Secret: "c2VjcmV0LWtleQ==", Passphrase: "p"}

	a := auth.L2HeadersAt("0xabc", "POST", "/order", `{"size":1}`, 1700000000)
	b := auth.L2HeadersAt("0xabc", "POST", "/order", `{"size":2}`, 1700000000)

	assert.NotEqual(t, a["POLY_SIGNATURE"], b["POLY_SIGNATURE"])
}

func TestStringRedactsCredentials(t *testing.T) {
	auth := &HMACAuth{Key: "abcdef123", Secret: "topsecretvalue"}

	s := auth.String()
	assert.NotContains(t, s, "abcdef123")
	assert.NotContains(t, s, "topsecretvalue")
	assert.Contains(t, s, "abcd****")
}
