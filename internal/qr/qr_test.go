package qr_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/puffperksonline/puffperks/internal/qr"
)

func TestSignupURLIsSignedAndVerifiable(t *testing.T) {
	gen := qr.NewGenerator("https://puffperks.online", "test-secret")

	url := gen.SignupURL("loc-1")
	assert.True(t, strings.HasPrefix(url, "https://puffperks.online/join/loc-1?sig="))

	sig := url[strings.Index(url, "sig=")+4:]
	assert.True(t, gen.VerifySignature("loc-1", sig))

	// Signature does not transfer to another location
	assert.False(t, gen.VerifySignature("loc-2", sig))

	// A different secret yields a different signature
	other := qr.NewGenerator("https://puffperks.online", "other-secret")
	assert.False(t, other.VerifySignature("loc-1", sig))
}

func TestSignupQRRendersPNG(t *testing.T) {
	gen := qr.NewGenerator("https://puffperks.online", "test-secret")

	png, err := gen.SignupQR("loc-1")
	assert.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}
