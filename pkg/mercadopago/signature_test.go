package mercadopago

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	now := time.Unix(1742505638, 0)
	ts := fmt.Sprintf("%d", now.Unix())
	manifest := SignatureManifest("123456", "req-1", ts)
	assert.Equal(t, "id:123456;request-id:req-1;ts:1742505638;", manifest)

	header := fmt.Sprintf("ts=%s,v1=%s", ts, Sign("secret", manifest))
	require.NoError(t, VerifySignature("secret", header, "req-1", "123456", 5*time.Minute, now))

	assert.ErrorIs(t, VerifySignature("other", header, "req-1", "123456", 0, now), ErrSignatureInvalid)
	assert.ErrorIs(t, VerifySignature("secret", header, "req-2", "123456", 0, now), ErrSignatureInvalid)
	assert.ErrorIs(t, VerifySignature("secret", header, "req-1", "123456", time.Minute, now.Add(time.Hour)), ErrSignatureExpired)
	assert.ErrorIs(t, VerifySignature("secret", "", "req-1", "123456", 0, now), ErrSignatureMissing)
}

func TestSignatureManifestLowercasesDataID(t *testing.T) {
	assert.Equal(t, "id:abc;ts:1;", SignatureManifest("ABC", "", "1"))
}

func TestParseSignatureTolerantOfSpacing(t *testing.T) {
	sig, err := ParseSignature(" ts = 1700000000 , v1 = ABCDEF ")
	require.NoError(t, err)
	assert.Equal(t, "1700000000", sig.Timestamp)
	assert.Equal(t, "abcdef", sig.V1)
}

func TestParseSignatureTimeMilliseconds(t *testing.T) {
	ts, err := parseSignatureTime("1700000000123")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), ts.Unix())
}
