package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCode(t *testing.T) {
	t.Run("classifies EAN-13", func(t *testing.T) {
		parsed, err := ParseCode("4006381333931")
		require.NoError(t, err)
		assert.Equal(t, SchemeEAN13, parsed.Scheme)
		assert.Equal(t, "4006381333931", parsed.Code)
	})

	t.Run("classifies UPC-A", func(t *testing.T) {
		parsed, err := ParseCode("036000291452")
		require.NoError(t, err)
		assert.Equal(t, SchemeUPCA, parsed.Scheme)
	})

	t.Run("classifies EAN-8", func(t *testing.T) {
		parsed, err := ParseCode("96385074")
		require.NoError(t, err)
		assert.Equal(t, SchemeEAN8, parsed.Scheme)
	})

	t.Run("rejects bad checksum", func(t *testing.T) {
		_, err := ParseCode("4006381333932")
		assert.Error(t, err)
	})

	t.Run("classifies internal SKU case-insensitively", func(t *testing.T) {
		parsed, err := ParseCode("sku-ab12-x")
		require.NoError(t, err)
		assert.Equal(t, SchemeSKU, parsed.Scheme)
		assert.Equal(t, "SKU-AB12-X", parsed.Code)
	})

	t.Run("strips whitespace", func(t *testing.T) {
		parsed, err := ParseCode("  96385074\n")
		require.NoError(t, err)
		assert.Equal(t, "96385074", parsed.Code)
	})

	t.Run("keeps unrecognized payloads under the raw scheme", func(t *testing.T) {
		parsed, err := ParseCode("TOTE/42/B")
		require.NoError(t, err)
		assert.Equal(t, SchemeRaw, parsed.Scheme)
		assert.Equal(t, "TOTE/42/B", parsed.Code)
	})

	t.Run("rejects empty payloads", func(t *testing.T) {
		_, err := ParseCode("   ")
		assert.Error(t, err)
	})

	t.Run("digit payloads of odd lengths fall back to raw", func(t *testing.T) {
		parsed, err := ParseCode("12345")
		require.NoError(t, err)
		assert.Equal(t, SchemeRaw, parsed.Scheme)
	})
}
