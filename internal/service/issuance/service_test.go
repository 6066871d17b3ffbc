package issuance

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomToken(t *testing.T) {
	seen := make(map[string]bool)

	for i := 0; i < 100; i++ {
		tok := randomToken()

		assert.Len(t, tok, 32)
		_, err := hex.DecodeString(tok)
		require.NoError(t, err)

		assert.False(t, seen[tok], "token repeated: %s", tok)
		seen[tok] = true
	}
}

func TestShortCode(t *testing.T) {
	const charset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	for i := 0; i < 100; i++ {
		code := shortCode()

		assert.Len(t, code, 8)
		for _, r := range code {
			assert.True(t, strings.ContainsRune(charset, r),
				"unexpected rune %q in %s", r, code)
		}
	}
}
