package qrtoken

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresSecret(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	c, err := New([]byte("secret"))
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestSignVerifyRoundtrip(t *testing.T) {
	c, err := New([]byte("test-secret"))
	require.NoError(t, err)

	signed, err := c.Sign(Payload{Token: "abc123", EventID: 42})
	require.NoError(t, err)
	assert.Contains(t, signed, ".")

	p, err := c.Verify(signed, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "abc123", p.Token)
	assert.Equal(t, int64(42), p.EventID)
	assert.Zero(t, p.Exp)
}

func TestSignRejectsEmptyToken(t *testing.T) {
	c, err := New([]byte("test-secret"))
	require.NoError(t, err)

	_, err = c.Sign(Payload{EventID: 1})
	assert.Error(t, err)
}

func TestVerifyRejectsEveryTamperedByte(t *testing.T) {
	c, err := New([]byte("test-secret"))
	require.NoError(t, err)

	signed, err := c.Sign(Payload{Token: "tok", EventID: 7})
	require.NoError(t, err)

	for i := 0; i < len(signed); i++ {
		mutated := []byte(signed)
		if mutated[i] == 'A' {
			mutated[i] = 'B'
		} else {
			mutated[i] = 'A'
		}
		if string(mutated) == signed {
			continue
		}

		_, err := c.Verify(string(mutated), time.Now())
		assert.Errorf(t, err, "byte %d flipped but token still verified", i)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	a, err := New([]byte("secret-a"))
	require.NoError(t, err)
	b, err := New([]byte("secret-b"))
	require.NoError(t, err)

	signed, err := a.Sign(Payload{Token: "tok", EventID: 1})
	require.NoError(t, err)

	_, err = b.Verify(signed, time.Now())
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyExpiry(t *testing.T) {
	c, err := New([]byte("test-secret"))
	require.NoError(t, err)

	now := time.Now()

	signed, err := c.Sign(Payload{Token: "tok", EventID: 1, Exp: now.Add(time.Hour).Unix()})
	require.NoError(t, err)

	_, err = c.Verify(signed, now)
	assert.NoError(t, err)

	_, err = c.Verify(signed, now.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyMalformed(t *testing.T) {
	c, err := New([]byte("test-secret"))
	require.NoError(t, err)

	cases := []string{
		"",
		"no-dot-at-all",
		"not!base64.url",
		"eyJ0Ijoi.not!base64",
	}

	for _, raw := range cases {
		_, err := c.Verify(raw, time.Now())
		assert.Error(t, err, raw)
	}
}

func TestVerifyRejectsSwappedParts(t *testing.T) {
	c, err := New([]byte("test-secret"))
	require.NoError(t, err)

	signed, err := c.Sign(Payload{Token: "tok", EventID: 1})
	require.NoError(t, err)

	payload, mac, ok := strings.Cut(signed, ".")
	require.True(t, ok)

	_, err = c.Verify(mac+"."+payload, time.Now())
	assert.Error(t, err)
}
