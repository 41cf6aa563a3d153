package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabtedu/counterd/internal/auth"
)

func TestHashAndVerify(t *testing.T) {
	encoded, err := auth.HashKey("super-secret")
	require.NoError(t, err)
	assert.Contains(t, encoded, "$")
	assert.NotContains(t, encoded, "super-secret")

	ok, err := auth.VerifyKey("super-secret", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = auth.VerifyKey("wrong", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashIsSalted(t *testing.T) {
	a, err := auth.HashKey("key")
	require.NoError(t, err)
	b, err := auth.HashKey("key")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyRejectsMalformedEncodings(t *testing.T) {
	for _, encoded := range []string{"", "no-separator", "!!!$abc", "abc$!!!"} {
		_, err := auth.VerifyKey("key", encoded)
		assert.Error(t, err, "encoded %q", encoded)
	}
}

func TestVerifyTamperedHashFails(t *testing.T) {
	encoded, err := auth.HashKey("key")
	require.NoError(t, err)

	salt, _, ok := strings.Cut(encoded, "$")
	require.True(t, ok)
	valid, err := auth.VerifyKey("key", salt+"$"+"QUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUE=")
	require.NoError(t, err)
	assert.False(t, valid)
}
