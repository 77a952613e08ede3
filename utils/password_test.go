package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRandomPassword(t *testing.T) {
	password, err := GenerateRandomPassword(24)
	require.NoError(t, err)
	assert.Len(t, password, 24)

	for _, r := range password {
		assert.True(t, strings.ContainsRune(passwordCharset, r))
	}
}

func TestGenerateRandomPasswordIsNotRepeatable(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		password, err := GenerateRandomPassword(24)
		require.NoError(t, err)
		assert.False(t, seen[password])
		seen[password] = true
	}
}
