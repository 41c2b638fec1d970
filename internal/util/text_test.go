package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBoolTokens(t *testing.T) {
	for _, s := range []string{"1", "true", "TRUE", " yes ", "on", "y", "enabled"} {
		b, err := ParseBool(s)
		require.NoError(t, err, s)
		assert.True(t, b, s)
	}
	for _, s := range []string{"0", "false", "No", "off", "", "disabled"} {
		b, err := ParseBool(s)
		require.NoError(t, err, s)
		assert.False(t, b, s)
	}
	_, err := ParseBool("maybe")
	assert.Error(t, err)
}

func TestParseBoolDefault(t *testing.T) {
	assert.True(t, ParseBoolDefault("", true))
	assert.True(t, ParseBoolDefault("garbage", true))
	assert.False(t, ParseBoolDefault("off", true))
}

func TestNormalizeUsername(t *testing.T) {
	assert.Equal(t, "alice", NormalizeUsername(" @Alice "))
	assert.Equal(t, NormalizeUsername("STRASSE"), NormalizeUsername("strasse"))
	assert.Equal(t, "", NormalizeUsername("  "))
}

func TestNormalizeWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", NormalizeWhitespace("  a \n b\t\tc "))
}
