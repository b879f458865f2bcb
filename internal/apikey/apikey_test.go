package apikey_test

import (
	"strings"
	"testing"

	"github.com/kiranshivaraju/scoutreport/internal/apikey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestGenerate(t *testing.T) {
	raw, key, err := apikey.Generate("U1", "ci", []string{"reports"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw, "sr_"))
	assert.Len(t, raw, 3+48)
	assert.Equal(t, raw[:apikey.PrefixLen], key.KeyPrefix)
	assert.Equal(t, "U1", key.OwnerID)
	assert.Equal(t, []string{"reports"}, key.Scopes)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(raw)))
	assert.NotContains(t, key.KeyHash, raw)
}

func TestGenerate_Unique(t *testing.T) {
	a, _, err := apikey.Generate("U1", "a", nil)
	require.NoError(t, err)
	b, _, err := apikey.Generate("U1", "b", nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestNew_Rejects(t *testing.T) {
	_, err := apikey.New("short", "U1", "x", nil)
	assert.Error(t, err)
	_, err = apikey.New("sr_long_enough_key", "", "x", nil)
	assert.Error(t, err)
}
