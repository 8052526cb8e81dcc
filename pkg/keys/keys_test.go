package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeypair(t *testing.T) {
	keypair, err := GenerateKeypair()
	require.NoError(t, err)
	assert.False(t, keypair.Identity().IsZero())

	message := []byte("rebalance epoch 412")
	signature, err := keypair.SignMessage(message)
	require.NoError(t, err)
	assert.True(t, keypair.Verify(message, signature))
	assert.False(t, keypair.Verify([]byte("rebalance epoch 413"), signature))
}

func TestNewKeypairFromSeed(t *testing.T) {
	original, err := GenerateKeypair()
	require.NoError(t, err)

	restored, err := NewKeypairFromSeed(original.Seed())
	require.NoError(t, err)
	assert.Equal(t, original.Identity(), restored.Identity())

	message := []byte("signed by the restored key")
	signature, err := restored.SignMessage(message)
	require.NoError(t, err)
	assert.True(t, original.Verify(message, signature))
}

func TestNewKeypairFromSeed_InvalidLength(t *testing.T) {
	_, err := NewKeypairFromSeed([]byte{1, 2, 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid seed length")
}

func TestDistinctKeypairs(t *testing.T) {
	first, err := GenerateKeypair()
	require.NoError(t, err)
	second, err := GenerateKeypair()
	require.NoError(t, err)
	assert.NotEqual(t, first.Identity(), second.Identity())
}
