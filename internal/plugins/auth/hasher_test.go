package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cheapHasher keeps argon2id tests fast; parameters travel with the hash.
func cheapHasher() *Argon2Hasher {
	return &Argon2Hasher{Time: 1, Memory: 1024, Threads: 1}
}

func TestArgon2Hasher_RoundTrip(t *testing.T) {
	h := cheapHasher()

	hash, err := h.Hash("correct-horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"), hash)
	assert.True(t, h.Compare("correct-horse", hash))
	assert.False(t, h.Compare("Correct-horse", hash))
}

func TestArgon2Hasher_Salted(t *testing.T) {
	h := cheapHasher()
	a, err := h.Hash("same")
	require.NoError(t, err)
	b, err := h.Hash("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestArgon2Hasher_ParametersTravelWithHash(t *testing.T) {
	hash, err := cheapHasher().Hash("pw-12345")
	require.NoError(t, err)

	// A hasher tuned differently still verifies old hashes.
	assert.True(t, NewArgon2Hasher().Compare("pw-12345", hash))
}

func TestArgon2Hasher_MalformedNeverMatches(t *testing.T) {
	h := cheapHasher()
	for _, hash := range []string{
		"",
		"plaintext",
		"$2a$10$abcdefghijklmnopqrstuv",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1024,t=1,p=1$!!!$aGFzaA",
		"$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$",
	} {
		assert.False(t, h.Compare("anything", hash), hash)
	}
}
