package auth

import (
	"bytes"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeGenerator_Shape(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 500_000_000, time.UTC)
	g := NewCodeGenerator(6, 10*time.Minute, func() time.Time { return now })
	digits := regexp.MustCompile(`^[0-9]{6}$`)

	for i := 0; i < 50; i++ {
		code, err := g.Generate()
		require.NoError(t, err)
		assert.Regexp(t, digits, code.Code)
		assert.Equal(t, time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC), code.ExpiresAt)
	}
	assert.Equal(t, 10*time.Minute, g.TTL())
}

func TestCodeGenerator_KeepsLeadingZeros(t *testing.T) {
	g := NewCodeGenerator(8, time.Minute, nil)
	g.random = bytes.NewReader(make([]byte, 64))

	code, err := g.Generate()
	require.NoError(t, err)
	assert.Equal(t, "00000000", code.Code)
}

func TestCodeGenerator_RandomFailure(t *testing.T) {
	g := NewCodeGenerator(6, time.Minute, nil)
	g.random = bytes.NewReader(nil)

	_, err := g.Generate()
	assert.Error(t, err)
}

func TestPendingCode_Expired(t *testing.T) {
	expires := time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)
	p := PendingCode{Code: "123456", ExpiresAt: expires}

	assert.False(t, p.Expired(expires.Add(-time.Second)))
	assert.False(t, p.Expired(expires), "valid at the expiry instant")
	assert.True(t, p.Expired(expires.Add(time.Nanosecond)))
}

func TestCodesEqual(t *testing.T) {
	assert.True(t, codesEqual("012345", "012345"))
	assert.False(t, codesEqual("012345", "012346"))
	assert.False(t, codesEqual("12345", "012345"))
	assert.False(t, codesEqual("", "012345"))
}
