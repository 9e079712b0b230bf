package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"math/big"
	"time"
)

// CodeGenerator produces fixed-length numeric one-time codes with an expiry
// a fixed duration after generation.
type CodeGenerator struct {
	length int
	ttl    time.Duration
	now    func() time.Time
	random io.Reader
}

// NewCodeGenerator creates a generator for codes of the given digit length
// valid for ttl.
func NewCodeGenerator(length int, ttl time.Duration, now func() time.Time) *CodeGenerator {
	if now == nil {
		now = time.Now
	}
	return &CodeGenerator{length: length, ttl: ttl, now: now, random: rand.Reader}
}

// Generate returns a new code and its expiry. Every digit is drawn
// uniformly from crypto/rand; leading zeros are kept.
func (g *CodeGenerator) Generate() (PendingCode, error) {
	digits := make([]byte, g.length)
	ten := big.NewInt(10)
	for i := range digits {
		n, err := rand.Int(g.random, ten)
		if err != nil {
			return PendingCode{}, fmt.Errorf("generating one-time code: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return PendingCode{
		Code:      string(digits),
		ExpiresAt: g.now().UTC().Add(g.ttl).Truncate(time.Second),
	}, nil
}

// TTL returns the validity window of generated codes.
func (g *CodeGenerator) TTL() time.Duration {
	return g.ttl
}

// codesEqual compares a submitted code with the stored one in constant time.
func codesEqual(submitted, stored string) bool {
	return len(submitted) == len(stored) &&
		subtle.ConstantTimeCompare([]byte(submitted), []byte(stored)) == 1
}
