package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// argon2id parameters follow the OWASP recommendation for argon2id:
// memory=64MB, iterations=3, parallelism=4.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB in KiB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// Hasher is the credential hasher contract used by the workflows.
type Hasher interface {
	// Hash returns a salted one-way hash of plaintext.
	Hash(plaintext string) (string, error)

	// Compare reports whether plaintext matches hash. Malformed hashes never
	// match.
	Compare(plaintext, hash string) bool
}

// Argon2Hasher hashes with argon2id and encodes the result in PHC string
// format: $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>. Parameters travel
// with the hash, so tuning them later does not break existing accounts.
type Argon2Hasher struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// NewArgon2Hasher returns a hasher with the production parameters.
func NewArgon2Hasher() *Argon2Hasher {
	return &Argon2Hasher{Time: argonTime, Memory: argonMemory, Threads: argonThreads}
}

// Hash implements Hasher.
func (h *Argon2Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, h.Time, h.Memory, h.Threads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.Memory, h.Time, h.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Compare implements Hasher.
func (h *Argon2Hasher) Compare(plaintext, hash string) bool {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return false
	}

	computed := argon2.IDKey([]byte(plaintext), salt, iterations, memory, parallelism, uint32(len(expected)))

	// Constant-time comparison to prevent timing attacks.
	return subtle.ConstantTimeCompare(expected, computed) == 1
}
