package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrInvalidHash is returned when a stored secret hash cannot be parsed.
var ErrInvalidHash = errors.New("invalid secret hash")

// HashParams are the argon2id cost parameters used when hashing a secret.
// Verification always uses the parameters encoded in the stored hash.
type HashParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

// DefaultHashParams are the production argon2id parameters.
var DefaultHashParams = HashParams{
	Time:    2,
	Memory:  16 * 1024,
	Threads: 1,
	KeyLen:  32,
	SaltLen: 16,
}

// Hasher hashes and verifies client secrets with argon2id.
type Hasher struct {
	params HashParams
}

// NewHasher creates a hasher. Zero-valued params fall back to DefaultHashParams.
func NewHasher(params HashParams) *Hasher {
	if params.Time == 0 {
		params.Time = DefaultHashParams.Time
	}
	if params.Memory == 0 {
		params.Memory = DefaultHashParams.Memory
	}
	if params.Threads == 0 {
		params.Threads = DefaultHashParams.Threads
	}
	if params.KeyLen == 0 {
		params.KeyLen = DefaultHashParams.KeyLen
	}
	if params.SaltLen == 0 {
		params.SaltLen = DefaultHashParams.SaltLen
	}
	return &Hasher{params: params}
}

// Hash returns a PHC-formatted argon2id hash of secret with a fresh random salt.
func (h *Hasher) Hash(secret string) (string, error) {
	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(secret), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether secret matches encoded. The comparison is constant time.
// A malformed hash returns ErrInvalidHash.
func (h *Hasher) Verify(secret, encoded string) (bool, error) {
	params, salt, want, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}

	got := argon2.IDKey([]byte(secret), salt, params.Time, params.Memory, params.Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// DummyVerify burns the same work as a real verification. It is used when the
// client does not exist so that lookups and failed verifications take equal time.
func (h *Hasher) DummyVerify(secret string) {
	salt := make([]byte, h.params.SaltLen)
	_ = argon2.IDKey([]byte(secret), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)
}

func decodeHash(encoded string) (HashParams, []byte, []byte, error) {
	var params HashParams

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return params, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return params, nil, nil, ErrInvalidHash
	}

	var threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Time, &threads); err != nil {
		return params, nil, nil, ErrInvalidHash
	}
	if threads == 0 || threads > 255 || params.Time == 0 || params.Memory == 0 {
		return params, nil, nil, ErrInvalidHash
	}
	params.Threads = uint8(threads)

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return params, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return params, nil, nil, ErrInvalidHash
	}

	params.SaltLen = len(salt)
	params.KeyLen = uint32(len(key))
	return params, salt, key, nil
}
