// Package credential verifies the administrator secret against a stored
// adaptive hash. Both bcrypt and argon2id (PHC string format) hashes are
// accepted so that operators can pick either when provisioning.
package credential

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/gatehouse/internal/util"
)

// Scheme names a supported hashing scheme.
type Scheme string

const (
	SchemeBcrypt   Scheme = "bcrypt"
	SchemeArgon2id Scheme = "argon2id"
)

// DefaultBcryptCost keeps a single verification in the tens of milliseconds
// on current hardware.
const DefaultBcryptCost = bcrypt.DefaultCost

// MaxSecretLen bounds the secret accepted by Hash. bcrypt silently
// truncates input beyond 72 bytes, so longer secrets are rejected rather
// than weakened.
const MaxSecretLen = 72

var (
	ErrEmptySecret     = errors.New("secret must not be empty")
	ErrSecretTooLong   = fmt.Errorf("secret must be at most %d bytes", MaxSecretLen)
	ErrUnknownScheme   = errors.New("unknown hash scheme")
	ErrUnsupportedHash = errors.New("unsupported stored hash")
)

// dummyHash is compared against when the stored hash is unusable so that
// a misconfigured deployment costs the same time per attempt as a wrong
// secret.
var dummyHash = sync.OnceValue(func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("gatehouse-dummy-secret"), DefaultBcryptCost)
	if err != nil {
		panic(fmt.Sprintf("credential: generating dummy hash: %v", err))
	}
	return h
})

// Verify reports whether secret matches storedHash. It returns false for
// a wrong secret and for an empty, malformed, or unrecognised hash alike.
func Verify(secret, storedHash string) bool {
	normalized := util.Normalize(secret)

	switch {
	case isBcryptHash(storedHash):
		return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(normalized)) == nil
	case util.IsArgon2idHash(storedHash):
		params, salt, key, err := util.ParseArgon2idHash(storedHash)
		if err != nil {
			burn(normalized)
			return false
		}
		ok, err := util.CompareArgon2idKey(normalized, salt, params, key)
		return err == nil && ok
	default:
		burn(normalized)
		return false
	}
}

// Hash produces a stored hash for secret using the given scheme.
func Hash(secret string, scheme Scheme) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	normalized := util.Normalize(secret)

	switch scheme {
	case SchemeBcrypt, "":
		if len(normalized) > MaxSecretLen {
			return "", ErrSecretTooLong
		}
		h, err := bcrypt.GenerateFromPassword([]byte(normalized), DefaultBcryptCost)
		if err != nil {
			return "", fmt.Errorf("bcrypt: %w", err)
		}
		return string(h), nil
	case SchemeArgon2id:
		params := util.DefaultArgon2idParams()
		salt, err := util.RandomBytes(16)
		if err != nil {
			return "", err
		}
		key, err := util.DeriveArgon2idKey(normalized, salt, params)
		if err != nil {
			return "", fmt.Errorf("argon2id: %w", err)
		}
		defer util.WipeBytes(key)
		return util.EncodeArgon2idHash(params, salt, key), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
}

// CheckStoredHash validates that a configured hash is usable, without
// revealing anything about the secret. It is meant for startup checks.
func CheckStoredHash(storedHash string) error {
	switch {
	case isBcryptHash(storedHash):
		if _, err := bcrypt.Cost([]byte(storedHash)); err != nil {
			return fmt.Errorf("%w: %v", ErrUnsupportedHash, err)
		}
		return nil
	case util.IsArgon2idHash(storedHash):
		if _, _, _, err := util.ParseArgon2idHash(storedHash); err != nil {
			return fmt.Errorf("%w: %v", ErrUnsupportedHash, err)
		}
		return nil
	default:
		return ErrUnsupportedHash
	}
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

func burn(secret string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(secret))
}
