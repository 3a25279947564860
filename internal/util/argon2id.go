package util

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrMalformedHash is returned when a PHC-formatted argon2id string cannot be parsed.
var ErrMalformedHash = errors.New("malformed argon2id hash")

const argon2idPrefix = "$argon2id$"

type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        3,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

func ValidateArgon2idParams(params Argon2idParams) error {
	switch {
	case params.Time == 0:
		return fmt.Errorf("argon2id time must be positive")
	case params.MemoryKiB < 8*uint32(params.Parallelism):
		return fmt.Errorf("argon2id memory must be at least 8*parallelism KiB")
	case params.Parallelism == 0:
		return fmt.Errorf("argon2id parallelism must be positive")
	case params.KeyLen < 16 || params.KeyLen > 64:
		return fmt.Errorf("argon2id key length must be between 16 and 64 bytes")
	}
	return nil
}

func DeriveArgon2idKey(passphrase string, salt []byte, params Argon2idParams) ([]byte, error) {
	if err := ValidateArgon2idParams(params); err != nil {
		return nil, err
	}
	key := argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return key, nil
}

func CompareArgon2idKey(passphrase string, salt []byte, params Argon2idParams, expectedKey []byte) (bool, error) {
	key, err := DeriveArgon2idKey(passphrase, salt, params)
	if err != nil {
		return false, err
	}
	defer WipeBytes(key)
	return subtle.ConstantTimeCompare(key, expectedKey) == 1, nil
}

// IsArgon2idHash reports whether s looks like a PHC argon2id string.
func IsArgon2idHash(s string) bool {
	return strings.HasPrefix(s, argon2idPrefix)
}

// EncodeArgon2idHash formats a derived key in PHC string format:
// $argon2id$v=19$m=<mem>,t=<time>,p=<par>$<salt>$<key>
func EncodeArgon2idHash(params Argon2idParams, salt, key []byte) string {
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2idPrefix, argon2.Version, params.MemoryKiB, params.Time, params.Parallelism,
		B64Encode(salt), B64Encode(key))
}

// ParseArgon2idHash is the inverse of EncodeArgon2idHash.
func ParseArgon2idHash(encoded string) (Argon2idParams, []byte, []byte, error) {
	var params Argon2idParams
	parts := strings.Split(encoded, "$")
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params, nil, nil, ErrMalformedHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return params, nil, nil, ErrMalformedHash
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.MemoryKiB, &params.Time, &params.Parallelism); err != nil {
		return params, nil, nil, ErrMalformedHash
	}
	salt, err := B64Decode(parts[4])
	if err != nil || len(salt) == 0 {
		return params, nil, nil, ErrMalformedHash
	}
	key, err := B64Decode(parts[5])
	if err != nil {
		return params, nil, nil, ErrMalformedHash
	}
	params.KeyLen = uint32(len(key))
	if err := ValidateArgon2idParams(params); err != nil {
		return params, nil, nil, ErrMalformedHash
	}
	return params, salt, key, nil
}
