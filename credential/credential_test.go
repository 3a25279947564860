package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/gatehouse/internal/util"
)

func fastBcrypt(t *testing.T, secret string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(util.Normalize(secret)), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func fastArgon2id(t *testing.T, secret string) string {
	t.Helper()
	params := util.Argon2idParams{Time: 1, MemoryKiB: 1024, Parallelism: 1, KeyLen: 32}
	salt, err := util.RandomBytes(16)
	require.NoError(t, err)
	key, err := util.DeriveArgon2idKey(util.Normalize(secret), salt, params)
	require.NoError(t, err)
	return util.EncodeArgon2idHash(params, salt, key)
}

func TestVerify_Bcrypt(t *testing.T) {
	stored := fastBcrypt(t, "correct horse")

	assert.True(t, Verify("correct horse", stored))
	assert.False(t, Verify("correct hors", stored))
	assert.False(t, Verify("", stored))
}

func TestVerify_Argon2id(t *testing.T) {
	stored := fastArgon2id(t, "correct horse")

	assert.True(t, Verify("correct horse", stored))
	assert.False(t, Verify("wrong horse", stored))
}

func TestVerify_UnusableHashIsIndistinguishableFromWrongSecret(t *testing.T) {
	for _, stored := range []string{
		"",
		"plaintext-password",
		"$argon2id$v=19$garbage",
		"$1$md5crypt$abcdefgh",
	} {
		assert.False(t, Verify("plaintext-password", stored), "stored=%q", stored)
	}
}

func TestVerify_NormalizesFullWidthInput(t *testing.T) {
	stored := fastBcrypt(t, "pass")
	// Full-width "ｐａｓｓ" typed with a Japanese IME.
	assert.True(t, Verify("ｐａｓｓ", stored))
}

func TestHash_RoundTrip(t *testing.T) {
	t.Run("bcrypt", func(t *testing.T) {
		h, err := Hash("s3cret-value", SchemeBcrypt)
		require.NoError(t, err)
		require.NoError(t, CheckStoredHash(h))
		assert.True(t, Verify("s3cret-value", h))
		assert.False(t, Verify("s3cret-valuf", h))
	})

	t.Run("argon2id", func(t *testing.T) {
		h, err := Hash("s3cret-value", SchemeArgon2id)
		require.NoError(t, err)
		require.NoError(t, CheckStoredHash(h))
		assert.True(t, util.IsArgon2idHash(h))
		assert.True(t, Verify("s3cret-value", h))
	})
}

func TestHash_Rejects(t *testing.T) {
	_, err := Hash("", SchemeBcrypt)
	assert.ErrorIs(t, err, ErrEmptySecret)

	long := make([]byte, MaxSecretLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = Hash(string(long), SchemeBcrypt)
	assert.ErrorIs(t, err, ErrSecretTooLong)

	_, err = Hash("secret", Scheme("md5"))
	assert.ErrorIs(t, err, ErrUnknownScheme)
}

func TestCheckStoredHash(t *testing.T) {
	assert.ErrorIs(t, CheckStoredHash(""), ErrUnsupportedHash)
	assert.ErrorIs(t, CheckStoredHash("$2b$xx"), ErrUnsupportedHash)
	assert.NoError(t, CheckStoredHash(fastBcrypt(t, "x")))
	assert.NoError(t, CheckStoredHash(fastArgon2id(t, "x")))
}
