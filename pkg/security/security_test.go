package security

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordPolicy_Evaluate(t *testing.T) {
	p := DefaultPasswordPolicy()

	tests := []struct {
		name  string
		pw    string
		valid bool
		unmet []Requirement
	}{
		{"all classes twelve chars", "Abcdefgh12!@", true, []Requirement{}},
		{"short lowercase", "abc", false, []Requirement{RequireMinLength, RequireUpper, RequireDigit, RequireSpecial}},
		{"empty", "", false, []Requirement{RequireMinLength, RequireUpper, RequireLower, RequireDigit, RequireSpecial}},
		{"no special", "Abcdefgh1234", false, []Requirement{RequireSpecial}},
		{"eleven chars", "Abcdefg12!@", false, []Requirement{RequireMinLength}},
		{"unicode counts runes", "Ábcdéfgh12!@", true, []Requirement{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Evaluate(tt.pw)
			assert.Equal(t, tt.valid, got.Valid)
			assert.Equal(t, tt.unmet, got.Unmet)
		})
	}
}

func TestPasswordPolicy_MinLengthIsConfigurable(t *testing.T) {
	p := DefaultPasswordPolicy()
	p.MinLength = 8
	assert.True(t, p.Evaluate("Abcde1!x").Valid)
	assert.Equal(t, "at least 8 characters", RequireMinLength.Description(p))
}

func TestPasswordPolicy_MaxLength(t *testing.T) {
	p := DefaultPasswordPolicy()
	long := "Abcdefgh12!@" + strings.Repeat("x", MaxPasswordBytes-12)
	assert.True(t, p.Evaluate(long).Valid)

	got := p.Evaluate(long + "y")
	assert.False(t, got.Valid)
	assert.Equal(t, []Requirement{RequireMaxLength}, got.Unmet)
	assert.Equal(t, "no more than 72 bytes", RequireMaxLength.Description(p))

	// Multi-byte runes count by their encoded size.
	accented := "Abcdefgh12!@" + strings.Repeat("é", 31)
	assert.Equal(t, []Requirement{RequireMaxLength}, p.Evaluate(accented).Unmet)

	// A configured limit above the hasher's cap is clamped.
	p.MaxLength = 200
	assert.False(t, p.Evaluate(long+"y").Valid)
	p.MaxLength = 0
	assert.False(t, p.Evaluate(long+"y").Valid)
}

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(4)
	hash, err := h.Hash("Abcdefgh12!@")
	require.NoError(t, err)
	assert.NoError(t, h.Compare(hash, "Abcdefgh12!@"))
	assert.Error(t, h.Compare(hash, "wrong"))
}

func TestAESEncryptor(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	enc, err := NewAESEncryptor(key)
	require.NoError(t, err)

	sealed, err := enc.Encrypt([]byte(`{"subjectId":"42"}`))
	require.NoError(t, err)

	plain, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"subjectId":"42"}`, string(plain))

	sealed[len(sealed)-1] ^= 0xff
	_, err = enc.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecryption)

	_, err = enc.Decrypt([]byte("short"))
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestParseKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	got, err := ParseKey(hex.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = ParseKey("too-short")
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}
