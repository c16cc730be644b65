// Package services provides external service integrations and technical concerns like notifications and tokens
package services

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/refermed/refermed/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func createTestTokenService() TokenService {
	return NewTokenService(bcrypt.MinCost)
}

func TestGenerateLinkToken(t *testing.T) {
	service := createTestTokenService()

	token, err := service.GenerateLinkToken()
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	// URL-safe, no padding
	assert.NotContains(t, token, "=")
	assert.NotContains(t, token, "+")
	assert.NotContains(t, token, "/")

	decoded, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	assert.Len(t, decoded, utils.LinkTokenBytes)
}

func TestGenerateLinkTokenUniqueness(t *testing.T) {
	service := createTestTokenService()

	seen := make(map[string]bool)
	for i := 0; i < 100000; i++ {
		token, err := service.GenerateLinkToken()
		require.NoError(t, err)
		assert.False(t, seen[token], "duplicate token generated")
		seen[token] = true
	}
}

func TestGenerateAccessCode(t *testing.T) {
	service := createTestTokenService()

	tests := []struct {
		name          string
		length        int
		expectedWidth int
	}{
		{
			name:          "default length for zero",
			length:        0,
			expectedWidth: utils.DefaultAccessCodeLength,
		},
		{
			name:          "minimum length",
			length:        4,
			expectedWidth: 4,
		},
		{
			name:          "mid length",
			length:        6,
			expectedWidth: 6,
		},
		{
			name:          "maximum length",
			length:        8,
			expectedWidth: 8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := service.GenerateAccessCode(tt.length)
			require.NoError(t, err)
			assert.Len(t, code, tt.expectedWidth)
			for _, c := range code {
				assert.True(t, c >= '0' && c <= '9', "code contains non-digit %q", c)
			}
		})
	}
}

func TestGenerateAccessCodeRejectsOutOfRangeLengths(t *testing.T) {
	service := createTestTokenService()

	for _, length := range []int{-1, 1, 3, 9, 12} {
		code, err := service.GenerateAccessCode(length)
		require.Error(t, err, "length %d must be rejected", length)
		assert.ErrorIs(t, err, ErrInvalidAccessCodeLength)
		assert.Empty(t, code)
	}
}

func TestGenerateAccessCodeZeroPadding(t *testing.T) {
	service := createTestTokenService()

	// With 4-digit codes roughly one in ten starts with zero, so a run of
	// 200 draws without a leading zero means the padding is broken.
	sawLeadingZero := false
	for i := 0; i < 200; i++ {
		code, err := service.GenerateAccessCode(4)
		require.NoError(t, err)
		require.Len(t, code, 4)
		if strings.HasPrefix(code, "0") {
			sawLeadingZero = true
			break
		}
	}
	assert.True(t, sawLeadingZero, "no zero-padded code in 200 draws")
}

func TestHashAndVerifyAccessCode(t *testing.T) {
	service := createTestTokenService()

	code, err := service.GenerateAccessCode(6)
	require.NoError(t, err)

	hash, err := service.HashAccessCode(code)
	require.NoError(t, err)
	assert.NotEqual(t, code, hash)

	assert.True(t, service.VerifyAccessCode(hash, code))
	assert.False(t, service.VerifyAccessCode(hash, "000000"+code))
	assert.False(t, service.VerifyAccessCode(hash, ""))
	assert.False(t, service.VerifyAccessCode("not-a-hash", code))
}

func TestHashAccessCodeDistinctSalts(t *testing.T) {
	service := createTestTokenService()

	hash1, err := service.HashAccessCode("123456")
	require.NoError(t, err)
	hash2, err := service.HashAccessCode("123456")
	require.NoError(t, err)

	assert.NotEqual(t, hash1, hash2)
	assert.True(t, service.VerifyAccessCode(hash1, "123456"))
	assert.True(t, service.VerifyAccessCode(hash2, "123456"))
}

func TestNewTokenServiceCostClamping(t *testing.T) {
	// Out-of-range costs fall back to the bcrypt default instead of failing
	// at hash time.
	for _, cost := range []int{-1, 0, 100} {
		service := NewTokenService(cost)
		hash, err := service.HashAccessCode("4321")
		require.NoError(t, err)
		assert.True(t, service.VerifyAccessCode(hash, "4321"))
	}
}
