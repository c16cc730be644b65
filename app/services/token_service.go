// Package services provides external service integrations and technical concerns like notifications and tokens
package services

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	"github.com/refermed/refermed/utils"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidAccessCodeLength is returned for access code lengths outside the
// supported 4 to 8 digit range.
var ErrInvalidAccessCodeLength = errors.New("access code length must be between 4 and 8 digits")

// TokenService generates the opaque tokens and numeric access codes behind
// magic links, and hashes/verifies the codes.
type TokenService interface {
	// GenerateLinkToken returns a fresh URL-safe opaque token. The same
	// generator backs link tokens, status tokens and share tokens.
	GenerateLinkToken() (string, error)
	// GenerateAccessCode returns a zero-padded numeric code of the given
	// length. Zero selects the default length; any other length outside
	// 4 to 8 fails with ErrInvalidAccessCodeLength.
	GenerateAccessCode(length int) (string, error)
	HashAccessCode(code string) (string, error)
	VerifyAccessCode(hash, code string) bool
}

// TokenServiceImpl implements TokenService
type TokenServiceImpl struct {
	bcryptCost int
}

// NewTokenService creates a new token service
func NewTokenService(bcryptCost int) TokenService {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &TokenServiceImpl{bcryptCost: bcryptCost}
}

// GenerateLinkToken returns a base64url-encoded random token without padding.
func (s *TokenServiceImpl) GenerateLinkToken() (string, error) {
	buf := make([]byte, utils.LinkTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate link token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateAccessCode draws a uniform number below 10^length so leading zeros
// are as likely as any other digit, then zero-pads to the full width.
func (s *TokenServiceImpl) GenerateAccessCode(length int) (string, error) {
	if length == 0 {
		length = utils.DefaultAccessCodeLength
	}
	if length < utils.MinAccessCodeLength || length > utils.MaxAccessCodeLength {
		return "", fmt.Errorf("%w: got %d", ErrInvalidAccessCodeLength, length)
	}

	limit := big.NewInt(10)
	limit.Exp(limit, big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("failed to generate access code: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n), nil
}

// HashAccessCode hashes the code with bcrypt
func (s *TokenServiceImpl) HashAccessCode(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash access code: %w", err)
	}
	return string(hash), nil
}

// VerifyAccessCode checks the code against a stored bcrypt hash
func (s *TokenServiceImpl) VerifyAccessCode(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
