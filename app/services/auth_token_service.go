package services

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/refermed/refermed/utils"
)

// Auth token error constants
var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("invalid token")
)

// AuthTokenService validates bearer tokens issued by the identity provider.
// The service never issues tokens itself; clinics authenticate against the
// IdP and this side only verifies signatures and extracts claims.
type AuthTokenService interface {
	ValidateToken(token string) (*IdentityClaims, error)
}

// IdentityClaims represents the verified claims carried by an IdP token
type IdentityClaims struct {
	Subject    string    `json:"sub"`
	ClinicUUID string    `json:"clinic_id"` // optional tenant hint
	Name       string    `json:"name"`
	TokenID    string    `json:"jti"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// AuthTokenServiceImpl implements AuthTokenService
type AuthTokenServiceImpl struct {
	publicKey  *rsa.PublicKey
	secretKey  []byte
	useRSAKeys bool
	issuer     string
	audience   string
}

// NewAuthTokenService creates a new auth token service
func NewAuthTokenService(issuer, audience string, useRSAKeys bool, publicKeyPEM, secretKey string) (AuthTokenService, error) {
	var publicKey *rsa.PublicKey
	var secretKeyBytes []byte

	if useRSAKeys {
		var err error
		publicKey, err = parseRSAPublicKey(publicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to parse RSA public key: %w", err)
		}
	} else {
		if secretKey == "" {
			return nil, fmt.Errorf("secret key is required when not using RSA keys")
		}
		secretKeyBytes = []byte(secretKey)
	}

	return &AuthTokenServiceImpl{
		publicKey:  publicKey,
		secretKey:  secretKeyBytes,
		useRSAKeys: useRSAKeys,
		issuer:     issuer,
		audience:   audience,
	}, nil
}

// parseRSAPublicKey parses an RSA public key from PEM format
func parseRSAPublicKey(publicKeyPEM string) (*rsa.PublicKey, error) {
	if publicKeyPEM == "" {
		return nil, fmt.Errorf("public key is required")
	}

	publicKeyBlock, _ := pem.Decode([]byte(publicKeyPEM))
	if publicKeyBlock == nil {
		return nil, fmt.Errorf("failed to decode public key")
	}

	publicKey, err := x509.ParsePKIXPublicKey(publicKeyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPublicKey, ok := publicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}

	return rsaPublicKey, nil
}

// ValidateToken validates an IdP token and returns the identity claims
func (s *AuthTokenServiceImpl) ValidateToken(token string) (*IdentityClaims, error) {
	var err error
	var parsedToken *jwt.Token

	if s.useRSAKeys {
		parsedToken, err = jwt.Parse(token, func(token *jwt.Token) (any, error) {
			// Validate signing method
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.publicKey, nil
		})
	} else {
		parsedToken, err = jwt.Parse(token, func(token *jwt.Token) (any, error) {
			// Validate signing method
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secretKey, nil
		})
	}

	if err != nil {
		if strings.Contains(err.Error(), "expired") || strings.Contains(err.Error(), "exp") {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	if !parsedToken.Valid {
		return nil, ErrTokenInvalid
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrTokenInvalid
	}

	subject, ok := claims["sub"].(string)
	if !ok || subject == "" {
		return nil, ErrTokenInvalid
	}

	tokenID, ok := claims["jti"].(string)
	if !ok {
		return nil, ErrTokenInvalid
	}

	issuedAt, ok := claims["iat"].(float64)
	if !ok {
		return nil, ErrTokenInvalid
	}

	expiresAt, ok := claims["exp"].(float64)
	if !ok {
		return nil, ErrTokenInvalid
	}

	if utils.UTCNow().After(time.Unix(int64(expiresAt), 0)) {
		return nil, ErrTokenExpired
	}

	if s.issuer != "" {
		if iss, _ := claims["iss"].(string); iss != s.issuer {
			return nil, ErrTokenInvalid
		}
	}

	// clinic_id and name are optional
	clinicUUID, _ := claims["clinic_id"].(string)
	name, _ := claims["name"].(string)

	return &IdentityClaims{
		Subject:    subject,
		ClinicUUID: clinicUUID,
		Name:       name,
		TokenID:    tokenID,
		IssuedAt:   time.Unix(int64(issuedAt), 0),
		ExpiresAt:  time.Unix(int64(expiresAt), 0),
	}, nil
}
