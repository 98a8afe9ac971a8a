package util

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access-token claims issued by the auth provider.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// parsePublicKey decodes a PEM-encoded PKIX public key.
func parsePublicKey(pemKey string) (any, error) {
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, errors.New("failed to decode PEM block containing public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return pub, nil
}

var (
	hmacMethods = []string{"HS256", "HS384", "HS512"}
	rsaMethods  = []string{"RS256", "RS384", "RS512"}
	ecMethods   = []string{"ES256", "ES384", "ES512"}
)

// ValidateJWT checks the token signature and expiry. keyMaterial is either a
// PEM public key, which admits only RS* or ES* tokens matching the key type,
// or an HMAC secret, which admits only HS* tokens. The token header never
// selects the key family.
func ValidateJWT(tokenString string, keyMaterial string) (*Claims, error) {
	var (
		key     any
		methods []string
	)
	if block, _ := pem.Decode([]byte(keyMaterial)); block != nil {
		pub, err := parsePublicKey(keyMaterial)
		if err != nil {
			return nil, err
		}
		switch pub.(type) {
		case *rsa.PublicKey:
			methods = rsaMethods
		case *ecdsa.PublicKey:
			methods = ecMethods
		default:
			return nil, fmt.Errorf("unsupported public key type %T", pub)
		}
		key = pub
	} else {
		if keyMaterial == "" {
			return nil, errors.New("empty HMAC secret")
		}
		key, methods = []byte(keyMaterial), hmacMethods
	}

	keyFunc := func(token *jwt.Token) (any, error) {
		return key, nil
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc,
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
