package util

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims() Claims {
	return Claims{
		Email: "ada@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestValidateJWTHMAC(t *testing.T) {
	token := sign(t, jwt.SigningMethodHS256, []byte("secret"), validClaims())

	claims, err := ValidateJWT(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "ada@example.com", claims.Email)

	_, err = ValidateJWT(token, "other")
	assert.Error(t, err)
}

func TestValidateJWTECDSA(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	claims, err := ValidateJWT(sign(t, jwt.SigningMethodES256, key, validClaims()), pemKey)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestValidateJWTRejects(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	_, err := ValidateJWT(sign(t, jwt.SigningMethodHS256, []byte("secret"), expired), "secret")
	assert.Error(t, err)

	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil
	_, err = ValidateJWT(sign(t, jwt.SigningMethodHS256, []byte("secret"), noExpiry), "secret")
	assert.Error(t, err)

	noSubject := validClaims()
	noSubject.Subject = ""
	_, err = ValidateJWT(sign(t, jwt.SigningMethodHS256, []byte("secret"), noSubject), "secret")
	assert.Error(t, err)

	_, err = ValidateJWT("not.a.token", "secret")
	assert.Error(t, err)
}

func TestValidateJWTPublicKeyRejectsHMAC(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	// HS256 keyed with the public PEM text must not pass as the real issuer.
	claims := validClaims()
	claims.Subject = "victim-user"
	forged := sign(t, jwt.SigningMethodHS256, []byte(pemKey), claims)

	_, err = ValidateJWT(forged, pemKey)
	assert.Error(t, err)

	// An RSA token against an EC key is refused too.
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	_, err = ValidateJWT(sign(t, jwt.SigningMethodRS256, rsaKey, validClaims()), pemKey)
	assert.Error(t, err)
}

func TestValidateJWTSecretRejectsAsymmetric(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	_, err = ValidateJWT(sign(t, jwt.SigningMethodES256, key, validClaims()), "secret")
	assert.Error(t, err)

	_, err = ValidateJWT(sign(t, jwt.SigningMethodHS256, []byte("secret"), validClaims()), "")
	assert.Error(t, err)
}
