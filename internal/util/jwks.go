package util

import (
	"context"
	"fmt"
	"io"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// FetchJWKS downloads the key set an identity provider publishes.
func FetchJWKS(ctx context.Context, url string) (jwk.Set, error) {
	set, err := jwk.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS: %w", err)
	}
	if set.Len() == 0 {
		return nil, fmt.Errorf("no keys found in JWKS")
	}
	return set, nil
}

// ParseJWKS decodes a key set.
func ParseJWKS(r io.Reader) (jwk.Set, error) {
	set, err := jwk.ParseReader(r)
	if err != nil {
		return nil, fmt.Errorf("decode JWKS: %w", err)
	}
	if set.Len() == 0 {
		return nil, fmt.Errorf("no keys found in JWKS")
	}
	return set, nil
}

// FindSigningKey returns the key with the given kid, or the first signing key
// when kid is empty.
func FindSigningKey(set jwk.Set, kid string) (jwk.Key, error) {
	if kid != "" {
		if key, ok := set.LookupKeyID(kid); ok {
			return key, nil
		}
		return nil, fmt.Errorf("no signing key with kid %q", kid)
	}
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		if use := key.KeyUsage(); use == "" || use == string(jwk.ForSignature) {
			return key, nil
		}
	}
	return nil, fmt.Errorf("no signing key in JWKS")
}

// PublicKeyPEM encodes the public half of key as a PKIX "PUBLIC KEY" block,
// the form ValidateJWT accepts. Only RSA and EC keys are supported.
func PublicKeyPEM(key jwk.Key) (string, error) {
	switch key.KeyType() {
	case jwa.RSA, jwa.EC:
	default:
		return "", fmt.Errorf("unsupported key type %q", key.KeyType())
	}
	pub, err := jwk.PublicKeyOf(key)
	if err != nil {
		return "", fmt.Errorf("derive public key: %w", err)
	}
	var raw any
	if err := pub.Raw(&raw); err != nil {
		return "", fmt.Errorf("export public key: %w", err)
	}
	out, err := jwk.EncodePEM(raw)
	if err != nil {
		return "", fmt.Errorf("encode public key: %w", err)
	}
	return string(out), nil
}
