// Command jwks-to-pem prints an identity provider's signing key as the PEM
// public key that JWT_SECRET accepts.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"studybuddy/internal/util"
)

func main() {
	url := flag.String("url", "http://127.0.0.1:54321/auth/v1/.well-known/jwks.json", "JWKS endpoint")
	kid := flag.String("kid", "", "Key ID to export; defaults to the first signing key")
	flag.Parse()

	pemKey, err := fetch(*url, *kid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(pemKey)
}

func fetch(url, kid string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	set, err := util.FetchJWKS(ctx, url)
	if err != nil {
		return "", err
	}
	key, err := util.FindSigningKey(set, kid)
	if err != nil {
		return "", err
	}
	return util.PublicKeyPEM(key)
}
