// Command keygen generates an RSA keypair for file-backed token signing
// (AUTH__KEYS__SOURCE=file) and writes it to the paths config.KeysConfig
// defaults to.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

func main() {
	privPath := flag.String("private-out", "keys/private.pem", "output path for the PKCS#1 RSA private key")
	pubPath := flag.String("public-out", "keys/public.pem", "output path for the PKIX RSA public key")
	flag.Parse()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate key: %v\n", err)
		os.Exit(1)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	pubBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal public key: %v\n", err)
		os.Exit(1)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubBytes,
	})

	for _, p := range []string{*privPath, *pubPath} {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				fmt.Fprintf(os.Stderr, "failed to create %s: %v\n", dir, err)
				os.Exit(1)
			}
		}
	}

	if err := os.WriteFile(*privPath, privPEM, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write private key: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*pubPath, pubPEM, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write public key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("wrote private key to %s\n", *privPath)
	fmt.Printf("wrote public key to %s\n", *pubPath)
}
