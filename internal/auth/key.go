package auth

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"strings"
)

// ParsePublicKey parses a ed25519 public key.
func ParsePublicKey(encodedKey string) (ed25519.PublicKey, error) {
	if strings.Contains(encodedKey, "BEGIN PUBLIC KEY") {
		return parsePemPublicKey(encodedKey)
	}
	return parseBase64PublicKey(encodedKey)
}

// ParsePrivateKey parses a base64-encoded ed25519 private key.
func ParsePrivateKey(encodedKey string) (ed25519.PrivateKey, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil || len(key) != ed25519.PrivateKeySize {
		return nil, errInvalidPrivateKey
	}
	return ed25519.PrivateKey(key), nil
}

// EncodeKeyPair base64-encodes an ed25519 key pair.
func EncodeKeyPair(publicKey ed25519.PublicKey, privateKey ed25519.PrivateKey) (signingKey, verificationKey string) {
	return base64.StdEncoding.EncodeToString(privateKey), base64.StdEncoding.EncodeToString(publicKey)
}

var (
	errInvalidPemKey     = errors.New("invalid PEM ed25519 public key")
	errInvalidBase64Key  = errors.New("invalid base64 ed25519 public key")
	errInvalidPrivateKey = errors.New("invalid base64 ed25519 private key")
)

func parsePemPublicKey(encodedKey string) (ed25519.PublicKey, error) {
	// Keys that went through an environment variable may have their
	// newlines escaped.
	encodedKey = strings.ReplaceAll(encodedKey, "\\n", "\n")

	block, _ := pem.Decode([]byte(encodedKey))
	if block == nil {
		return nil, errInvalidPemKey
	}
	anyKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errInvalidPemKey
	}
	key, ok := anyKey.(ed25519.PublicKey)
	if !ok {
		return nil, errInvalidPemKey
	}
	return key, nil
}

func parseBase64PublicKey(encodedKey string) (ed25519.PublicKey, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return nil, errInvalidBase64Key
	}
	return ed25519.PublicKey(key), nil
}
