package dispatchtest

import (
	"crypto/ed25519"

	"github.com/dispatchrun/dispatch-runtime/internal/auth"
)

// KeyPair generates a random ed25519 key pair.
//
// The public and private key are base64 encoded, so that they can be
// passed directly to dispatch.WithVerificationKey and WithSigningKey.
func KeyPair() (signingKey, verificationKey string) {
	publicKey, privateKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		panic(err)
	}
	return auth.EncodeKeyPair(publicKey, privateKey)
}
