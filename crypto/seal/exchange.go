package seal

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

const exchangeKeyBits = 2048

var (
	// ErrInvalidPublicKey signals a peer public key that cannot be parsed.
	ErrInvalidPublicKey = errors.New("seal: invalid public key")
	// ErrUnwrap indicates the wrapped session key failed to decrypt.
	ErrUnwrap = errors.New("seal: unwrap failed")
)

// ExchangeKeypair is the listener's transient asymmetric keypair. It exists
// only for the duration of one handshake and is discarded afterwards.
type ExchangeKeypair struct {
	priv *rsa.PrivateKey
}

// GenerateExchangeKeypair creates a fresh RSA keypair for one handshake.
func GenerateExchangeKeypair() (*ExchangeKeypair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, exchangeKeyBits)
	if err != nil {
		return nil, err
	}
	return &ExchangeKeypair{priv: priv}, nil
}

// PublicPEM encodes the public half as a PEM text block for transmission.
func (kp *ExchangeKeypair) PublicPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&kp.priv.PublicKey)
	if err != nil {
		return "", err
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// UnwrapKey decrypts a session key wrapped with WrapKey.
func (kp *ExchangeKeypair) UnwrapKey(wrapped []byte) (Key, error) {
	plain, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, kp.priv, wrapped, nil)
	if err != nil {
		return Key{}, ErrUnwrap
	}
	return KeyFromBytes(plain)
}

// WrapKey encrypts a session key under the peer's PEM-encoded public key
// using RSA-OAEP with SHA-256.
func WrapKey(publicPEM string, key Key) ([]byte, error) {
	block, _ := pem.Decode([]byte(publicPEM))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, ErrInvalidPublicKey
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, ErrInvalidPublicKey
	}
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key[:], nil)
}
