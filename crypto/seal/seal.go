// Package seal provides the cipher surface used by the connection protocol:
// symmetric AEAD sealing for frames, an RSA exchange for bootstrapping a
// session key, and the hash helpers the handshake confirmation uses.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the symmetric key length in bytes.
	KeySize   = 32
	nonceSize = 12
)

var (
	// ErrDecrypt indicates AEAD decryption failed, typically a key mismatch.
	ErrDecrypt = errors.New("seal: decrypt failed")
	// ErrUnsupportedSuite signals an unknown AEAD suite.
	ErrUnsupportedSuite = errors.New("seal: unsupported suite")
	// ErrCiphertextTooShort signals a sealed blob shorter than a nonce.
	ErrCiphertextTooShort = errors.New("seal: ciphertext too short")
)

// Suite identifies the AEAD used for sealed frames.
type Suite uint16

const (
	// SuiteAES256GCM is the default record cipher.
	SuiteAES256GCM Suite = 1
	// SuiteChaCha20Poly1305 is an alternative for hosts without AES hardware.
	SuiteChaCha20Poly1305 Suite = 2
)

// Key is a fixed-length symmetric key.
type Key [KeySize]byte

// KeyFromPassphrase derives a Key from an arbitrary passphrase.
func KeyFromPassphrase(passphrase string) Key {
	return Key(sha256.Sum256([]byte(passphrase)))
}

// NewSessionKey returns a fresh random key for one connection.
func NewSessionKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, err
	}
	return k, nil
}

// KeyFromBytes copies b into a Key, rejecting wrong lengths.
func KeyFromBytes(b []byte) (Key, error) {
	if len(b) != KeySize {
		return Key{}, fmt.Errorf("seal: key must be %d bytes, got %d", KeySize, len(b))
	}
	var k Key
	copy(k[:], b)
	return k, nil
}

// Sealer seals and opens byte blobs under one symmetric key.
//
// Each Seal call uses a fresh random nonce, prepended to the ciphertext, so
// sealed blobs are self-contained and independent of any stream position.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer for the key and suite. A zero suite selects AES-256-GCM.
func NewSealer(key Key, suite Suite) (*Sealer, error) {
	var (
		aead cipher.AEAD
		err  error
	)
	switch suite {
	case 0, SuiteAES256GCM:
		var block cipher.Block
		block, err = aes.NewCipher(key[:])
		if err == nil {
			aead, err = cipher.NewGCM(block)
		}
	case SuiteChaCha20Poly1305:
		aead, err = chacha20poly1305.New(key[:])
	default:
		return nil, ErrUnsupportedSuite
	}
	if err != nil {
		return nil, err
	}
	if aead.NonceSize() != nonceSize {
		return nil, fmt.Errorf("seal: unexpected nonce size %d", aead.NonceSize())
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plain and returns nonce||ciphertext.
func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize, nonceSize+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plain, nil), nil
}

// Open decrypts a nonce||ciphertext blob. A wrong key surfaces as ErrDecrypt,
// never as garbled plaintext.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+s.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	plain, err := s.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// Overhead reports the bytes Seal adds on top of the plaintext length.
func (s *Sealer) Overhead() int {
	return nonceSize + s.aead.Overhead()
}

// HashHex returns the lowercase hex SHA-256 digest of b.
func HashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
