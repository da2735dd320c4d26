package channel

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
	"os"
)

// KeySize is the length of X25519 private keys, public keys and derived
// shared secrets.
const KeySize = 32

// KeyPair is a static X25519 key pair identifying one channel party.
// Immutable after creation and safe for concurrent use.
type KeyPair struct {
	private *ecdh.PrivateKey
}

// Generate produces a fresh key pair from the process entropy source.
// Inside an enclave the NSM session is installed as crypto/rand.Reader,
// so key material is derived from hypervisor entropy.
func Generate() (*KeyPair, error) {
	private, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate x25519 key: %w", err)
	}
	return &KeyPair{private: private}, nil
}

// NewKeyPair builds a key pair from a raw 32-byte private scalar.
func NewKeyPair(privateBytes []byte) (*KeyPair, error) {
	if len(privateBytes) != KeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", KeySize, len(privateBytes))
	}
	private, err := ecdh.X25519().NewPrivateKey(privateBytes)
	if err != nil {
		return nil, fmt.Errorf("parse x25519 private key: %w", err)
	}
	return &KeyPair{private: private}, nil
}

// ParsePublicKey builds an X25519 public key from its raw 32-byte encoding.
func ParsePublicKey(publicBytes []byte) (*ecdh.PublicKey, error) {
	if len(publicBytes) != KeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", KeySize, len(publicBytes))
	}
	public, err := ecdh.X25519().NewPublicKey(publicBytes)
	if err != nil {
		return nil, fmt.Errorf("parse x25519 public key: %w", err)
	}
	return public, nil
}

// Public returns the public half of the pair.
func (kp *KeyPair) Public() *ecdh.PublicKey {
	return kp.private.PublicKey()
}

// PublicBytes returns the raw 32-byte public key encoding.
func (kp *KeyPair) PublicBytes() []byte {
	return kp.private.PublicKey().Bytes()
}

// Key files are raw 32-byte binary, no header, no encoding. Byte-exact
// length is the only validation performed on load.

// LoadKeyPairFile reads a private key file and rebuilds the key pair.
func LoadKeyPairFile(path string) (*KeyPair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key file: %w", err)
	}
	kp, err := NewKeyPair(raw)
	if err != nil {
		return nil, fmt.Errorf("private key file %s: %w", path, err)
	}
	return kp, nil
}

// LoadPublicKeyFile reads a public key file.
func LoadPublicKeyFile(path string) (*ecdh.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key file: %w", err)
	}
	public, err := ParsePublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("public key file %s: %w", path, err)
	}
	return public, nil
}

// WriteKeyPairFiles persists the pair as two raw key files. The private
// key file is owner-readable only.
func (kp *KeyPair) WriteKeyPairFiles(privatePath, publicPath string) error {
	if err := os.WriteFile(privatePath, kp.private.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write private key file: %w", err)
	}
	if err := WritePublicKeyFile(publicPath, kp.PublicBytes()); err != nil {
		return err
	}
	return nil
}

// WritePublicKeyFile persists a raw 32-byte public key.
func WritePublicKeyFile(path string, publicBytes []byte) error {
	if len(publicBytes) != KeySize {
		return fmt.Errorf("public key must be %d bytes, got %d", KeySize, len(publicBytes))
	}
	if err := os.WriteFile(path, publicBytes, 0o644); err != nil {
		return fmt.Errorf("write public key file: %w", err)
	}
	return nil
}
