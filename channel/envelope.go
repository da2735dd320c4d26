package channel

import (
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// NonceSize is the ChaCha20-Poly1305 nonce length carried in each frame.
	NonceSize = chacha20poly1305.NonceSize
	// TagSize is the Poly1305 authentication tag length appended to ciphertext.
	TagSize = chacha20poly1305.Overhead
)

// SealedFrame is one self-contained encrypted message. No state is shared
// between frames beyond the static keys that sealed them.
type SealedFrame struct {
	Nonce      []byte // NonceSize bytes, fresh per seal
	Ciphertext []byte // plaintext length + TagSize bytes
}

// Codec seals and opens frames between one local party and one remote
// party. The X25519 shared secret is derived once at construction and
// keys the AEAD directly. The sender's static public key is bound into
// every frame as associated data, so a frame sealed by one party cannot
// be passed off as coming from another. Safe for concurrent use.
type Codec struct {
	aead      cipher.AEAD
	localPub  []byte
	remotePub []byte
}

// NewCodec derives the shared secret between local and remote and
// prepares the AEAD. Both directions of a conversation use the same
// secret; the associated data distinguishes the sender.
func NewCodec(local *KeyPair, remote *ecdh.PublicKey) (*Codec, error) {
	if local == nil || remote == nil {
		return nil, fmt.Errorf("missing x25519 keys")
	}
	secret, err := local.private.ECDH(remote)
	if err != nil {
		return nil, fmt.Errorf("x25519 ecdh: %w", err)
	}
	aead, err := chacha20poly1305.New(secret)
	if err != nil {
		return nil, fmt.Errorf("chacha20poly1305: %w", err)
	}
	return &Codec{
		aead:      aead,
		localPub:  local.PublicBytes(),
		remotePub: remote.Bytes(),
	}, nil
}

// Seal encrypts plaintext under a fresh random nonce. The only failure
// mode is the entropy source, which is fatal for the caller.
func (c *Codec) Seal(plaintext []byte) (*SealedFrame, error) {
	if len(plaintext) > MaxPlaintextSize {
		return nil, ErrFrameTooLarge
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("rand nonce: %w", err)
	}
	ciphertext := c.aead.Seal(nil, nonce, plaintext, c.localPub)
	return &SealedFrame{Nonce: nonce, Ciphertext: ciphertext}, nil
}

// Open authenticates and decrypts a frame sealed by the remote party.
// Returns ErrAuthentication on any tag mismatch, truncation, or key
// confusion; no partial plaintext is ever returned.
func (c *Codec) Open(frame *SealedFrame) ([]byte, error) {
	if frame == nil || len(frame.Nonce) != NonceSize || len(frame.Ciphertext) < TagSize {
		return nil, ErrAuthentication
	}
	plaintext, err := c.aead.Open(nil, frame.Nonce, frame.Ciphertext, c.remotePub)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// LocalPublicBytes returns the local party's raw public key.
func (c *Codec) LocalPublicBytes() []byte {
	return append([]byte(nil), c.localPub...)
}
