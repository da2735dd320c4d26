package channel

import "errors"

var (
	// ErrAuthentication reports an AEAD tag mismatch: tampered ciphertext,
	// wrong key material, or a truncated frame. Deliberately carries no
	// detail about where verification failed.
	ErrAuthentication = errors.New("channel: message authentication failed")

	// ErrFrameTooLarge reports a frame exceeding the wire size cap.
	ErrFrameTooLarge = errors.New("channel: frame exceeds maximum size")

	// ErrBadFrame reports a structurally invalid wire frame, such as a
	// length prefix smaller than a nonce and tag.
	ErrBadFrame = errors.New("channel: malformed frame")
)
