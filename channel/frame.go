package channel

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	lengthPrefixSize = 4

	// MaxFrameSize caps the wire frame body (nonce plus ciphertext). The
	// length prefix could express far more; the cap bounds per-connection
	// memory and every legal payload in this protocol is small.
	MaxFrameSize = 64 * 1024

	// MaxPlaintextSize is the largest plaintext that fits a frame.
	MaxPlaintextSize = MaxFrameSize - NonceSize - TagSize
)

// Wire layout, over any connection-oriented byte stream:
//
//	[4-byte big-endian length][12-byte nonce][ciphertext with 16-byte tag]
//
// where length counts the nonce and ciphertext. Requests are preceded by
// a single role byte identifying the claimed sender (see Role).

// encode renders the frame in wire layout.
func (f *SealedFrame) encode() ([]byte, error) {
	bodyLen := len(f.Nonce) + len(f.Ciphertext)
	if len(f.Nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrBadFrame, NonceSize, len(f.Nonce))
	}
	if bodyLen > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, 0, lengthPrefixSize+bodyLen)
	buf = binary.BigEndian.AppendUint32(buf, uint32(bodyLen))
	buf = append(buf, f.Nonce...)
	buf = append(buf, f.Ciphertext...)
	return buf, nil
}

// WriteFrame writes one frame. The frame is rendered into a single
// buffer and written with one call so a transport fault never leaves a
// partial prefix behind a full body.
func WriteFrame(w io.Writer, frame *SealedFrame) error {
	buf, err := frame.encode()
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame, enforcing the size bounds
// before allocating.
func ReadFrame(r io.Reader) (*SealedFrame, error) {
	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}
	bodyLen := binary.BigEndian.Uint32(prefix[:])
	if bodyLen > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if bodyLen < NonceSize+TagSize {
		return nil, fmt.Errorf("%w: frame length %d below nonce and tag", ErrBadFrame, bodyLen)
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return &SealedFrame{
		Nonce:      body[:NonceSize],
		Ciphertext: body[NonceSize:],
	}, nil
}
