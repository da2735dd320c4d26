package channel

import (
	"bytes"
	"errors"
	"testing"
)

// Helper to generate a key pair or fail the test
func generateTestPair(t *testing.T) *KeyPair {
	t.Helper()
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	return kp
}

// Helper to build the two codecs for a conversation between a and b
func testCodecs(t *testing.T) (*Codec, *Codec) {
	t.Helper()
	a := generateTestPair(t)
	b := generateTestPair(t)

	aToB, err := NewCodec(a, b.Public())
	if err != nil {
		t.Fatalf("Failed to create codec a->b: %v", err)
	}
	bToA, err := NewCodec(b, a.Public())
	if err != nil {
		t.Fatalf("Failed to create codec b->a: %v", err)
	}
	return aToB, bToA
}

func TestSealOpenRoundTrip(t *testing.T) {
	aToB, bToA := testCodecs(t)

	t.Run("Basic", func(t *testing.T) {
		plaintext := []byte("attested channel payload")
		frame, err := aToB.Seal(plaintext)
		if err != nil {
			t.Fatalf("Failed to seal: %v", err)
		}
		if len(frame.Nonce) != NonceSize {
			t.Errorf("Expected %d-byte nonce, got %d", NonceSize, len(frame.Nonce))
		}
		if len(frame.Ciphertext) != len(plaintext)+TagSize {
			t.Errorf("Expected ciphertext of %d bytes, got %d", len(plaintext)+TagSize, len(frame.Ciphertext))
		}

		opened, err := bToA.Open(frame)
		if err != nil {
			t.Fatalf("Failed to open: %v", err)
		}
		if !bytes.Equal(opened, plaintext) {
			t.Errorf("Expected plaintext %q, got %q", plaintext, opened)
		}
	})

	t.Run("EmptyPlaintext", func(t *testing.T) {
		frame, err := aToB.Seal(nil)
		if err != nil {
			t.Fatalf("Failed to seal empty plaintext: %v", err)
		}
		if len(frame.Ciphertext) != TagSize {
			t.Errorf("Expected tag-only ciphertext of %d bytes, got %d", TagSize, len(frame.Ciphertext))
		}
		opened, err := bToA.Open(frame)
		if err != nil {
			t.Fatalf("Failed to open empty plaintext: %v", err)
		}
		if len(opened) != 0 {
			t.Errorf("Expected empty plaintext, got %d bytes", len(opened))
		}
	})

	t.Run("MaxSizePlaintext", func(t *testing.T) {
		plaintext := bytes.Repeat([]byte{0xa5}, MaxPlaintextSize)
		frame, err := aToB.Seal(plaintext)
		if err != nil {
			t.Fatalf("Failed to seal max-size plaintext: %v", err)
		}
		opened, err := bToA.Open(frame)
		if err != nil {
			t.Fatalf("Failed to open max-size plaintext: %v", err)
		}
		if !bytes.Equal(opened, plaintext) {
			t.Error("Max-size plaintext did not round-trip unchanged")
		}
	})

	t.Run("BothDirections", func(t *testing.T) {
		request := []byte{12, 43}
		frame, err := aToB.Seal(request)
		if err != nil {
			t.Fatalf("Failed to seal request: %v", err)
		}
		if _, err := bToA.Open(frame); err != nil {
			t.Fatalf("Failed to open request: %v", err)
		}

		response := []byte{55}
		frame, err = bToA.Seal(response)
		if err != nil {
			t.Fatalf("Failed to seal response: %v", err)
		}
		opened, err := aToB.Open(frame)
		if err != nil {
			t.Fatalf("Failed to open response: %v", err)
		}
		if !bytes.Equal(opened, response) {
			t.Errorf("Expected response %v, got %v", response, opened)
		}
	})
}

func TestSealRejectsOversizedPlaintext(t *testing.T) {
	aToB, _ := testCodecs(t)

	if _, err := aToB.Seal(make([]byte, MaxPlaintextSize+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Expected ErrFrameTooLarge for oversized plaintext, got %v", err)
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	aToB, bToA := testCodecs(t)

	frame, err := aToB.Seal([]byte{12, 43})
	if err != nil {
		t.Fatalf("Failed to seal: %v", err)
	}

	// Flip every single bit of the nonce and the ciphertext (which
	// includes the tag); each altered frame must fail authentication
	// and must never yield plaintext.
	flip := func(buf []byte, bit int) {
		buf[bit/8] ^= 1 << (bit % 8)
	}

	for bit := 0; bit < len(frame.Nonce)*8; bit++ {
		tampered := &SealedFrame{
			Nonce:      append([]byte(nil), frame.Nonce...),
			Ciphertext: append([]byte(nil), frame.Ciphertext...),
		}
		flip(tampered.Nonce, bit)
		if _, err := bToA.Open(tampered); !errors.Is(err, ErrAuthentication) {
			t.Fatalf("Expected ErrAuthentication for nonce bit %d, got %v", bit, err)
		}
	}

	for bit := 0; bit < len(frame.Ciphertext)*8; bit++ {
		tampered := &SealedFrame{
			Nonce:      append([]byte(nil), frame.Nonce...),
			Ciphertext: append([]byte(nil), frame.Ciphertext...),
		}
		flip(tampered.Ciphertext, bit)
		if _, err := bToA.Open(tampered); !errors.Is(err, ErrAuthentication) {
			t.Fatalf("Expected ErrAuthentication for ciphertext bit %d, got %v", bit, err)
		}
	}

	// The untouched frame still opens after all that
	if _, err := bToA.Open(frame); err != nil {
		t.Fatalf("Original frame no longer opens: %v", err)
	}
}

func TestOpenRejectsTruncatedFrame(t *testing.T) {
	aToB, bToA := testCodecs(t)

	frame, err := aToB.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("Failed to seal: %v", err)
	}

	t.Run("TruncatedCiphertext", func(t *testing.T) {
		truncated := &SealedFrame{Nonce: frame.Nonce, Ciphertext: frame.Ciphertext[:TagSize-1]}
		if _, err := bToA.Open(truncated); !errors.Is(err, ErrAuthentication) {
			t.Errorf("Expected ErrAuthentication for truncated ciphertext, got %v", err)
		}
	})

	t.Run("ShortNonce", func(t *testing.T) {
		truncated := &SealedFrame{Nonce: frame.Nonce[:NonceSize-1], Ciphertext: frame.Ciphertext}
		if _, err := bToA.Open(truncated); !errors.Is(err, ErrAuthentication) {
			t.Errorf("Expected ErrAuthentication for short nonce, got %v", err)
		}
	})

	t.Run("NilFrame", func(t *testing.T) {
		if _, err := bToA.Open(nil); !errors.Is(err, ErrAuthentication) {
			t.Errorf("Expected ErrAuthentication for nil frame, got %v", err)
		}
	})
}

func TestOpenRejectsWrongKeys(t *testing.T) {
	a := generateTestPair(t)
	b := generateTestPair(t)
	c := generateTestPair(t)

	aToB, err := NewCodec(a, b.Public())
	if err != nil {
		t.Fatalf("Failed to create codec: %v", err)
	}
	frame, err := aToB.Seal([]byte("for b only"))
	if err != nil {
		t.Fatalf("Failed to seal: %v", err)
	}

	t.Run("WrongRecipient", func(t *testing.T) {
		// c was never part of the conversation
		cToA, err := NewCodec(c, a.Public())
		if err != nil {
			t.Fatalf("Failed to create codec: %v", err)
		}
		if _, err := cToA.Open(frame); !errors.Is(err, ErrAuthentication) {
			t.Errorf("Expected ErrAuthentication for wrong recipient, got %v", err)
		}
	})

	t.Run("WrongClaimedSender", func(t *testing.T) {
		// b expects the frame from c, but a sealed it: associated data
		// binds the real sender, so the open must fail
		bFromC, err := NewCodec(b, c.Public())
		if err != nil {
			t.Fatalf("Failed to create codec: %v", err)
		}
		if _, err := bFromC.Open(frame); !errors.Is(err, ErrAuthentication) {
			t.Errorf("Expected ErrAuthentication for wrong claimed sender, got %v", err)
		}
	})
}

func TestNonceUniqueness(t *testing.T) {
	aToB, _ := testCodecs(t)

	const samples = 10000
	seen := make(map[[NonceSize]byte]struct{}, samples)
	payload := []byte{1}

	for i := 0; i < samples; i++ {
		frame, err := aToB.Seal(payload)
		if err != nil {
			t.Fatalf("Failed to seal sample %d: %v", i, err)
		}
		var nonce [NonceSize]byte
		copy(nonce[:], frame.Nonce)
		if _, dup := seen[nonce]; dup {
			t.Fatalf("Nonce repeated at sample %d", i)
		}
		seen[nonce] = struct{}{}
	}
}
