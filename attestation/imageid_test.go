package attestation

import (
	"bytes"
	"crypto/sha256"
	"testing"
)

// Helper producing a deterministic PCR value
func testPCR(fill byte) []byte {
	return bytes.Repeat([]byte{fill}, PCRSize)
}

func TestComputeImageIdentity(t *testing.T) {
	t.Run("MatchesManualDerivation", func(t *testing.T) {
		pcr0, pcr1, pcr2, pcr16 := testPCR(0xaa), testPCR(0xbb), testPCR(0xcc), testPCR(0xdd)

		id, err := ComputeImageIdentity(pcr0, pcr1, pcr2, pcr16)
		if err != nil {
			t.Fatalf("Failed to compute image identity: %v", err)
		}

		// Independent derivation: big-endian bitmask of PCR indexes
		// 0, 1, 2 and 16, then the four registers in order
		h := sha256.New()
		h.Write([]byte{0x00, 0x01, 0x00, 0x07})
		h.Write(pcr0)
		h.Write(pcr1)
		h.Write(pcr2)
		h.Write(pcr16)
		var want ImageIdentity
		copy(want[:], h.Sum(nil))

		if id != want {
			t.Errorf("Expected identity %s, got %s", want, id)
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		a, err := ComputeImageIdentity(testPCR(1), testPCR(2), testPCR(3), testPCR(4))
		if err != nil {
			t.Fatalf("Failed to compute image identity: %v", err)
		}
		b, err := ComputeImageIdentity(testPCR(1), testPCR(2), testPCR(3), testPCR(4))
		if err != nil {
			t.Fatalf("Failed to compute image identity: %v", err)
		}
		if a != b {
			t.Error("Same PCR values produced different identities")
		}
	})

	t.Run("SensitiveToEveryRegister", func(t *testing.T) {
		base, err := ComputeImageIdentity(testPCR(1), testPCR(2), testPCR(3), testPCR(4))
		if err != nil {
			t.Fatalf("Failed to compute image identity: %v", err)
		}

		variants := [][4]byte{
			{9, 2, 3, 4},
			{1, 9, 3, 4},
			{1, 2, 9, 4},
			{1, 2, 3, 9},
		}
		for i, v := range variants {
			id, err := ComputeImageIdentity(testPCR(v[0]), testPCR(v[1]), testPCR(v[2]), testPCR(v[3]))
			if err != nil {
				t.Fatalf("Failed to compute variant %d: %v", i, err)
			}
			if id == base {
				t.Errorf("Changing register %d did not change the identity", i)
			}
		}
	})

	t.Run("NilPCR16MeansZeroes", func(t *testing.T) {
		withNil, err := ComputeImageIdentity(testPCR(1), testPCR(2), testPCR(3), nil)
		if err != nil {
			t.Fatalf("Failed to compute with nil PCR16: %v", err)
		}
		withZero, err := ComputeImageIdentity(testPCR(1), testPCR(2), testPCR(3), make([]byte, PCRSize))
		if err != nil {
			t.Fatalf("Failed to compute with zero PCR16: %v", err)
		}
		if withNil != withZero {
			t.Error("Nil PCR16 must hash like an all-zero register")
		}
	})

	t.Run("RejectsWrongLength", func(t *testing.T) {
		if _, err := ComputeImageIdentity(testPCR(1)[:PCRSize-1], testPCR(2), testPCR(3), nil); err == nil {
			t.Error("Expected error for short PCR0")
		}
		if _, err := ComputeImageIdentity(testPCR(1), testPCR(2), testPCR(3), make([]byte, PCRSize+1)); err == nil {
			t.Error("Expected error for long PCR16")
		}
	})
}

func TestParseImageIdentity(t *testing.T) {
	id, err := ComputeImageIdentity(testPCR(7), testPCR(8), testPCR(9), nil)
	if err != nil {
		t.Fatalf("Failed to compute image identity: %v", err)
	}

	t.Run("RoundTrip", func(t *testing.T) {
		parsed, err := ParseImageIdentity(id.String())
		if err != nil {
			t.Fatalf("Failed to parse hex identity: %v", err)
		}
		if parsed != id {
			t.Errorf("Expected %s after round trip, got %s", id, parsed)
		}
	})

	t.Run("RejectsNonHex", func(t *testing.T) {
		if _, err := ParseImageIdentity("not-hex"); err == nil {
			t.Error("Expected error for non-hex input")
		}
	})

	t.Run("RejectsWrongLength", func(t *testing.T) {
		if _, err := ParseImageIdentity("abcd"); err == nil {
			t.Error("Expected error for short identity")
		}
	})
}
