package attestation

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// imagePCRFlags is the big-endian bitmask of PCR indexes folded into an
// image identity: PCR0, PCR1, PCR2 and PCR16.
const imagePCRFlags = uint32(1<<0 | 1<<1 | 1<<2 | 1<<16)

// ImageIdentity is the fingerprint of an enclave build: SHA-256 over
// the PCR index bitmask followed by the four measured registers. A
// caller pins the identity of a known-good build and verification
// compares byte-exact, never partially.
type ImageIdentity [sha256.Size]byte

// ComputeImageIdentity derives the identity from raw PCR values. Each
// register must be exactly PCRSize bytes; a nil PCR16 is treated as all
// zeroes.
func ComputeImageIdentity(pcr0, pcr1, pcr2, pcr16 []byte) (ImageIdentity, error) {
	var id ImageIdentity

	if pcr16 == nil {
		pcr16 = make([]byte, PCRSize)
	}
	registers := [][]byte{pcr0, pcr1, pcr2, pcr16}
	indexes := []uint{0, 1, 2, 16}
	for i, pcr := range registers {
		if len(pcr) != PCRSize {
			return id, fmt.Errorf("PCR%d must be %d bytes, got %d", indexes[i], PCRSize, len(pcr))
		}
	}

	h := sha256.New()
	var flags [4]byte
	binary.BigEndian.PutUint32(flags[:], imagePCRFlags)
	h.Write(flags[:])
	for _, pcr := range registers {
		h.Write(pcr)
	}
	copy(id[:], h.Sum(nil))
	return id, nil
}

// ParseImageIdentity decodes the hex form used at tool boundaries.
func ParseImageIdentity(s string) (ImageIdentity, error) {
	var id ImageIdentity
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("image identity is not hex: %v", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("image identity must be %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func (id ImageIdentity) String() string {
	return hex.EncodeToString(id[:])
}
