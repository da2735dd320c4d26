package attestation

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// PCRSize is the length of one platform configuration register value
// under the SHA-384 measurement digest.
const PCRSize = 48

// Document is the AWS Nitro attestation document, the CBOR payload
// carried inside a COSE_Sign1 structure. See page 70 of the AWS Nitro
// Enclaves user guide. Consumed read-only; its PublicKey field becomes
// trusted only after full verification.
type Document struct {
	ModuleID    string          `cbor:"module_id"`
	Timestamp   uint64          `cbor:"timestamp"` // milliseconds since epoch
	Digest      string          `cbor:"digest"`
	PCRs        map[uint][]byte `cbor:"pcrs"`
	Certificate []byte          `cbor:"certificate"`
	CABundle    [][]byte        `cbor:"cabundle"`
	PublicKey   []byte          `cbor:"public_key"`
	UserData    []byte          `cbor:"user_data"`
	Nonce       []byte          `cbor:"nonce"`
}

// parseDocument decodes and structurally validates a document payload.
func parseDocument(payload []byte) (*Document, error) {
	var doc Document
	if err := cbor.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %v", err)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// validate enforces the mandatory document fields before any trust
// decision is attempted.
func (d *Document) validate() error {
	if d.ModuleID == "" {
		return fmt.Errorf("missing module_id")
	}
	if d.Digest != "SHA384" {
		return fmt.Errorf("unsupported digest %q", d.Digest)
	}
	if d.Timestamp == 0 {
		return fmt.Errorf("missing timestamp")
	}
	if len(d.PCRs) == 0 {
		return fmt.Errorf("missing pcrs")
	}
	for _, index := range []uint{0, 1, 2} {
		pcr, ok := d.PCRs[index]
		if !ok {
			return fmt.Errorf("missing PCR%d", index)
		}
		if len(pcr) != PCRSize {
			return fmt.Errorf("PCR%d must be %d bytes, got %d", index, PCRSize, len(pcr))
		}
	}
	if pcr16, ok := d.PCRs[16]; ok && len(pcr16) != PCRSize {
		return fmt.Errorf("PCR16 must be %d bytes, got %d", PCRSize, len(pcr16))
	}
	if len(d.Certificate) == 0 {
		return fmt.Errorf("missing certificate")
	}
	if len(d.CABundle) == 0 {
		return fmt.Errorf("missing cabundle")
	}
	for i, der := range d.CABundle {
		if len(der) == 0 {
			return fmt.Errorf("empty cabundle entry %d", i)
		}
	}
	return nil
}

// ImageIdentity recomputes the code fingerprint from the measured PCRs.
// An absent PCR16 counts as all zeroes, matching an enclave that never
// extended it.
func (d *Document) ImageIdentity() (ImageIdentity, error) {
	return ComputeImageIdentity(d.PCRs[0], d.PCRs[1], d.PCRs[2], d.PCRs[16])
}
