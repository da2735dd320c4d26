package attestation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// COSE algorithm identifiers (RFC 8152 section 8.1). Nitro hardware
// signs with ES384.
const (
	algES256 = -7
	algES384 = -35
	algES512 = -36
)

// coseSign1 is the four-element COSE_Sign1 array carrying the document.
type coseSign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected cbor.RawMessage
	Payload     []byte
	Signature   []byte
}

type protectedHeader struct {
	Alg int64 `cbor:"1,keyasint"`
}

// parseCOSESign1 decodes the outer COSE structure. NSM emits the bare
// array; the tagged form (tag 18) is accepted as well.
func parseCOSESign1(data []byte) (*coseSign1, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	if data[0] == 0xd2 { // tag 18, COSE_Sign1
		var tagged cbor.RawTag
		if err := cbor.Unmarshal(data, &tagged); err != nil {
			return nil, fmt.Errorf("decode cose tag: %v", err)
		}
		data = tagged.Content
	}
	var msg coseSign1
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode cose_sign1: %v", err)
	}
	if len(msg.Protected) == 0 {
		return nil, fmt.Errorf("empty protected header")
	}
	if len(msg.Payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if len(msg.Signature) == 0 {
		return nil, fmt.Errorf("empty signature")
	}
	return &msg, nil
}

// sigStructure builds the Sig_structure for a Signature1 context, the
// exact bytes the signature covers (RFC 8152 section 4.4).
func sigStructure(protected, payload []byte) ([]byte, error) {
	return cbor.Marshal([]interface{}{"Signature1", protected, []byte{}, payload})
}

func digestFor(alg int64, data []byte) ([]byte, error) {
	switch alg {
	case algES256:
		sum := sha256.Sum256(data)
		return sum[:], nil
	case algES384:
		sum := sha512.Sum384(data)
		return sum[:], nil
	case algES512:
		sum := sha512.Sum512(data)
		return sum[:], nil
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %d", alg)
	}
}

// verifySignature checks the COSE signature with the leaf certificate
// key. The signature is the raw big-endian r‖s pair sized by the curve.
func verifySignature(leaf *x509.Certificate, msg *coseSign1) error {
	public, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: leaf key is %T, want *ecdsa.PublicKey", ErrSignatureInvalid, leaf.PublicKey)
	}

	var header protectedHeader
	if err := cbor.Unmarshal(msg.Protected, &header); err != nil {
		return fmt.Errorf("%w: decode protected header: %v", ErrSignatureInvalid, err)
	}

	toBeSigned, err := sigStructure(msg.Protected, msg.Payload)
	if err != nil {
		return fmt.Errorf("%w: build sig_structure: %v", ErrSignatureInvalid, err)
	}
	digest, err := digestFor(header.Alg, toBeSigned)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	curveBytes := (public.Curve.Params().BitSize + 7) / 8
	if len(msg.Signature) != 2*curveBytes {
		return fmt.Errorf("%w: signature must be %d bytes, got %d", ErrSignatureInvalid, 2*curveBytes, len(msg.Signature))
	}
	r := new(big.Int).SetBytes(msg.Signature[:curveBytes])
	s := new(big.Int).SetBytes(msg.Signature[curveBytes:])

	if !ecdsa.Verify(public, digest, r, s) {
		return fmt.Errorf("%w: ecdsa verification failed", ErrSignatureInvalid)
	}
	return nil
}

func algForCurve(curve elliptic.Curve) (int64, error) {
	switch curve {
	case elliptic.P256():
		return algES256, nil
	case elliptic.P384():
		return algES384, nil
	case elliptic.P521():
		return algES512, nil
	default:
		return 0, fmt.Errorf("unsupported curve %s", curve.Params().Name)
	}
}

// SignDocument encodes the document and wraps it in a signed COSE_Sign1
// structure, the exact shape NSM hardware produces. Used by the
// self-signed attester and by tests; real enclaves receive the signed
// document from the hypervisor instead.
func SignDocument(doc *Document, key *ecdsa.PrivateKey) ([]byte, error) {
	payload, err := cbor.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	alg, err := algForCurve(key.Curve)
	if err != nil {
		return nil, err
	}
	protected, err := cbor.Marshal(protectedHeader{Alg: alg})
	if err != nil {
		return nil, fmt.Errorf("encode protected header: %w", err)
	}

	toBeSigned, err := sigStructure(protected, payload)
	if err != nil {
		return nil, fmt.Errorf("build sig_structure: %w", err)
	}
	digest, err := digestFor(alg, toBeSigned)
	if err != nil {
		return nil, err
	}
	r, s, err := ecdsa.Sign(rand.Reader, key, digest)
	if err != nil {
		return nil, fmt.Errorf("sign document: %w", err)
	}

	curveBytes := (key.Curve.Params().BitSize + 7) / 8
	signature := make([]byte, 2*curveBytes)
	r.FillBytes(signature[:curveBytes])
	s.FillBytes(signature[curveBytes:])

	msg := coseSign1{
		Protected:   protected,
		Unprotected: cbor.RawMessage{0xa0}, // empty header map
		Payload:     payload,
		Signature:   signature,
	}
	return cbor.Marshal(&msg)
}
