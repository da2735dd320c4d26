package attestation

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"
)

// channelKeySize is the length of the X25519 public key embedded in a
// document's public_key field.
const channelKeySize = 32

// Verifier validates attestation documents against a single pinned
// trust root. It performs no network I/O; callers fetch the raw bytes.
type Verifier struct {
	roots *x509.CertPool
}

// NewVerifier pins the given certificate as the sole trust anchor.
func NewVerifier(root *x509.Certificate) (*Verifier, error) {
	if root == nil {
		return nil, fmt.Errorf("trust root certificate is nil")
	}
	roots := x509.NewCertPool()
	roots.AddCert(root)
	return &Verifier{roots: roots}, nil
}

// NewVerifierFromFile loads the trust root from a certificate file,
// accepting PEM or raw DER.
func NewVerifierFromFile(raw []byte) (*Verifier, error) {
	if block, _ := pem.Decode(raw); block != nil {
		if block.Type != "CERTIFICATE" {
			return nil, fmt.Errorf("trust root PEM block is %q, want CERTIFICATE", block.Type)
		}
		raw = block.Bytes
	}
	root, err := x509.ParseCertificate(raw)
	if err != nil {
		return nil, fmt.Errorf("parse trust root certificate: %w", err)
	}
	return NewVerifier(root)
}

// Verify runs the full trust decision over raw COSE_Sign1 bytes:
//
//  1. certificate chain validation up to the pinned root, with
//     validity windows evaluated at the document's own timestamp
//  2. COSE signature verification under the leaf certificate key
//  3. byte-exact image identity comparison against expected
//  4. extraction of the embedded 32-byte channel public key
//
// The first failing step aborts the whole verification and no key is
// returned; there is no partial trust.
func (v *Verifier) Verify(docBytes []byte, expected ImageIdentity) ([]byte, error) {
	msg, err := parseCOSESign1(docBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDocument, err)
	}
	doc, err := parseDocument(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDocument, err)
	}

	leaf, err := v.verifyChain(doc)
	if err != nil {
		return nil, err
	}

	if err := verifySignature(leaf, msg); err != nil {
		return nil, err
	}

	id, err := doc.ImageIdentity()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDocument, err)
	}
	if id != expected {
		return nil, fmt.Errorf("%w: document measures %s, expected %s", ErrImageMismatch, id, expected)
	}

	if len(doc.PublicKey) != channelKeySize {
		return nil, fmt.Errorf("%w: embedded public key must be %d bytes, got %d",
			ErrBadDocument, channelKeySize, len(doc.PublicKey))
	}
	return append([]byte(nil), doc.PublicKey...), nil
}

// verifyChain validates leaf → cabundle → pinned root. Validity is
// checked at the attestation timestamp, not the wall clock, so a
// document stays verifiable for exactly as long as its certificates
// were valid when it was issued.
func (v *Verifier) verifyChain(doc *Document) (*x509.Certificate, error) {
	leaf, err := x509.ParseCertificate(doc.Certificate)
	if err != nil {
		return nil, fmt.Errorf("%w: parse leaf certificate: %v", ErrChainInvalid, err)
	}

	intermediates := x509.NewCertPool()
	for i, der := range doc.CABundle {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: parse cabundle entry %d: %v", ErrChainInvalid, i, err)
		}
		intermediates.AddCert(cert)
	}

	opts := x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   time.UnixMilli(int64(doc.Timestamp)),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := leaf.Verify(opts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainInvalid, err)
	}
	return leaf, nil
}
