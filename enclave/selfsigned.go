package enclave

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"time"

	"tee-channel/attestation"
)

const selfSignedValidity = 24 * time.Hour

// SelfSignedAttester signs attestation documents in software with a
// generated P-384 root -> intermediate -> leaf chain, mirroring the
// shape of Nitro hardware output. PCR values are all zeroes, as Nitro
// reports in debug mode, so the image identity of every self-signed
// document is the same well-known value. Useful only for development
// and tests: it proves nothing about the code it runs in.
type SelfSignedAttester struct {
	moduleID string
	leafKey  *ecdsa.PrivateKey
	leafDER  []byte
	interDER []byte
	rootDER  []byte
	rootPEM  []byte
}

// NewSelfSignedAttester generates a fresh issuing chain valid for 24h.
func NewSelfSignedAttester() (*SelfSignedAttester, error) {
	notBefore := time.Now().Add(-time.Hour)
	notAfter := notBefore.Add(selfSignedValidity)

	rootKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate root key: %w", err)
	}
	rootTemplate := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "selfsigned-attestation-root"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, &rootTemplate, &rootTemplate, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("create root certificate: %w", err)
	}
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, fmt.Errorf("parse root certificate: %w", err)
	}

	interKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate intermediate key: %w", err)
	}
	interTemplate := x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{CommonName: "selfsigned-attestation-intermediate"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	interDER, err := x509.CreateCertificate(rand.Reader, &interTemplate, rootCert, &interKey.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("create intermediate certificate: %w", err)
	}
	interCert, err := x509.ParseCertificate(interDER)
	if err != nil {
		return nil, fmt.Errorf("parse intermediate certificate: %w", err)
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate leaf key: %w", err)
	}
	leafTemplate := x509.Certificate{
		SerialNumber:          big.NewInt(3),
		Subject:               pkix.Name{CommonName: "selfsigned-attestation-leaf"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, &leafTemplate, interCert, &leafKey.PublicKey, interKey)
	if err != nil {
		return nil, fmt.Errorf("create leaf certificate: %w", err)
	}

	hostname, _ := os.Hostname()
	return &SelfSignedAttester{
		moduleID: fmt.Sprintf("selfsigned-%s", hostname),
		leafKey:  leafKey,
		leafDER:  leafDER,
		interDER: interDER,
		rootDER:  rootDER,
		rootPEM:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: rootDER}),
	}, nil
}

func (a *SelfSignedAttester) Mode() string { return AttesterModeSelfSigned }

// Attest builds a Nitro-shaped document with zero PCRs and signs it
// with the generated leaf key.
func (a *SelfSignedAttester) Attest(opts AttestOptions) ([]byte, error) {
	doc := &attestation.Document{
		ModuleID:  a.moduleID,
		Timestamp: uint64(time.Now().UnixMilli()),
		Digest:    "SHA384",
		PCRs: map[uint][]byte{
			0: make([]byte, attestation.PCRSize),
			1: make([]byte, attestation.PCRSize),
			2: make([]byte, attestation.PCRSize),
		},
		Certificate: a.leafDER,
		CABundle:    [][]byte{a.rootDER, a.interDER},
		PublicKey:   opts.PublicKey,
		UserData:    opts.UserData,
		Nonce:       opts.Nonce,
	}
	signed, err := attestation.SignDocument(doc, a.leafKey)
	if err != nil {
		return nil, fmt.Errorf("sign self-signed document: %w", err)
	}
	return signed, nil
}

// RootPEM returns the generated trust root, so a local verifier run can
// be pointed at this attester's chain.
func (a *SelfSignedAttester) RootPEM() []byte {
	return append([]byte(nil), a.rootPEM...)
}

// WriteRootPEM persists the generated trust root.
func (a *SelfSignedAttester) WriteRootPEM(path string) error {
	if err := os.WriteFile(path, a.rootPEM, 0o644); err != nil {
		return fmt.Errorf("write trust root: %w", err)
	}
	return nil
}

// ImageIdentity returns the identity every self-signed document
// measures: the digest over all-zero PCRs.
func (a *SelfSignedAttester) ImageIdentity() attestation.ImageIdentity {
	zero := make([]byte, attestation.PCRSize)
	id, _ := attestation.ComputeImageIdentity(zero, zero, zero, nil)
	return id
}
