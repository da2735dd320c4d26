package attestation

import "errors"

// Verification failures are distinct values so callers can log exactly
// which trust check broke. Every failure aborts the whole verification;
// no key material is ever returned alongside an error.
var (
	// ErrBadDocument reports input that does not parse as a COSE_Sign1
	// attestation document or is missing mandatory fields.
	ErrBadDocument = errors.New("attestation: malformed document")

	// ErrChainInvalid reports a certificate chain that does not validate
	// up to the configured trust root.
	ErrChainInvalid = errors.New("attestation: certificate chain invalid")

	// ErrSignatureInvalid reports a COSE signature that does not verify
	// under the leaf certificate key.
	ErrSignatureInvalid = errors.New("attestation: document signature invalid")

	// ErrImageMismatch reports PCR measurements that do not hash to the
	// expected image identity.
	ErrImageMismatch = errors.New("attestation: image identity mismatch")
)
