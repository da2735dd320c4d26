package enclave

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hf/nsm"
	"github.com/hf/nsm/request"
)

const (
	// AttesterModeNitro selects the hardware NSM attester.
	AttesterModeNitro = "nitro"
	// AttesterModeSelfSigned selects the software attester for
	// development and tests.
	AttesterModeSelfSigned = "selfsigned"

	// AttestationTTL bounds how long a cached document is served. Nitro
	// documents embed certificates valid for a few minutes; refresh
	// comfortably before expiry.
	AttestationTTL = 4*time.Minute + 50*time.Second

	nonceSize = 32
)

// AttestOptions carries the caller-controlled fields bound into an
// attestation document. PublicKey is the raw channel public key the
// document vouches for.
type AttestOptions struct {
	Nonce     []byte
	UserData  []byte
	PublicKey []byte
}

// Attester produces signed attestation documents. The interface exists
// so everything above it runs identically on Nitro hardware and in
// local development: only the document's signer differs.
type Attester interface {
	// Mode reports which attester backs this instance.
	Mode() string
	// Attest returns a signed COSE_Sign1 attestation document binding
	// the given options.
	Attest(opts AttestOptions) ([]byte, error)
}

// NewAttester constructs the attester selected by mode.
func NewAttester(mode string) (Attester, error) {
	switch mode {
	case AttesterModeNitro:
		return NewNSMAttester()
	case AttesterModeSelfSigned:
		return NewSelfSignedAttester()
	default:
		return nil, fmt.Errorf("unknown attester mode %q", mode)
	}
}

// InitializeNSM installs the NSM session as the process entropy source,
// so key and nonce material inside the enclave comes from the
// hypervisor. The session stays open for the process lifetime.
func InitializeNSM() error {
	sess, err := nsm.OpenDefaultSession()
	if err != nil {
		return fmt.Errorf("open NSM session: %w", err)
	}
	rand.Reader = sess
	return nil
}

type attestationCacheEntry struct {
	doc       []byte
	createdAt time.Time
}

// NSMAttester requests attestation documents from the Nitro Security
// Module. Documents are cached per bound public key for AttestationTTL
// so a busy attestation endpoint does not hammer the hypervisor.
type NSMAttester struct {
	sess *nsm.Session

	mu    sync.RWMutex
	cache map[string]attestationCacheEntry
}

// NewNSMAttester opens an NSM session. Fails outside a Nitro enclave.
func NewNSMAttester() (*NSMAttester, error) {
	sess, err := nsm.OpenDefaultSession()
	if err != nil {
		return nil, fmt.Errorf("open NSM session: %w", err)
	}
	return &NSMAttester{
		sess:  sess,
		cache: make(map[string]attestationCacheEntry),
	}, nil
}

func (a *NSMAttester) Mode() string { return AttesterModeNitro }

// Attest returns a signed document from the NSM, caching per public
// key. A caller-supplied nonce bypasses the cache, since the nonce must
// be fresh in the returned document.
func (a *NSMAttester) Attest(opts AttestOptions) ([]byte, error) {
	cacheable := opts.Nonce == nil
	cacheKey := string(opts.PublicKey) + "|" + string(opts.UserData)

	if cacheable {
		a.mu.RLock()
		entry, found := a.cache[cacheKey]
		a.mu.RUnlock()
		if found && time.Since(entry.createdAt) < AttestationTTL {
			return entry.doc, nil
		}
	}

	nonce := opts.Nonce
	if nonce == nil {
		raw := make([]byte, nonceSize)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("generate attestation nonce: %w", err)
		}
		nonce = []byte(hex.EncodeToString(raw))
	}

	res, err := a.sess.Send(&request.Attestation{
		Nonce:     nonce,
		UserData:  opts.UserData,
		PublicKey: opts.PublicKey,
	})
	if err != nil {
		return nil, fmt.Errorf("NSM attestation request: %w", err)
	}
	if res.Error != "" {
		return nil, fmt.Errorf("NSM attestation: %s", res.Error)
	}
	if res.Attestation == nil || res.Attestation.Document == nil {
		return nil, errors.New("NSM attestation response missing document")
	}

	if cacheable {
		a.mu.Lock()
		a.cache[cacheKey] = attestationCacheEntry{
			doc:       res.Attestation.Document,
			createdAt: time.Now(),
		}
		a.mu.Unlock()
	}
	return res.Attestation.Document, nil
}

// Close releases the NSM session.
func (a *NSMAttester) Close() error {
	return a.sess.Close()
}
