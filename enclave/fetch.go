package enclave

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"tee-channel/shared"
)

const (
	fetchTimeout = 10 * time.Second

	// maxDocumentSize caps the fetched body. Real documents are a few
	// kilobytes of CBOR plus the certificate chain.
	maxDocumentSize = 1 << 20
)

// FetchAttestation performs the HTTP GET against the enclave's
// attestation endpoint and returns the raw COSE_Sign1 bytes. Transient
// failures are retried with jittered exponential backoff; verification
// of the returned bytes is entirely the caller's concern.
func FetchAttestation(ctx context.Context, url string) ([]byte, error) {
	client := &http.Client{Timeout: fetchTimeout}

	var doc []byte
	err := shared.RetryWithBackoff(ctx, nil, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build attestation request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("fetch attestation: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("attestation endpoint returned %s", resp.Status)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
		if err != nil {
			return fmt.Errorf("read attestation body: %w", err)
		}
		if len(body) == 0 {
			return fmt.Errorf("attestation endpoint returned empty body")
		}
		if len(body) > maxDocumentSize {
			return fmt.Errorf("attestation document exceeds %d bytes", maxDocumentSize)
		}
		doc = body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}
