package enclave

import (
	"net/http"

	"go.uber.org/zap"

	"tee-channel/shared"
)

// AttestationRawPath is the endpoint serving raw attestation bytes.
const AttestationRawPath = "/attestation/raw"

// AttestationHandler serves the raw COSE_Sign1 attestation document
// binding publicKey, the server's channel public key. Clients verify
// the bytes themselves; the endpoint makes no trust claims.
func AttestationHandler(attester Attester, publicKey []byte, logger *shared.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		doc, err := attester.Attest(AttestOptions{PublicKey: publicKey})
		if err != nil {
			logger.Error("Failed to generate attestation",
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err))
			http.Error(w, "failed to generate attestation", http.StatusInternalServerError)
			return
		}

		logger.DebugIf("Served attestation document",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("document_bytes", len(doc)))

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(doc)
	}
}
