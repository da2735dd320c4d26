// The verifier fetches the enclave's attestation document, validates
// it against a pinned trust root and an expected image identity, and
// writes the extracted server public key to a key file for the channel
// clients.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tee-channel/attestation"
	"tee-channel/channel"
	"tee-channel/enclave"
	"tee-channel/shared"
)

var (
	attestationURL string
	rootFile       string
	imageID        string
	outFile        string
	fetchTimeout   time.Duration

	pcr0Arg  string
	pcr1Arg  string
	pcr2Arg  string
	pcr16Arg string
)

var rootCmd = &cobra.Command{
	Use:   "verifier",
	Short: "Verify an enclave attestation and extract its channel key",
	Long: `verifier fetches the raw attestation document from the enclave,
validates the certificate chain against the trust root, checks the
document signature, compares the measured image identity against the
pinned value, and writes the embedded channel public key to a file.

Any failed check aborts verification: no key is written.`,
	SilenceUsage: true,
	RunE:         runVerify,
}

var imageIDCmd = &cobra.Command{
	Use:   "image-id",
	Short: "Compute an image identity from known-good PCR values",
	Long: `image-id computes the expected image identity offline from PCR0, PCR1,
PCR2 and PCR16. Each PCR is a 96-character hex string or @path to a file
holding one; PCR16 may be omitted for enclaves that never extend it.`,
	SilenceUsage: true,
	RunE:         runImageID,
}

func init() {
	rootCmd.Flags().StringVar(&attestationURL, "url", "http://localhost:8080"+enclave.AttestationRawPath, "attestation endpoint URL")
	rootCmd.Flags().StringVar(&rootFile, "root", "root.pem", "trust root certificate file (PEM or DER)")
	rootCmd.Flags().StringVar(&imageID, "image-id", "", "expected image identity, hex (required)")
	rootCmd.Flags().StringVar(&outFile, "out", "server.pub", "output file for the verified server public key")
	rootCmd.Flags().DurationVar(&fetchTimeout, "timeout", 30*time.Second, "overall fetch timeout")
	rootCmd.MarkFlagRequired("image-id")

	imageIDCmd.Flags().StringVar(&pcr0Arg, "pcr0", "", "PCR0, hex or @file (required)")
	imageIDCmd.Flags().StringVar(&pcr1Arg, "pcr1", "", "PCR1, hex or @file (required)")
	imageIDCmd.Flags().StringVar(&pcr2Arg, "pcr2", "", "PCR2, hex or @file (required)")
	imageIDCmd.Flags().StringVar(&pcr16Arg, "pcr16", "", "PCR16, hex or @file (defaults to all zeroes)")
	imageIDCmd.MarkFlagRequired("pcr0")
	imageIDCmd.MarkFlagRequired("pcr1")
	imageIDCmd.MarkFlagRequired("pcr2")

	rootCmd.AddCommand(imageIDCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	logger, err := shared.NewLoggerFromEnv("verifier")
	if err != nil {
		return err
	}
	defer logger.Close()

	expected, err := attestation.ParseImageIdentity(imageID)
	if err != nil {
		return err
	}

	rootBytes, err := os.ReadFile(rootFile)
	if err != nil {
		return fmt.Errorf("read trust root: %w", err)
	}
	verifier, err := attestation.NewVerifierFromFile(rootBytes)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), fetchTimeout)
	defer cancel()
	docBytes, err := enclave.FetchAttestation(ctx, attestationURL)
	if err != nil {
		return err
	}
	logger.Info("Fetched attestation document",
		zap.String("url", attestationURL),
		zap.Int("document_bytes", len(docBytes)))

	serverKey, err := verifier.Verify(docBytes, expected)
	if err != nil {
		logger.Security("Attestation verification failed", zap.Error(err))
		return err
	}

	if err := channel.WritePublicKeyFile(outFile, serverKey); err != nil {
		return err
	}
	logger.Info("Attestation verified",
		zap.String("image_identity", expected.String()),
		zap.String("server_public_key", hex.EncodeToString(serverKey)),
		zap.String("out", outFile))
	fmt.Printf("Verified. Server public key %s written to %s\n", hex.EncodeToString(serverKey), outFile)
	return nil
}

func runImageID(cmd *cobra.Command, args []string) error {
	pcr0, err := parsePCR(pcr0Arg)
	if err != nil {
		return fmt.Errorf("pcr0: %w", err)
	}
	pcr1, err := parsePCR(pcr1Arg)
	if err != nil {
		return fmt.Errorf("pcr1: %w", err)
	}
	pcr2, err := parsePCR(pcr2Arg)
	if err != nil {
		return fmt.Errorf("pcr2: %w", err)
	}
	var pcr16 []byte
	if pcr16Arg != "" {
		if pcr16, err = parsePCR(pcr16Arg); err != nil {
			return fmt.Errorf("pcr16: %w", err)
		}
	}

	id, err := attestation.ComputeImageIdentity(pcr0, pcr1, pcr2, pcr16)
	if err != nil {
		return err
	}
	fmt.Println(id.String())
	return nil
}

// parsePCR decodes a hex PCR value, reading it from a file when the
// argument starts with @.
func parsePCR(arg string) ([]byte, error) {
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		arg = strings.TrimSpace(string(raw))
	}
	pcr, err := hex.DecodeString(arg)
	if err != nil {
		return nil, fmt.Errorf("not hex: %v", err)
	}
	if len(pcr) != attestation.PCRSize {
		return nil, fmt.Errorf("must be %d bytes, got %d", attestation.PCRSize, len(pcr))
	}
	return pcr, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
