// keygen generates an X25519 channel key pair and writes it as two raw
// 32-byte key files.
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tee-channel/channel"
)

var (
	privateFile string
	publicFile  string
	force       bool
)

var rootCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an X25519 channel key pair",
	Long: `keygen produces a fresh X25519 key pair for one channel party and
persists it as raw 32-byte key files. The private key file is written
owner-readable only and must never leave the party that owns it.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runKeygen,
}

func init() {
	rootCmd.Flags().StringVar(&privateFile, "private", "party.key", "private key output file")
	rootCmd.Flags().StringVar(&publicFile, "public", "party.pub", "public key output file")
	rootCmd.Flags().BoolVar(&force, "force", false, "overwrite existing key files")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	if !force {
		for _, path := range []string{privateFile, publicFile} {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
		}
	}

	keys, err := channel.Generate()
	if err != nil {
		return err
	}
	if err := keys.WriteKeyPairFiles(privateFile, publicFile); err != nil {
		return err
	}

	fmt.Printf("Public key:  %s\n", hex.EncodeToString(keys.PublicBytes()))
	fmt.Printf("Private key: %s (not shown)\n", privateFile)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
