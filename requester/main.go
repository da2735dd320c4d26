// The requester asks the enclave app for the sum of its stored values
// over the secure channel.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tee-channel/channel"
	"tee-channel/enclave"
	"tee-channel/shared"
)

var (
	serverAddr     string
	transport      string
	vsockCID       uint32
	vsockPort      uint32
	privateKeyFile string
	serverKeyFile  string
)

var rootCmd = &cobra.Command{
	Use:   "requester",
	Short: "Request the sum of the enclave's stored values",
	Long: `requester sends a sealed empty request to the enclave server and opens
the sealed one-byte response holding the sum of the stored values. The
empty request still proves possession of the requester's key.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runRequest,
}

func init() {
	rootCmd.Flags().StringVar(&serverAddr, "addr", "localhost:7000", "server channel address (tcp)")
	rootCmd.Flags().StringVar(&transport, "transport", enclave.ListenModeTCP, "channel transport: tcp or vsock")
	rootCmd.Flags().Uint32Var(&vsockCID, "vsock-cid", 16, "enclave context ID (vsock)")
	rootCmd.Flags().Uint32Var(&vsockPort, "vsock-port", 7000, "channel port (vsock)")
	rootCmd.Flags().StringVar(&privateKeyFile, "key", "requester.key", "requester private key file")
	rootCmd.Flags().StringVar(&serverKeyFile, "server-key", "server.pub", "verified server public key file")
}

func runRequest(cmd *cobra.Command, args []string) error {
	logger, err := shared.NewLoggerFromEnv("requester")
	if err != nil {
		return err
	}
	defer logger.Close()

	keys, err := channel.LoadKeyPairFile(privateKeyFile)
	if err != nil {
		return err
	}
	serverPub, err := channel.LoadPublicKeyFile(serverKeyFile)
	if err != nil {
		return err
	}
	codec, err := channel.NewCodec(keys, serverPub)
	if err != nil {
		return err
	}

	conn, err := dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	response, err := channel.Exchange(conn, codec, channel.RoleRequester, nil)
	if err != nil {
		return fmt.Errorf("channel exchange: %w", err)
	}
	if len(response) != 1 {
		return fmt.Errorf("expected a 1-byte sum, got %d bytes", len(response))
	}

	logger.Info("Received sum", zap.Uint8("sum", response[0]))
	fmt.Printf("Sum of stored values: %d\n", response[0])
	return nil
}

func dial() (net.Conn, error) {
	if transport == enclave.ListenModeVsock {
		return enclave.DialVsock(vsockCID, vsockPort)
	}
	return net.Dial("tcp", serverAddr)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
