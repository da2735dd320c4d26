// The loader stores two values in the enclave app over the secure
// channel, addressed to the server's attestation-verified public key.
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"

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
	Use:   "loader <value-a> <value-b>",
	Short: "Store two values in the enclave over the secure channel",
	Long: `loader seals two byte values for the enclave server's verified public
key and sends them over the secure channel. The server's key file must
come from a successful verifier run, never from an unverified source.`,
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE:         runLoad,
}

func init() {
	rootCmd.Flags().StringVar(&serverAddr, "addr", "localhost:7000", "server channel address (tcp)")
	rootCmd.Flags().StringVar(&transport, "transport", enclave.ListenModeTCP, "channel transport: tcp or vsock")
	rootCmd.Flags().Uint32Var(&vsockCID, "vsock-cid", 16, "enclave context ID (vsock)")
	rootCmd.Flags().Uint32Var(&vsockPort, "vsock-port", 7000, "channel port (vsock)")
	rootCmd.Flags().StringVar(&privateKeyFile, "key", "loader.key", "loader private key file")
	rootCmd.Flags().StringVar(&serverKeyFile, "server-key", "server.pub", "verified server public key file")
}

func runLoad(cmd *cobra.Command, args []string) error {
	logger, err := shared.NewLoggerFromEnv("loader")
	if err != nil {
		return err
	}
	defer logger.Close()

	var values [2]byte
	for i, arg := range args {
		v, err := strconv.ParseUint(arg, 10, 8)
		if err != nil {
			return fmt.Errorf("value %q must be an integer in [0,255]", arg)
		}
		values[i] = byte(v)
	}

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

	echo, err := channel.Exchange(conn, codec, channel.RoleLoader, values[:])
	if err != nil {
		return fmt.Errorf("channel exchange: %w", err)
	}
	if len(echo) != 2 || echo[0] != values[0] || echo[1] != values[1] {
		return fmt.Errorf("server acknowledged %v, sent %v", echo, values[:])
	}

	logger.Info("Values stored",
		zap.Uint8("value_a", values[0]),
		zap.Uint8("value_b", values[1]))
	fmt.Printf("Stored values %d and %d\n", values[0], values[1])
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
