// The app binary runs inside the enclave. It binds its channel public
// key into attestation documents, serves the raw attestation endpoint,
// and answers sealed channel requests: the loader stores two values,
// the requester reads their sum.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"tee-channel/channel"
	"tee-channel/enclave"
	"tee-channel/shared"
)

func main() {
	shared.LoadEnvFile()

	logger, err := shared.NewLoggerFromEnv("app")
	if err != nil {
		os.Exit(1)
	}
	defer logger.Close()

	attesterMode := shared.GetEnvOrDefault("ATTESTER_MODE", enclave.AttesterModeSelfSigned)
	listenMode := shared.GetEnvOrDefault("LISTEN_MODE", enclave.ListenModeTCP)
	host := shared.GetEnvOrDefault("HOST", "0.0.0.0")
	channelPort := shared.GetEnvUint32OrDefault("CHANNEL_PORT", 7000)
	attestationPort := shared.GetEnvUint32OrDefault("ATTESTATION_PORT", 8080)

	if attesterMode == enclave.AttesterModeNitro {
		if err := enclave.InitializeNSM(); err != nil {
			logger.Fatal("Failed to initialize NSM", zap.Error(err))
		}
	}
	attester, err := enclave.NewAttester(attesterMode)
	if err != nil {
		logger.Fatal("Failed to create attester", zap.Error(err))
	}
	if selfSigned, ok := attester.(*enclave.SelfSignedAttester); ok {
		rootPath := shared.GetEnvOrDefault("TRUST_ROOT_OUT", "selfsigned_root.pem")
		if err := selfSigned.WriteRootPEM(rootPath); err != nil {
			logger.Fatal("Failed to write trust root", zap.Error(err))
		}
		logger.Info("Wrote self-signed trust root",
			zap.String("path", rootPath),
			zap.String("image_identity", selfSigned.ImageIdentity().String()))
	}

	serverKeys, err := loadOrGenerateKeys(logger)
	if err != nil {
		logger.Fatal("Failed to prepare server key pair", zap.Error(err))
	}

	loaderPub, err := channel.LoadPublicKeyFile(shared.GetEnvOrDefault("LOADER_PUBLIC_KEY_FILE", "loader.pub"))
	if err != nil {
		logger.Fatal("Failed to load loader public key", zap.Error(err))
	}
	requesterPub, err := channel.LoadPublicKeyFile(shared.GetEnvOrDefault("REQUESTER_PUBLIC_KEY_FILE", "requester.pub"))
	if err != nil {
		logger.Fatal("Failed to load requester public key", zap.Error(err))
	}

	srv, err := newServer(serverKeys, loaderPub, requesterPub, logger)
	if err != nil {
		logger.Fatal("Failed to build channel server", zap.Error(err))
	}

	attestationListener, err := enclave.Listen(listenMode, host, attestationPort)
	if err != nil {
		logger.Fatal("Failed to open attestation listener", zap.Error(err))
	}
	channelListener, err := enclave.Listen(listenMode, host, channelPort)
	if err != nil {
		logger.Fatal("Failed to open channel listener", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.HandleFunc(enclave.AttestationRawPath, enclave.AttestationHandler(attester, serverKeys.PublicBytes(), logger))
	httpServer := &http.Server{Handler: mux}

	attestationErrChan := make(chan error, 1)
	channelErrChan := make(chan error, 1)
	go func() {
		attestationErrChan <- httpServer.Serve(attestationListener)
	}()
	go func() {
		channelErrChan <- srv.serve(channelListener)
	}()

	logger.Info("App started",
		zap.String("attester_mode", attesterMode),
		zap.String("listen_mode", listenMode),
		zap.Uint32("attestation_port", attestationPort),
		zap.Uint32("channel_port", channelPort))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-attestationErrChan:
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("Attestation server failed", zap.Error(err))
		}
	case err := <-channelErrChan:
		if err != nil {
			logger.Fatal("Channel server failed", zap.Error(err))
		}
	case <-sigChan:
		logger.Info("Received shutdown signal, stopping app")
		httpServer.Close()
		channelListener.Close()
	}
}

// loadOrGenerateKeys loads the server key pair from its key files,
// generating and persisting a fresh pair on first start.
func loadOrGenerateKeys(logger *shared.Logger) (*channel.KeyPair, error) {
	privatePath := shared.GetEnvOrDefault("SERVER_PRIVATE_KEY_FILE", "server.key")
	publicPath := shared.GetEnvOrDefault("SERVER_PUBLIC_KEY_FILE", "server.pub")

	if _, err := os.Stat(privatePath); err == nil {
		keys, err := channel.LoadKeyPairFile(privatePath)
		if err != nil {
			return nil, err
		}
		logger.Info("Loaded server key pair", zap.String("path", privatePath))
		return keys, nil
	}

	keys, err := channel.Generate()
	if err != nil {
		return nil, err
	}
	if err := keys.WriteKeyPairFiles(privatePath, publicPath); err != nil {
		return nil, err
	}
	logger.Info("Generated server key pair",
		zap.String("private_path", privatePath),
		zap.String("public_path", publicPath))
	return keys, nil
}
