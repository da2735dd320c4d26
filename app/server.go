package main

import (
	"crypto/ecdh"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tee-channel/channel"
	"tee-channel/shared"
)

const connDeadline = 30 * time.Second

// valueStore is the application state: two stored bytes and their sum.
// Guarded by its own mutex; the crypto layer shares nothing mutable
// across connections.
type valueStore struct {
	mu     sync.Mutex
	values [2]byte
}

func (s *valueStore) store(a, b byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[0], s.values[1] = a, b
}

func (s *valueStore) load() (byte, byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[0], s.values[1]
}

func (s *valueStore) sum() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[0] + s.values[1]
}

// server owns the channel side of the app: one codec per configured
// client role, both bound to the server's static key pair. Codecs are
// immutable and safe across connections.
type server struct {
	logger         *shared.Logger
	loaderCodec    *channel.Codec
	requesterCodec *channel.Codec
	store          valueStore
}

func newServer(keys *channel.KeyPair, loaderPub, requesterPub *ecdh.PublicKey, logger *shared.Logger) (*server, error) {
	loaderCodec, err := channel.NewCodec(keys, loaderPub)
	if err != nil {
		return nil, fmt.Errorf("loader codec: %w", err)
	}
	requesterCodec, err := channel.NewCodec(keys, requesterPub)
	if err != nil {
		return nil, fmt.Errorf("requester codec: %w", err)
	}
	return &server{
		logger:         logger,
		loaderCodec:    loaderCodec,
		requesterCodec: requesterCodec,
	}, nil
}

// serve accepts channel connections until the listener closes. Each
// connection carries exactly one request/response exchange.
func (s *server) serve(listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept channel connection: %w", err)
		}
		go s.handleConn(conn)
	}
}

func (s *server) handleConn(conn net.Conn) {
	defer conn.Close()
	connID := uuid.NewString()
	log := s.logger.WithConnection(connID, conn.RemoteAddr().String())

	conn.SetDeadline(time.Now().Add(connDeadline))

	role, frame, err := channel.ReadRequest(conn)
	if err != nil {
		s.logger.Security("Rejected malformed channel request",
			zap.String("conn_id", connID),
			zap.Error(err))
		return
	}

	codec := s.codecFor(role)
	plaintext, err := codec.Open(frame)
	if err != nil {
		// No response: an unauthenticated frame gets no oracle.
		s.logger.Security("Frame authentication failed",
			zap.String("conn_id", connID),
			zap.String("claimed_role", role.String()))
		return
	}

	payload, err := s.handleRequest(role, plaintext)
	if err != nil {
		log.Warn("Rejected channel request", zap.String("claimed_role", role.String()), zap.Error(err))
		return
	}

	response, err := codec.Seal(payload)
	if err != nil {
		log.Error("Failed to seal response", zap.Error(err))
		return
	}
	if err := channel.WriteFrame(conn, response); err != nil {
		log.Warn("Failed to write response", zap.Error(err))
		return
	}
	log.Info("Completed exchange", zap.String("peer_role", role.String()))
}

func (s *server) codecFor(role channel.Role) *channel.Codec {
	if role == channel.RoleLoader {
		return s.loaderCodec
	}
	return s.requesterCodec
}

// handleRequest applies the role's operation to the store. Loader
// requests carry the two value bytes and are answered with an echo of
// what was stored; requester requests are empty and answered with the
// one-byte sum.
func (s *server) handleRequest(role channel.Role, plaintext []byte) ([]byte, error) {
	switch role {
	case channel.RoleLoader:
		if len(plaintext) != 2 {
			return nil, fmt.Errorf("loader payload must be 2 bytes, got %d", len(plaintext))
		}
		s.store.store(plaintext[0], plaintext[1])
		a, b := s.store.load()
		return []byte{a, b}, nil
	case channel.RoleRequester:
		if len(plaintext) != 0 {
			return nil, fmt.Errorf("requester payload must be empty, got %d bytes", len(plaintext))
		}
		return []byte{s.store.sum()}, nil
	default:
		return nil, fmt.Errorf("no operation for role %s", role)
	}
}
