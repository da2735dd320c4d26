package channel

import (
	"fmt"
	"io"
)

// Role names a channel party. The server never claims a role on the
// wire; requests open with the claimed client role so the server knows
// which configured public key to authenticate against. The claim is not
// trusted: a lying sender fails authentication because the associated
// data bound into the frame is the real sender's public key.
type Role byte

const (
	RoleServer    Role = 0x00
	RoleLoader    Role = 0x01
	RoleRequester Role = 0x02
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleLoader:
		return "loader"
	case RoleRequester:
		return "requester"
	default:
		return fmt.Sprintf("role(%#02x)", byte(r))
	}
}

// ValidClient reports whether the role may open a request on the wire.
func (r Role) ValidClient() bool {
	return r == RoleLoader || r == RoleRequester
}

// WriteRequest writes the sender's role byte followed by the sealed
// request frame, as a single write.
func WriteRequest(w io.Writer, role Role, frame *SealedFrame) error {
	if !role.ValidClient() {
		return fmt.Errorf("%w: role %s cannot send requests", ErrBadFrame, role)
	}
	encoded, err := frame.encode()
	if err != nil {
		return err
	}
	buf := make([]byte, 0, 1+len(encoded))
	buf = append(buf, byte(role))
	buf = append(buf, encoded...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

// ReadRequest reads the claimed role byte and the request frame.
func ReadRequest(r io.Reader) (Role, *SealedFrame, error) {
	var roleByte [1]byte
	if _, err := io.ReadFull(r, roleByte[:]); err != nil {
		return 0, nil, fmt.Errorf("read role byte: %w", err)
	}
	role := Role(roleByte[0])
	if !role.ValidClient() {
		return role, nil, fmt.Errorf("%w: unknown client role %#02x", ErrBadFrame, roleByte[0])
	}
	frame, err := ReadFrame(r)
	if err != nil {
		return role, nil, err
	}
	return role, frame, nil
}

// Exchange performs one request/response round trip as the given role:
// seal the payload for the remote party, send it, read the sealed
// response and open it. Any authentication failure is fatal for the
// exchange; the caller should close the connection.
func Exchange(rw io.ReadWriter, codec *Codec, role Role, payload []byte) ([]byte, error) {
	frame, err := codec.Seal(payload)
	if err != nil {
		return nil, fmt.Errorf("seal request: %w", err)
	}
	if err := WriteRequest(rw, role, frame); err != nil {
		return nil, err
	}
	response, err := ReadFrame(rw)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	plaintext, err := codec.Open(response)
	if err != nil {
		return nil, fmt.Errorf("open response: %w", err)
	}
	return plaintext, nil
}
