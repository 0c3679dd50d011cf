// Package wire implements the raw guest-host RPC framing used over vsock.
//
// A frame is a fixed header (1-byte kind, 8-byte big-endian payload length)
// followed by exactly that many payload bytes. Payloads are a versioned TLV
// record; see payload.go.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxPayload is the default upper bound on an accepted payload (16 MiB).
const DefaultMaxPayload = 16 << 20

// Kind tags the request or response carried by a frame.
type Kind uint8

// Request kinds (host → guest).
const (
	KindExec Kind = 0x01
	KindRun  Kind = 0x02
	KindPing Kind = 0x03
)

// Response kinds (guest → host).
const (
	KindResult Kind = 0x81
	KindOutput Kind = 0x82
	KindPong   Kind = 0x83
	KindError  Kind = 0xFF
)

func (k Kind) String() string {
	switch k {
	case KindExec:
		return "exec"
	case KindRun:
		return "run"
	case KindPing:
		return "ping"
	case KindResult:
		return "result"
	case KindOutput:
		return "output"
	case KindPong:
		return "pong"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(0x%02x)", uint8(k))
	}
}

var (
	ErrTruncated = errors.New("wire: truncated frame")
	ErrMalformed = errors.New("wire: malformed payload")
	ErrTooLarge  = errors.New("wire: payload too large")
)

// Header is the fixed frame header.
type Header struct {
	Kind   Kind
	Length uint64
}

// HeaderSize is the encoded size of Header, derived from its field widths.
var HeaderSize = binary.Size(Header{})

// Frame is one complete wire message.
type Frame struct {
	Kind    Kind
	Payload []byte
}

// Limits constrains how much a reader commits to buffering.
type Limits struct {
	MaxPayload uint64
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxPayload: DefaultMaxPayload}
}

// EncodeHeader returns the HeaderSize-byte encoding of kind and length.
func EncodeHeader(kind Kind, length uint64) []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = byte(kind)
	binary.BigEndian.PutUint64(buf[1:], length)
	return buf
}

// DecodeHeader parses a header from the first HeaderSize bytes of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header has %d of %d bytes", ErrTruncated, len(b), HeaderSize)
	}
	return Header{
		Kind:   Kind(b[0]),
		Length: binary.BigEndian.Uint64(b[1:HeaderSize]),
	}, nil
}

// ReadFrame reads exactly one frame from r. It returns io.EOF if r is closed
// before any header byte arrives, ErrTruncated if the stream ends inside the
// header or payload, and ErrTooLarge if the declared length exceeds limits.
// The payload buffer is only allocated after the length has been checked.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	hb := make([]byte, HeaderSize)
	if n, err := io.ReadFull(r, hb); err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return Frame{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("%w: header has %d of %d bytes", ErrTruncated, n, HeaderSize)
		}
		return Frame{}, fmt.Errorf("read header: %w", err)
	}

	h, err := DecodeHeader(hb)
	if err != nil {
		return Frame{}, err
	}
	if h.Length > limits.MaxPayload {
		return Frame{}, fmt.Errorf("%w: %d bytes exceeds maximum %d", ErrTooLarge, h.Length, limits.MaxPayload)
	}

	payload := make([]byte, h.Length)
	if n, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("%w: payload has %d of %d bytes", ErrTruncated, n, h.Length)
		}
		return Frame{}, fmt.Errorf("read payload: %w", err)
	}

	return Frame{Kind: h.Kind, Payload: payload}, nil
}

// WriteFrame writes f to w as a header followed by its payload.
func WriteFrame(w io.Writer, f Frame) error {
	if _, err := w.Write(EncodeHeader(f.Kind, uint64(len(f.Payload)))); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if len(f.Payload) == 0 {
		return nil
	}
	if _, err := w.Write(f.Payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}
