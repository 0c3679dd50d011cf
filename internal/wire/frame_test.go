package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestHeaderSize(t *testing.T) {
	if HeaderSize != 9 {
		t.Fatalf("HeaderSize = %d, want 9", HeaderSize)
	}
}

func TestEncodeDecodeHeader(t *testing.T) {
	b := EncodeHeader(KindExec, 0x0102030405060708)
	want := []byte{0x01, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	if !bytes.Equal(b, want) {
		t.Fatalf("EncodeHeader = % x, want % x", b, want)
	}

	h, err := DecodeHeader(b)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if h.Kind != KindExec || h.Length != 0x0102030405060708 {
		t.Errorf("DecodeHeader = %+v", h)
	}
}

func TestDecodeHeaderTruncated(t *testing.T) {
	if _, err := DecodeHeader([]byte{0x01, 0x00}); !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestWriteReadFrame(t *testing.T) {
	original := Frame{Kind: KindRun, Payload: []byte("payload bytes")}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, original); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if buf.Len() != HeaderSize+len(original.Payload) {
		t.Fatalf("encoded length = %d, want %d", buf.Len(), HeaderSize+len(original.Payload))
	}

	decoded, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if decoded.Kind != original.Kind {
		t.Errorf("Kind = %v, want %v", decoded.Kind, original.Kind)
	}
	if !bytes.Equal(decoded.Payload, original.Payload) {
		t.Errorf("Payload = %q, want %q", decoded.Payload, original.Payload)
	}
}

func TestWriteReadEmptyFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, Frame{Kind: KindPong}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	f, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Kind != KindPong || len(f.Payload) != 0 {
		t.Errorf("frame = %+v, want empty pong", f)
	}
}

func TestReadFrameCleanEOF(t *testing.T) {
	if _, err := ReadFrame(bytes.NewReader(nil), DefaultLimits()); err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestReadFrameTruncatedHeader(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0x01, 0x00, 0x00}), DefaultLimits())
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	// Header declares 5 bytes, only 3 follow.
	var buf bytes.Buffer
	buf.Write(EncodeHeader(KindExec, 5))
	buf.Write([]byte{0x01, 0x02, 0x03})

	_, err := ReadFrame(&buf, DefaultLimits())
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

// countingReader fails the test if more than max bytes are requested at once,
// which would indicate a buffer sized from an untrusted length.
type countingReader struct {
	t   *testing.T
	r   io.Reader
	max int
}

func (c *countingReader) Read(p []byte) (int, error) {
	if len(p) > c.max {
		c.t.Fatalf("read buffer of %d bytes exceeds %d", len(p), c.max)
	}
	return c.r.Read(p)
}

func TestReadFrameTooLarge(t *testing.T) {
	limits := Limits{MaxPayload: 1024}
	tests := []uint64{1025, 1 << 40, ^uint64(0)}
	for _, length := range tests {
		r := &countingReader{t: t, r: bytes.NewReader(EncodeHeader(KindExec, length)), max: HeaderSize}
		_, err := ReadFrame(r, limits)
		if !errors.Is(err, ErrTooLarge) {
			t.Errorf("length %d: err = %v, want ErrTooLarge", length, err)
		}
	}
}

func TestReadFrameAtLimit(t *testing.T) {
	limits := Limits{MaxPayload: 4}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, Frame{Kind: KindExec, Payload: []byte("abcd")}); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFrame(&buf, limits); err != nil {
		t.Fatalf("ReadFrame at limit: %v", err)
	}
}

// oneByteReader returns at most one byte per call, exercising partial reads.
type oneByteReader struct {
	r io.Reader
}

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

func TestReadFramePartialReads(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, Frame{Kind: KindPing, Payload: []byte("slow")}); err != nil {
		t.Fatal(err)
	}

	f, err := ReadFrame(oneByteReader{&buf}, DefaultLimits())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(f.Payload) != "slow" {
		t.Errorf("Payload = %q, want %q", f.Payload, "slow")
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindExec, "exec"},
		{KindRun, "run"},
		{KindPing, "ping"},
		{KindResult, "result"},
		{KindOutput, "output"},
		{KindPong, "pong"},
		{KindError, "error"},
		{Kind(0x42), "kind(0x42)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
