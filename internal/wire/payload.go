package wire

import (
	"encoding/binary"
	"fmt"
	"slices"
	"strings"
)

// PayloadVersion is the first byte of every payload. Decoders reject any
// other value so future payload shapes can be introduced without ambiguity.
const PayloadVersion uint8 = 1

// fieldHeaderLen is id(2) + type(1) + length(4).
const fieldHeaderLen = 7

// Field value types.
const (
	typeString uint8 = 6
	typeBytes  uint8 = 7
	typeI32    uint8 = 8
)

// Field ids shared by request payloads.
const (
	fieldTraceParent uint16 = 14
	fieldTraceState  uint16 = 15
)

// Exec payload field ids.
const (
	fieldExecCommand uint16 = 1
	fieldExecEnv     uint16 = 2
	fieldExecData    uint16 = 3
)

// Run payload field ids.
const (
	fieldRunCode   uint16 = 1
	fieldRunConfig uint16 = 2
)

// Result payload field ids.
const (
	fieldResultExitCode   uint16 = 1
	fieldResultExitSignal uint16 = 2
	fieldResultStdout     uint16 = 3
	fieldResultStderr     uint16 = 4
)

// Error payload field ids.
const (
	fieldErrorCode    uint16 = 1
	fieldErrorMessage uint16 = 2
)

// ExecPayload asks the agent to run Command with Env. Data, when set, is
// exposed to the child under the agent's reserved data variable.
type ExecPayload struct {
	Command     []string
	Env         map[string]string
	Data        *string
	TraceParent string
	TraceState  string
}

// RunPayload asks the agent to run Code with its configured runtime.
type RunPayload struct {
	Code        string
	Config      *string
	TraceParent string
	TraceState  string
}

// ResultPayload carries the outcome of a finished process.
type ResultPayload struct {
	ExitCode   *int32
	ExitSignal *int32
	Stdout     []byte
	Stderr     []byte
}

// ErrorPayload reports a request that produced no process outcome.
type ErrorPayload struct {
	Code    string
	Message string
}

// Error codes carried in ErrorPayload.Code.
const (
	CodeMalformed      = "malformed"
	CodeTooLarge       = "too_large"
	CodeTruncated      = "truncated"
	CodeInvalidRequest = "invalid_request"
	CodeSpawnFailed    = "spawn_failed"
	CodeIOFailure      = "io_failure"
	CodeInternal       = "internal"
)

// Encode returns the canonical encoding of p. Env entries are sorted by name.
func (p ExecPayload) Encode() []byte {
	e := newEncoder()
	for _, arg := range p.Command {
		e.str(fieldExecCommand, arg)
	}
	keys := make([]string, 0, len(p.Env))
	for k := range p.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		e.str(fieldExecEnv, k+"="+p.Env[k])
	}
	if p.Data != nil {
		e.str(fieldExecData, *p.Data)
	}
	e.trace(p.TraceParent, p.TraceState)
	return e.buf
}

// DecodeExecPayload parses an exec payload. The command must be non-empty.
func DecodeExecPayload(b []byte) (ExecPayload, error) {
	fields, err := decodeFields(b)
	if err != nil {
		return ExecPayload{}, err
	}

	var p ExecPayload
	seen := make(map[uint16]bool)
	for _, f := range fields {
		if err := f.expect(stringTyped(f.id, fieldExecCommand, fieldExecEnv, fieldExecData, fieldTraceParent, fieldTraceState)); err != nil {
			return ExecPayload{}, err
		}
		switch f.id {
		case fieldExecCommand:
			p.Command = append(p.Command, string(f.value))
		case fieldExecEnv:
			k, v, ok := strings.Cut(string(f.value), "=")
			if !ok || k == "" {
				return ExecPayload{}, fmt.Errorf("%w: env entry without name", ErrMalformed)
			}
			if p.Env == nil {
				p.Env = make(map[string]string)
			}
			if _, dup := p.Env[k]; dup {
				return ExecPayload{}, fmt.Errorf("%w: duplicate env entry %q", ErrMalformed, k)
			}
			p.Env[k] = v
		default:
			if seen[f.id] {
				return ExecPayload{}, fmt.Errorf("%w: duplicate field %d", ErrMalformed, f.id)
			}
			seen[f.id] = true
			s := string(f.value)
			switch f.id {
			case fieldExecData:
				p.Data = &s
			case fieldTraceParent:
				p.TraceParent = s
			case fieldTraceState:
				p.TraceState = s
			}
		}
	}
	if len(p.Command) == 0 {
		return ExecPayload{}, fmt.Errorf("%w: empty command", ErrMalformed)
	}
	return p, nil
}

// Encode returns the canonical encoding of p.
func (p RunPayload) Encode() []byte {
	e := newEncoder()
	e.str(fieldRunCode, p.Code)
	if p.Config != nil {
		e.str(fieldRunConfig, *p.Config)
	}
	e.trace(p.TraceParent, p.TraceState)
	return e.buf
}

// DecodeRunPayload parses a run payload. The code field is required.
func DecodeRunPayload(b []byte) (RunPayload, error) {
	fields, err := decodeFields(b)
	if err != nil {
		return RunPayload{}, err
	}

	var p RunPayload
	seen := make(map[uint16]bool)
	for _, f := range fields {
		if err := f.expect(stringTyped(f.id, fieldRunCode, fieldRunConfig, fieldTraceParent, fieldTraceState)); err != nil {
			return RunPayload{}, err
		}
		if seen[f.id] {
			return RunPayload{}, fmt.Errorf("%w: duplicate field %d", ErrMalformed, f.id)
		}
		seen[f.id] = true
		s := string(f.value)
		switch f.id {
		case fieldRunCode:
			p.Code = s
		case fieldRunConfig:
			p.Config = &s
		case fieldTraceParent:
			p.TraceParent = s
		case fieldTraceState:
			p.TraceState = s
		}
	}
	if !seen[fieldRunCode] {
		return RunPayload{}, fmt.Errorf("%w: missing code", ErrMalformed)
	}
	return p, nil
}

// Encode returns the canonical encoding of p.
func (p ResultPayload) Encode() []byte {
	e := newEncoder()
	if p.ExitCode != nil {
		e.i32(fieldResultExitCode, *p.ExitCode)
	}
	if p.ExitSignal != nil {
		e.i32(fieldResultExitSignal, *p.ExitSignal)
	}
	e.field(fieldResultStdout, typeBytes, p.Stdout)
	e.field(fieldResultStderr, typeBytes, p.Stderr)
	return e.buf
}

// DecodeResultPayload parses a result payload.
func DecodeResultPayload(b []byte) (ResultPayload, error) {
	fields, err := decodeFields(b)
	if err != nil {
		return ResultPayload{}, err
	}

	var p ResultPayload
	seen := make(map[uint16]bool)
	for _, f := range fields {
		if seen[f.id] {
			return ResultPayload{}, fmt.Errorf("%w: duplicate field %d", ErrMalformed, f.id)
		}
		seen[f.id] = true
		switch f.id {
		case fieldResultExitCode, fieldResultExitSignal:
			if err := f.expect(typeI32); err != nil {
				return ResultPayload{}, err
			}
			if len(f.value) != 4 {
				return ResultPayload{}, fmt.Errorf("%w: field %d has %d bytes, want 4", ErrMalformed, f.id, len(f.value))
			}
			v := int32(binary.BigEndian.Uint32(f.value))
			if f.id == fieldResultExitCode {
				p.ExitCode = &v
			} else {
				p.ExitSignal = &v
			}
		case fieldResultStdout, fieldResultStderr:
			if err := f.expect(typeBytes); err != nil {
				return ResultPayload{}, err
			}
			if f.id == fieldResultStdout {
				p.Stdout = f.value
			} else {
				p.Stderr = f.value
			}
		default:
			return ResultPayload{}, fmt.Errorf("%w: unknown field %d", ErrMalformed, f.id)
		}
	}
	return p, nil
}

// Encode returns the canonical encoding of p.
func (p ErrorPayload) Encode() []byte {
	e := newEncoder()
	e.str(fieldErrorCode, p.Code)
	e.str(fieldErrorMessage, p.Message)
	return e.buf
}

// DecodeErrorPayload parses an error payload. The code field is required.
func DecodeErrorPayload(b []byte) (ErrorPayload, error) {
	fields, err := decodeFields(b)
	if err != nil {
		return ErrorPayload{}, err
	}

	var p ErrorPayload
	seen := make(map[uint16]bool)
	for _, f := range fields {
		if err := f.expect(stringTyped(f.id, fieldErrorCode, fieldErrorMessage)); err != nil {
			return ErrorPayload{}, err
		}
		if seen[f.id] {
			return ErrorPayload{}, fmt.Errorf("%w: duplicate field %d", ErrMalformed, f.id)
		}
		seen[f.id] = true
		if f.id == fieldErrorCode {
			p.Code = string(f.value)
		} else {
			p.Message = string(f.value)
		}
	}
	if !seen[fieldErrorCode] {
		return ErrorPayload{}, fmt.Errorf("%w: missing error code", ErrMalformed)
	}
	return p, nil
}

type field struct {
	id    uint16
	typ   uint8
	value []byte
}

// expect checks the field's type. A zero want means the id is not allowed.
func (f field) expect(want uint8) error {
	if want == 0 {
		return fmt.Errorf("%w: unknown field %d", ErrMalformed, f.id)
	}
	if f.typ != want {
		return fmt.Errorf("%w: field %d has type %d, want %d", ErrMalformed, f.id, f.typ, want)
	}
	return nil
}

// stringTyped returns typeString if id is one of allowed, else 0.
func stringTyped(id uint16, allowed ...uint16) uint8 {
	if slices.Contains(allowed, id) {
		return typeString
	}
	return 0
}

// decodeFields checks the version byte and splits the rest into fields.
func decodeFields(b []byte) ([]field, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	if b[0] != PayloadVersion {
		return nil, fmt.Errorf("%w: unsupported payload version %d", ErrMalformed, b[0])
	}

	var fields []field
	rest := b[1:]
	for len(rest) > 0 {
		if len(rest) < fieldHeaderLen {
			return nil, fmt.Errorf("%w: short field header", ErrMalformed)
		}
		id := binary.BigEndian.Uint16(rest[0:2])
		typ := rest[2]
		n := binary.BigEndian.Uint32(rest[3:7])
		rest = rest[fieldHeaderLen:]
		if uint64(n) > uint64(len(rest)) {
			return nil, fmt.Errorf("%w: field %d claims %d bytes, %d remain", ErrMalformed, id, n, len(rest))
		}
		fields = append(fields, field{id: id, typ: typ, value: rest[:n:n]})
		rest = rest[n:]
	}
	return fields, nil
}

type encoder struct {
	buf []byte
}

func newEncoder() *encoder {
	return &encoder{buf: []byte{PayloadVersion}}
}

func (e *encoder) field(id uint16, typ uint8, v []byte) {
	var h [fieldHeaderLen]byte
	binary.BigEndian.PutUint16(h[0:2], id)
	h[2] = typ
	binary.BigEndian.PutUint32(h[3:7], uint32(len(v)))
	e.buf = append(e.buf, h[:]...)
	e.buf = append(e.buf, v...)
}

func (e *encoder) str(id uint16, s string) {
	e.field(id, typeString, []byte(s))
}

func (e *encoder) i32(id uint16, v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	e.field(id, typeI32, b[:])
}

func (e *encoder) trace(parent, state string) {
	if parent != "" {
		e.str(fieldTraceParent, parent)
	}
	if state != "" {
		e.str(fieldTraceState, state)
	}
}
