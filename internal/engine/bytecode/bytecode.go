// Package bytecode serializes compiled script units so they can be cached by
// the host and evaluated later without going through the source path again.
//
// goja programs cannot be serialized directly, so a unit carries the source
// that produced a successful compile together with a format version, an
// engine tag and a BLAKE2b digest. Nothing is compiled or run until every
// one of those checks has passed.
//
// Layout:
//
//	"GJBC" | u16 version | u8 tag length | tag | 32-byte digest | zstd(JSON unit)
package bytecode

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/engine"
)

const (
	Magic         = "GJBC"
	FormatVersion = uint16(1)
	EngineTag     = "goja/1"

	// MaxUnitSize bounds the decompressed unit to keep hostile input from
	// exhausting memory
	MaxUnitSize = 64 << 20
)

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxUnitSize))
)

// Digest identifies the payload of an encoded unit
type Digest [blake2b.Size256]byte

// String returns the hex form of the digest
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Unit is a compiled script in its portable form
type Unit struct {
	Filename  string `json:"filename"`
	StartLine int    `json:"start_line"`
	Source    string `json:"source"`
}

// Encode serializes a unit into its byte form
func Encode(unit Unit) ([]byte, error) {
	raw, err := sonic.Marshal(unit)
	if err != nil {
		return nil, fmt.Errorf("failed to encode unit: %w", err)
	}
	payload := encoder.EncodeAll(raw, nil)
	digest := blake2b.Sum256(payload)

	var buf bytes.Buffer
	buf.Grow(headerSize() + len(payload))
	buf.WriteString(Magic)
	_ = binary.Write(&buf, binary.BigEndian, FormatVersion)
	buf.WriteByte(byte(len(EngineTag)))
	buf.WriteString(EngineTag)
	buf.Write(digest[:])
	buf.Write(payload)

	return buf.Bytes(), nil
}

// Decode validates data and returns the unit it carries. Every failure
// wraps engine.ErrMalformedBytecode.
func Decode(data []byte) (*Unit, Digest, error) {
	var digest Digest

	if len(data) < headerSize() {
		return nil, digest, malformed("truncated header (%d bytes)", len(data))
	}
	if string(data[:len(Magic)]) != Magic {
		return nil, digest, malformed("bad magic %q", data[:len(Magic)])
	}
	offset := len(Magic)

	version := binary.BigEndian.Uint16(data[offset:])
	if version != FormatVersion {
		return nil, digest, malformed("unsupported format version %d", version)
	}
	offset += 2

	tagLen := int(data[offset])
	offset++
	if len(data) < offset+tagLen+len(digest) {
		return nil, digest, malformed("truncated engine tag")
	}
	if tag := string(data[offset : offset+tagLen]); tag != EngineTag {
		return nil, digest, malformed("produced by incompatible engine %q", tag)
	}
	offset += tagLen

	copy(digest[:], data[offset:offset+len(digest)])
	offset += len(digest)

	payload := data[offset:]
	if blake2b.Sum256(payload) != digest {
		return nil, digest, malformed("digest mismatch")
	}

	raw, err := decoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, digest, malformed("corrupt payload: %v", err)
	}
	if len(raw) > MaxUnitSize {
		return nil, digest, malformed("unit exceeds %d bytes", MaxUnitSize)
	}

	var unit Unit
	if err := sonic.Unmarshal(raw, &unit); err != nil {
		return nil, digest, malformed("invalid unit: %v", err)
	}

	return &unit, digest, nil
}

// Compile turns a decoded unit into a runnable program
func Compile(unit *Unit) (*goja.Program, error) {
	program, err := engine.Compile(unit.Source, unit.Filename, unit.StartLine)
	if err != nil {
		return nil, malformed("unit does not compile: %v", err)
	}
	return program, nil
}

// headerSize is the fixed prefix length for the current engine tag
func headerSize() int {
	return len(Magic) + 2 + 1 + len(EngineTag) + blake2b.Size256
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", engine.ErrMalformedBytecode, fmt.Sprintf(format, args...))
}
