package bytecode

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Wire format: canonical CBOR envelope for compiled functions
// ---------------------------------------------------------------------------

// WireVersion is the current wire format version.
// Increment when making incompatible changes to the format.
const WireVersion uint16 = 1

// WireMagic identifies serialized Ripley bytecode ("RPLC").
const WireMagic = "RPLC"

// cborEncMode uses canonical options for deterministic encoding, so equal
// compiles produce byte-identical cache blobs.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Constant kinds used in the wire form. Live Value constants are only ever
// numbers, strings, or nested functions; nil/bool literals have dedicated
// opcodes and never reach the pool.
const (
	WireConstNumber   = "num"
	WireConstString   = "str"
	WireConstFunction = "fn"
)

// WireConstant is the serialized form of one constant pool entry.
type WireConstant struct {
	Kind     string        `cbor:"k"`
	Number   float64       `cbor:"n,omitempty"`
	Str      string        `cbor:"s,omitempty"`
	Function *WireFunction `cbor:"f,omitempty"`
}

// WireFunction is the serialized form of a compiled function and,
// recursively, every function in its constant pool.
type WireFunction struct {
	Name         string         `cbor:"name,omitempty"`
	Arity        int            `cbor:"arity"`
	UpvalueCount int            `cbor:"upvals"`
	Code         []byte         `cbor:"code"`
	Lines        []int          `cbor:"lines"`
	Constants    []WireConstant `cbor:"consts"`
}

// WireEnvelope wraps a serialized top-level script.
type WireEnvelope struct {
	Magic   string        `cbor:"magic"`
	Version uint16        `cbor:"v"`
	Script  *WireFunction `cbor:"script"`
}

// MarshalScript serializes a wire-form script to CBOR bytes.
func MarshalScript(fn *WireFunction) ([]byte, error) {
	env := WireEnvelope{Magic: WireMagic, Version: WireVersion, Script: fn}
	data, err := cborEncMode.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("bytecode: marshal script: %w", err)
	}
	return data, nil
}

// UnmarshalScript deserializes a wire-form script from CBOR bytes,
// validating the envelope.
func UnmarshalScript(data []byte) (*WireFunction, error) {
	var env WireEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal script: %w", err)
	}
	if env.Magic != WireMagic {
		return nil, fmt.Errorf("bytecode: invalid magic %q, want %q", env.Magic, WireMagic)
	}
	if env.Version > WireVersion {
		return nil, fmt.Errorf("bytecode: wire version %d is newer than supported version %d", env.Version, WireVersion)
	}
	if env.Script == nil {
		return nil, fmt.Errorf("bytecode: envelope has no script")
	}
	if err := validateWireFunction(env.Script); err != nil {
		return nil, err
	}
	return env.Script, nil
}

// validateWireFunction checks structural invariants before the vm rebuilds
// heap objects from the wire form.
func validateWireFunction(fn *WireFunction) error {
	if len(fn.Code) != len(fn.Lines) {
		return fmt.Errorf("bytecode: function %q: code length %d != line map length %d",
			fn.Name, len(fn.Code), len(fn.Lines))
	}
	if len(fn.Constants) > MaxConstants {
		return fmt.Errorf("bytecode: function %q: %d constants exceeds limit %d",
			fn.Name, len(fn.Constants), MaxConstants)
	}
	for i, c := range fn.Constants {
		switch c.Kind {
		case WireConstNumber, WireConstString:
		case WireConstFunction:
			if c.Function == nil {
				return fmt.Errorf("bytecode: function %q: constant %d is a function with no body", fn.Name, i)
			}
			if err := validateWireFunction(c.Function); err != nil {
				return err
			}
		default:
			return fmt.Errorf("bytecode: function %q: constant %d has unknown kind %q", fn.Name, i, c.Kind)
		}
	}
	return nil
}
