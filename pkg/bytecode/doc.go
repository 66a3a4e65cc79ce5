// Package bytecode defines the compiled form of Ripley programs: tagged
// runtime values, the opcode set, and the Chunk container that pairs code
// bytes with a constant pool and a source-line map.
//
// The bytecode format is designed for:
//   - Compact representation (most instructions are 1-3 bytes)
//   - Fast decoding (single-byte opcodes, fixed operand widths per opcode)
//   - Easy serialization (chunks round-trip through a canonical CBOR
//     envelope, see wire.go, for the on-disk compile cache)
//
// Heap objects (strings, functions, classes, ...) live in the vm package
// and appear here only behind the Obj interface, so that chunk constants
// can reference them without this package depending on the interpreter.
package bytecode
