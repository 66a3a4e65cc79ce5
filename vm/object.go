package vm

import (
	"fmt"

	"github.com/chazu/ripley/pkg/bytecode"
)

// Value is the runtime value type shared with the bytecode package.
type Value = bytecode.Value

// ---------------------------------------------------------------------------
// Heap objects
// ---------------------------------------------------------------------------

// ObjType tags the concrete kind of a heap object.
type ObjType int

const (
	ObjString ObjType = iota
	ObjFunction
	ObjNative
	ObjClosure
	ObjUpvalue
	ObjClass
	ObjInstance
	ObjBoundMethod
)

var objTypeNames = map[ObjType]string{
	ObjString:      "string",
	ObjFunction:    "function",
	ObjNative:      "native",
	ObjClosure:     "closure",
	ObjUpvalue:     "upvalue",
	ObjClass:       "class",
	ObjInstance:    "instance",
	ObjBoundMethod: "bound method",
}

// String returns a human-readable name for ObjType.
func (t ObjType) String() string {
	if name, ok := objTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ObjType(%d)", int(t))
}

// objHeader is embedded in every heap object. It carries the collector's
// bookkeeping: the type tag, the mark bit, and the intrusive link that
// threads all live objects into the heap's single object list.
type objHeader struct {
	typ    ObjType
	marked bool
	next   Obj
}

func (h *objHeader) header() *objHeader { return h }

// Type returns the object's kind tag.
func (h *objHeader) Type() ObjType { return h.typ }

// Obj is implemented by every heap object. It extends the bytecode
// package's constant-pool interface with access to the collector header.
type Obj interface {
	bytecode.Obj
	Type() ObjType
	header() *objHeader
}

// ---------------------------------------------------------------------------
// String
// ---------------------------------------------------------------------------

// String is an immutable interned byte string with its FNV-1a-32 hash
// cached at construction. At most one String exists per distinct byte
// sequence (see Heap.CopyString), so equality is reference equality.
type String struct {
	objHeader
	Bytes string
	Hash  uint32
}

func (s *String) TypeName() string { return "string" }
func (s *String) String() string   { return s.Bytes }

// Len returns the stored byte length.
func (s *String) Len() int { return len(s.Bytes) }

// ---------------------------------------------------------------------------
// Function
// ---------------------------------------------------------------------------

// Function is a compiled unit: a chunk plus its arity and upvalue count.
// The top-level script is a Function with no name.
type Function struct {
	objHeader
	Arity    int
	Upvalues int
	Chunk    *bytecode.Chunk
	Name     *String // nil for the top-level script
}

func (f *Function) TypeName() string { return "function" }

func (f *Function) String() string {
	if f.Name == nil {
		return "<script>"
	}
	return fmt.Sprintf("<fn %s>", f.Name.Bytes)
}

// UpvalueCount satisfies the disassembler's probe for OpClosure operands.
func (f *Function) UpvalueCount() int { return f.Upvalues }

// ---------------------------------------------------------------------------
// Native
// ---------------------------------------------------------------------------

// NativeFn is a host-supplied function. args holds exactly argCount
// values; the callee slot is not included. Natives must not allocate heap
// objects except through the engine constructors that respect the rooting
// discipline.
type NativeFn func(argCount int, args []Value) Value

// Native wraps a host function for calls from bytecode.
type Native struct {
	objHeader
	Fn NativeFn
}

func (n *Native) TypeName() string { return "native" }
func (n *Native) String() string   { return "<native fn>" }

// ---------------------------------------------------------------------------
// Closure
// ---------------------------------------------------------------------------

// Closure pairs a Function with its captured upvalues. It is the only
// callable form of user code: a bare Function is wrapped the moment it is
// pushed by OpClosure.
type Closure struct {
	objHeader
	Function *Function
	Upvalues []*Upvalue
}

func (c *Closure) TypeName() string { return "closure" }
func (c *Closure) String() string   { return c.Function.String() }

// ---------------------------------------------------------------------------
// Upvalue
// ---------------------------------------------------------------------------

// Upvalue captures a variable from an enclosing function. While open it
// refers to a live stack slot; closing migrates the value into the object
// so it survives the frame. Open upvalues are linked through next into the
// VM's list, sorted by descending stack slot.
type Upvalue struct {
	objHeader
	location *Value // points at a stack slot while open, at closed after
	closed   Value
	slot     int // stack slot index while open, -1 once closed
	next     *Upvalue
}

func (u *Upvalue) TypeName() string { return "upvalue" }
func (u *Upvalue) String() string   { return "upvalue" }

// Get reads the captured variable.
func (u *Upvalue) Get() Value { return *u.location }

// Set writes the captured variable.
func (u *Upvalue) Set(v Value) { *u.location = v }

// IsOpen reports whether the upvalue still refers to a live stack slot.
func (u *Upvalue) IsOpen() bool { return u.slot >= 0 }

// close migrates the stack value into the upvalue.
func (u *Upvalue) close() {
	u.closed = *u.location
	u.location = &u.closed
	u.slot = -1
}

// ---------------------------------------------------------------------------
// Class, Instance, BoundMethod
// ---------------------------------------------------------------------------

// Class is a named method table. Inheritance copies the superclass's
// methods into the subclass at OpInherit time, so lookup never walks a
// superclass chain.
type Class struct {
	objHeader
	Name    *String
	Methods Table
}

func (c *Class) TypeName() string { return "class" }
func (c *Class) String() string   { return c.Name.Bytes }

// Instance is a class instance with its own field table.
type Instance struct {
	objHeader
	Class  *Class
	Fields Table
}

func (i *Instance) TypeName() string { return "instance" }
func (i *Instance) String() string   { return i.Class.Name.Bytes + " instance" }

// BoundMethod pairs a receiver with a method closure. It is created lazily
// when a method is read as a property rather than invoked directly.
type BoundMethod struct {
	objHeader
	Receiver Value
	Method   *Closure
}

func (b *BoundMethod) TypeName() string { return "bound method" }
func (b *BoundMethod) String() string   { return b.Method.Function.String() }
