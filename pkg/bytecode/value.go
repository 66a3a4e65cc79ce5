package bytecode

import (
	"fmt"
	"strconv"
)

// ---------------------------------------------------------------------------
// Value: the tagged runtime value
// ---------------------------------------------------------------------------

// ValueType discriminates the variants of a Value.
type ValueType int

const (
	ValNil    ValueType = iota // nil
	ValBool                    // true, false
	ValNumber                  // IEEE-754 double
	ValObj                     // reference to a heap object
)

// Obj is implemented by every heap object managed by the vm package's
// collector. Values hold objects behind this interface; identity (not
// content) is what a Value reference means.
type Obj interface {
	// TypeName returns a short name for the object's kind ("string",
	// "function", ...), used by the disassembler and trace output.
	TypeName() string

	// String renders the object the way the print statement would.
	String() string
}

// Value is a Ripley runtime value: nil, a boolean, a number, or a
// reference to a heap object.
type Value struct {
	typ     ValueType
	boolean bool
	number  float64
	obj     Obj
}

// Constructors

// NilValue returns the nil value.
func NilValue() Value {
	return Value{typ: ValNil}
}

// BoolValue returns a boolean value.
func BoolValue(b bool) Value {
	return Value{typ: ValBool, boolean: b}
}

// NumberValue returns a number value.
func NumberValue(f float64) Value {
	return Value{typ: ValNumber, number: f}
}

// ObjValue returns a value referencing a heap object.
func ObjValue(o Obj) Value {
	return Value{typ: ValObj, obj: o}
}

// Type checking

// Type returns the value's variant tag.
func (v Value) Type() ValueType {
	return v.typ
}

// IsNil returns true if v is nil.
func (v Value) IsNil() bool {
	return v.typ == ValNil
}

// IsBool returns true if v is a boolean.
func (v Value) IsBool() bool {
	return v.typ == ValBool
}

// IsNumber returns true if v is a number.
func (v Value) IsNumber() bool {
	return v.typ == ValNumber
}

// IsObj returns true if v references a heap object.
func (v Value) IsObj() bool {
	return v.typ == ValObj
}

// Accessors. Each is only meaningful when the corresponding Is method
// reports true.

// AsBool returns the boolean payload.
func (v Value) AsBool() bool {
	return v.boolean
}

// AsNumber returns the number payload.
func (v Value) AsNumber() float64 {
	return v.number
}

// AsObj returns the referenced heap object.
func (v Value) AsObj() Obj {
	return v.obj
}

// IsFalsey reports whether v is falsey: nil and false are falsey,
// everything else is truthy.
func (v Value) IsFalsey() bool {
	return v.typ == ValNil || (v.typ == ValBool && !v.boolean)
}

// Equals compares two values. Different variants are never equal; numbers
// follow IEEE semantics (NaN != NaN); objects compare by identity. Strings
// are interned, so identity comparison is content comparison for them.
func (v Value) Equals(other Value) bool {
	if v.typ != other.typ {
		return false
	}
	switch v.typ {
	case ValNil:
		return true
	case ValBool:
		return v.boolean == other.boolean
	case ValNumber:
		return v.number == other.number
	case ValObj:
		return v.obj == other.obj
	default:
		return false
	}
}

// String renders the value the way the print statement would. Numbers use
// the shortest %g form.
func (v Value) String() string {
	switch v.typ {
	case ValNil:
		return "nil"
	case ValBool:
		return strconv.FormatBool(v.boolean)
	case ValNumber:
		return fmt.Sprintf("%g", v.number)
	case ValObj:
		return v.obj.String()
	default:
		return fmt.Sprintf("Value(%d)", int(v.typ))
	}
}
