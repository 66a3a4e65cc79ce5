package vm

import (
	"fmt"

	"github.com/chazu/ripley/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Wire conversion: Function <-> bytecode.WireFunction
// ---------------------------------------------------------------------------

// FunctionToWire converts a compiled function tree to its serializable
// form. Only numbers, strings, and nested functions appear in constant
// pools; anything else is a corrupt chunk.
func FunctionToWire(fn *Function) (*bytecode.WireFunction, error) {
	w := &bytecode.WireFunction{
		Arity:        fn.Arity,
		UpvalueCount: fn.Upvalues,
		Code:         append([]byte(nil), fn.Chunk.Code...),
		Lines:        append([]int(nil), fn.Chunk.Lines...),
		Constants:    make([]bytecode.WireConstant, 0, len(fn.Chunk.Constants)),
	}
	if fn.Name != nil {
		w.Name = fn.Name.Bytes
	}

	for i, c := range fn.Chunk.Constants {
		switch {
		case c.IsNumber():
			w.Constants = append(w.Constants, bytecode.WireConstant{
				Kind: bytecode.WireConstNumber, Number: c.AsNumber(),
			})
		case c.IsObj():
			switch obj := c.AsObj().(type) {
			case *String:
				w.Constants = append(w.Constants, bytecode.WireConstant{
					Kind: bytecode.WireConstString, Str: obj.Bytes,
				})
			case *Function:
				nested, err := FunctionToWire(obj)
				if err != nil {
					return nil, err
				}
				w.Constants = append(w.Constants, bytecode.WireConstant{
					Kind: bytecode.WireConstFunction, Function: nested,
				})
			default:
				return nil, fmt.Errorf("vm: constant %d of %s is a %s, not serializable", i, fn, obj.TypeName())
			}
		default:
			return nil, fmt.Errorf("vm: constant %d of %s has unexpected type", i, fn)
		}
	}

	return w, nil
}

// FunctionFromWire rebuilds a function tree on the heap. Strings go
// through the intern table so the uniqueness invariant holds for cached
// code exactly as for fresh compiles. The function under construction is
// pinned while its constants allocate.
func FunctionFromWire(h *Heap, w *bytecode.WireFunction) *Function {
	fn := h.NewFunction()
	h.PushTempRoot(bytecode.ObjValue(fn))
	defer h.PopTempRoot()

	fn.Arity = w.Arity
	fn.Upvalues = w.UpvalueCount
	fn.Chunk.Code = append([]byte(nil), w.Code...)
	fn.Chunk.Lines = append([]int(nil), w.Lines...)
	if w.Name != "" {
		fn.Name = h.CopyString(w.Name)
	}

	for _, c := range w.Constants {
		switch c.Kind {
		case bytecode.WireConstNumber:
			fn.Chunk.AddConstant(bytecode.NumberValue(c.Number))
		case bytecode.WireConstString:
			fn.Chunk.AddConstant(bytecode.ObjValue(h.CopyString(c.Str)))
		case bytecode.WireConstFunction:
			fn.Chunk.AddConstant(bytecode.ObjValue(FunctionFromWire(h, c.Function)))
		}
	}

	return fn
}
