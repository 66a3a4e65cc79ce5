package vm

import (
	"testing"

	"github.com/chazu/ripley/pkg/bytecode"
)

func TestObjectStringForms(t *testing.T) {
	h := NewHeap()

	fn := h.NewFunction()
	if got := fn.String(); got != "<script>" {
		t.Errorf("unnamed function String() = %q, want %q", got, "<script>")
	}

	fn.Name = h.CopyString("work")
	if got := fn.String(); got != "<fn work>" {
		t.Errorf("named function String() = %q, want %q", got, "<fn work>")
	}

	closure := h.NewClosure(fn)
	if got := closure.String(); got != "<fn work>" {
		t.Errorf("closure String() = %q, want %q", got, "<fn work>")
	}

	native := h.NewNative(func(int, []Value) Value { return bytecode.NilValue() })
	if got := native.String(); got != "<native fn>" {
		t.Errorf("native String() = %q, want %q", got, "<native fn>")
	}

	class := h.NewClass(h.CopyString("Shape"))
	if got := class.String(); got != "Shape" {
		t.Errorf("class String() = %q, want %q", got, "Shape")
	}

	instance := h.NewInstance(class)
	if got := instance.String(); got != "Shape instance" {
		t.Errorf("instance String() = %q, want %q", got, "Shape instance")
	}

	bound := h.NewBoundMethod(bytecode.ObjValue(instance), closure)
	if got := bound.String(); got != "<fn work>" {
		t.Errorf("bound method String() = %q, want %q", got, "<fn work>")
	}
}

func TestUpvalueOpenAndClose(t *testing.T) {
	h := NewHeap()

	var slot Value = bytecode.NumberValue(10)
	uv := h.NewUpvalue(&slot, 3)

	if !uv.IsOpen() {
		t.Fatal("fresh upvalue is not open")
	}
	if uv.Get().AsNumber() != 10 {
		t.Errorf("Get = %v, want 10", uv.Get())
	}

	// Writes through the upvalue hit the slot while open
	uv.Set(bytecode.NumberValue(20))
	if slot.AsNumber() != 20 {
		t.Errorf("slot = %v, want 20 after Set", slot)
	}

	uv.close()
	if uv.IsOpen() {
		t.Error("upvalue still open after close")
	}

	// The slot is dead now; the upvalue owns the value
	slot = bytecode.NilValue()
	if uv.Get().AsNumber() != 20 {
		t.Errorf("Get after close = %v, want 20", uv.Get())
	}

	uv.Set(bytecode.NumberValue(30))
	if uv.Get().AsNumber() != 30 {
		t.Errorf("Get after closed Set = %v, want 30", uv.Get())
	}
}

func TestObjTypeNames(t *testing.T) {
	h := NewHeap()

	tests := []struct {
		obj  Obj
		want ObjType
	}{
		{h.CopyString("s"), ObjString},
		{h.NewFunction(), ObjFunction},
		{h.NewClass(h.CopyString("C")), ObjClass},
	}

	for _, tt := range tests {
		if tt.obj.Type() != tt.want {
			t.Errorf("Type() = %v, want %v", tt.obj.Type(), tt.want)
		}
	}
}
