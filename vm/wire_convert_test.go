package vm

import (
	"bytes"
	"testing"

	"github.com/chazu/ripley/pkg/bytecode"
)

func buildSampleFunction(h *Heap) *Function {
	inner := h.NewFunction()
	inner.Name = h.CopyString("helper")
	inner.Arity = 1
	inner.Upvalues = 2
	inner.Chunk.Write(byte(bytecode.OpNil), 4)
	inner.Chunk.Write(byte(bytecode.OpReturn), 4)
	inner.Chunk.AddConstant(bytecode.ObjValue(h.CopyString("inner const")))

	script := h.NewFunction()
	script.Chunk.Write(byte(bytecode.OpConstant), 1)
	script.Chunk.Write(0, 1)
	script.Chunk.Write(byte(bytecode.OpReturn), 2)
	script.Chunk.AddConstant(bytecode.NumberValue(3.5))
	script.Chunk.AddConstant(bytecode.ObjValue(h.CopyString("greeting")))
	script.Chunk.AddConstant(bytecode.ObjValue(inner))
	return script
}

func TestFunctionWireRoundTrip(t *testing.T) {
	h := NewHeap()
	script := buildSampleFunction(h)

	w, err := FunctionToWire(script)
	if err != nil {
		t.Fatalf("FunctionToWire: %v", err)
	}

	data, err := bytecode.MarshalScript(w)
	if err != nil {
		t.Fatalf("MarshalScript: %v", err)
	}
	decoded, err := bytecode.UnmarshalScript(data)
	if err != nil {
		t.Fatalf("UnmarshalScript: %v", err)
	}

	h2 := NewHeap()
	rebuilt := FunctionFromWire(h2, decoded)

	if !bytes.Equal(rebuilt.Chunk.Code, script.Chunk.Code) {
		t.Errorf("Code = %v, want %v", rebuilt.Chunk.Code, script.Chunk.Code)
	}
	if len(rebuilt.Chunk.Lines) != len(script.Chunk.Lines) {
		t.Errorf("line map length = %d, want %d", len(rebuilt.Chunk.Lines), len(script.Chunk.Lines))
	}
	if rebuilt.Chunk.Constants[0].AsNumber() != 3.5 {
		t.Errorf("number constant = %v, want 3.5", rebuilt.Chunk.Constants[0])
	}

	str := rebuilt.Chunk.Constants[1].AsObj().(*String)
	if str.Bytes != "greeting" {
		t.Errorf("string constant = %q, want %q", str.Bytes, "greeting")
	}
	// Rebuilt strings go through the intern table of the target heap
	if h2.CopyString("greeting") != str {
		t.Error("rebuilt string constant is not interned")
	}

	nested := rebuilt.Chunk.Constants[2].AsObj().(*Function)
	if nested.Name == nil || nested.Name.Bytes != "helper" {
		t.Errorf("nested name = %v, want helper", nested.Name)
	}
	if nested.Arity != 1 || nested.Upvalues != 2 {
		t.Errorf("nested arity/upvalues = %d/%d, want 1/2", nested.Arity, nested.Upvalues)
	}
}

func TestFunctionFromWireUnderStress(t *testing.T) {
	h := NewHeap()
	w, err := FunctionToWire(buildSampleFunction(h))
	if err != nil {
		t.Fatalf("FunctionToWire: %v", err)
	}

	h2 := NewHeap()
	h2.Stress = true
	rebuilt := FunctionFromWire(h2, w)

	// The pinned function and everything hanging off it must survive the
	// collections triggered by its own construction.
	if len(rebuilt.Chunk.Constants) != 3 {
		t.Fatalf("constant count = %d, want 3", len(rebuilt.Chunk.Constants))
	}
	if rebuilt.Chunk.Constants[1].AsObj().(*String).Bytes != "greeting" {
		t.Error("string constant lost during stressed rebuild")
	}
}

func TestFunctionToWireRejectsBadConstants(t *testing.T) {
	h := NewHeap()
	fn := h.NewFunction()
	fn.Chunk.AddConstant(bytecode.BoolValue(true))

	if _, err := FunctionToWire(fn); err == nil {
		t.Error("FunctionToWire accepted a bool constant")
	}
}
