package bytecode

import (
	"bytes"
	"testing"
)

func sampleWireScript() *WireFunction {
	inner := &WireFunction{
		Name:         "inc",
		Arity:        1,
		UpvalueCount: 1,
		Code:         []byte{byte(OpGetUpvalue), 0, byte(OpReturn)},
		Lines:        []int{2, 2, 2},
		Constants:    []WireConstant{},
	}
	return &WireFunction{
		Name:         "",
		Arity:        0,
		UpvalueCount: 0,
		Code:         []byte{byte(OpConstant), 0, byte(OpPop), byte(OpNil), byte(OpReturn)},
		Lines:        []int{1, 1, 1, 3, 3},
		Constants: []WireConstant{
			{Kind: WireConstNumber, Number: 42},
			{Kind: WireConstString, Str: "hello"},
			{Kind: WireConstFunction, Function: inner},
		},
	}
}

func TestWireRoundTrip(t *testing.T) {
	fn := sampleWireScript()

	data, err := MarshalScript(fn)
	if err != nil {
		t.Fatalf("MarshalScript: %v", err)
	}

	got, err := UnmarshalScript(data)
	if err != nil {
		t.Fatalf("UnmarshalScript: %v", err)
	}

	if !bytes.Equal(got.Code, fn.Code) {
		t.Errorf("Code = %v, want %v", got.Code, fn.Code)
	}
	if len(got.Constants) != 3 {
		t.Fatalf("constant count = %d, want 3", len(got.Constants))
	}
	if got.Constants[0].Number != 42 {
		t.Errorf("number constant = %v, want 42", got.Constants[0].Number)
	}
	if got.Constants[1].Str != "hello" {
		t.Errorf("string constant = %q, want %q", got.Constants[1].Str, "hello")
	}
	nested := got.Constants[2].Function
	if nested == nil || nested.Name != "inc" || nested.Arity != 1 || nested.UpvalueCount != 1 {
		t.Errorf("nested function = %+v, want inc/1/1", nested)
	}
}

func TestWireDeterministic(t *testing.T) {
	a, err := MarshalScript(sampleWireScript())
	if err != nil {
		t.Fatalf("MarshalScript: %v", err)
	}
	b, err := MarshalScript(sampleWireScript())
	if err != nil {
		t.Fatalf("MarshalScript: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("canonical encoding produced differing bytes for equal scripts")
	}
}

func TestWireBadMagic(t *testing.T) {
	data, err := cborEncMode.Marshal(&WireEnvelope{Magic: "NOPE", Version: WireVersion, Script: sampleWireScript()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := UnmarshalScript(data); err == nil {
		t.Error("UnmarshalScript accepted bad magic")
	}
}

func TestWireNewerVersionRejected(t *testing.T) {
	data, err := cborEncMode.Marshal(&WireEnvelope{Magic: WireMagic, Version: WireVersion + 1, Script: sampleWireScript()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := UnmarshalScript(data); err == nil {
		t.Error("UnmarshalScript accepted newer version")
	}
}

func TestWireValidation(t *testing.T) {
	tests := []struct {
		name string
		fn   *WireFunction
	}{
		{"line map mismatch", &WireFunction{Code: []byte{0}, Lines: []int{}}},
		{"unknown constant kind", &WireFunction{Constants: []WireConstant{{Kind: "blob"}}}},
		{"function constant without body", &WireFunction{Constants: []WireConstant{{Kind: WireConstFunction}}}},
	}

	for _, tt := range tests {
		data, err := cborEncMode.Marshal(&WireEnvelope{Magic: WireMagic, Version: WireVersion, Script: tt.fn})
		if err != nil {
			t.Fatalf("%s: marshal: %v", tt.name, err)
		}
		if _, err := UnmarshalScript(data); err == nil {
			t.Errorf("%s: UnmarshalScript accepted invalid script", tt.name)
		}
	}
}
