package vm

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/chazu/ripley/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// VM: the interpreter
// ---------------------------------------------------------------------------

// FramesMax is the call-depth limit.
const FramesMax = 64

// StackMax is the value stack capacity.
const StackMax = FramesMax * 256

// InterpretResult is the outcome of running a source chunk.
type InterpretResult int

const (
	ResultOk InterpretResult = iota
	ResultCompileError
	ResultRuntimeError
)

// String returns a human-readable name for the result.
func (r InterpretResult) String() string {
	switch r {
	case ResultOk:
		return "ok"
	case ResultCompileError:
		return "compile error"
	case ResultRuntimeError:
		return "runtime error"
	default:
		return fmt.Sprintf("InterpretResult(%d)", int(r))
	}
}

// CompileFn compiles source to a top-level script function, allocating
// through the given heap. Diagnostics go to errors; a non-nil error means
// the source did not compile.
type CompileFn func(source string, heap *Heap, errors io.Writer) (*Function, error)

// CallFrame is one activation record: the running closure, its
// instruction pointer, and the base of its stack window.
type CallFrame struct {
	closure *Closure
	ip      int
	slots   int
}

// VM executes compiled Ripley code.
type VM struct {
	heap *Heap

	stack    [StackMax]Value
	stackTop int

	frames     [FramesMax]CallFrame
	frameCount int

	globals      Table
	openUpvalues *Upvalue // sorted by descending stack slot
	initString   *String

	compile CompileFn
	stdout  io.Writer
	stderr  io.Writer
	started time.Time

	// Trace prints the stack and the disassembled instruction before
	// each step.
	Trace bool
}

// New creates a VM with a fresh heap and the built-in natives registered.
func New() *VM {
	vm := &VM{
		heap:    NewHeap(),
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		started: time.Now(),
	}
	vm.heap.SetRootMarker(vm.markRoots)
	vm.initString = vm.heap.CopyString("init")
	registerNatives(vm)

	return vm
}

// Heap returns the VM's heap, for callers that construct objects directly
// (the compile cache, tests).
func (vm *VM) Heap() *Heap { return vm.heap }

// UseCompiler attaches the compiler backend invoked by Interpret.
func (vm *VM) UseCompiler(fn CompileFn) { vm.compile = fn }

// SetOutput redirects the print statement's output.
func (vm *VM) SetOutput(w io.Writer) { vm.stdout = w }

// SetErrorOutput redirects diagnostics (compile errors, runtime error
// reports, trace output).
func (vm *VM) SetErrorOutput(w io.Writer) { vm.stderr = w }

// Interpret compiles and runs a source string as a top-level script.
func (vm *VM) Interpret(source string) InterpretResult {
	if vm.compile == nil {
		panic("vm: no compiler attached; call UseCompiler first")
	}

	fn, err := vm.compile(source, vm.heap, vm.stderr)
	if err != nil {
		return ResultCompileError
	}

	// The bare function rides the stack while the closure allocates.
	vm.push(bytecode.ObjValue(fn))
	closure := vm.heap.NewClosure(fn)
	vm.pop()
	vm.push(bytecode.ObjValue(closure))
	vm.call(closure, 0)

	return vm.run()
}

// RunFunction executes an already-built script function, as produced by
// the compile cache. It follows the same frame protocol as Interpret.
func (vm *VM) RunFunction(fn *Function) InterpretResult {
	vm.push(bytecode.ObjValue(fn))
	closure := vm.heap.NewClosure(fn)
	vm.pop()
	vm.push(bytecode.ObjValue(closure))
	vm.call(closure, 0)

	return vm.run()
}

// DefineNative registers a host function under a global name. Both the
// name and the wrapper ride the stack across the table insertion so a
// collection triggered mid-registration sees them as roots.
func (vm *VM) DefineNative(name string, fn NativeFn) {
	vm.push(bytecode.ObjValue(vm.heap.CopyString(name)))
	vm.push(bytecode.ObjValue(vm.heap.NewNative(fn)))
	vm.globals.Set(vm.stack[vm.stackTop-2].AsObj().(*String), vm.stack[vm.stackTop-1])
	vm.pop()
	vm.pop()
}

// ---------------------------------------------------------------------------
// Stack
// ---------------------------------------------------------------------------

func (vm *VM) push(v Value) {
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) Value {
	return vm.stack[vm.stackTop-1-distance]
}

func (vm *VM) resetStack() {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// runtimeError reports a fatal runtime error with a backtrace from the
// innermost frame outward, then resets the stack.
func (vm *VM) runtimeError(format string, args ...interface{}) {
	fmt.Fprintf(vm.stderr, "Runtime Error: "+format+"\n", args...)

	for i := vm.frameCount - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		fn := frame.closure.Function
		// ip already advanced past the faulting instruction
		line := fn.Chunk.Line(frame.ip - 1)
		if fn.Name == nil {
			fmt.Fprintf(vm.stderr, "[line %d] in script\n", line)
		} else {
			fmt.Fprintf(vm.stderr, "[line %d] in %s()\n", line, fn.Name.Bytes)
		}
	}

	vm.resetStack()
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// callValue dispatches a call on any value. Returns false after reporting
// a runtime error.
func (vm *VM) callValue(callee Value, argCount int) bool {
	if callee.IsObj() {
		switch obj := callee.AsObj().(type) {
		case *BoundMethod:
			vm.stack[vm.stackTop-argCount-1] = obj.Receiver
			return vm.call(obj.Method, argCount)

		case *Class:
			vm.stack[vm.stackTop-argCount-1] = bytecode.ObjValue(vm.heap.NewInstance(obj))
			if init, ok := obj.Methods.Get(vm.initString); ok {
				return vm.call(init.AsObj().(*Closure), argCount)
			}
			if argCount != 0 {
				vm.runtimeError("Expected 0 arguments but got %d.", argCount)
				return false
			}
			return true

		case *Closure:
			return vm.call(obj, argCount)

		case *Native:
			result := obj.Fn(argCount, vm.stack[vm.stackTop-argCount:vm.stackTop])
			vm.stackTop -= argCount + 1
			vm.push(result)
			return true
		}
	}

	vm.runtimeError("Can only call functions and classes.")
	return false
}

// call pushes a frame for a closure invocation.
func (vm *VM) call(closure *Closure, argCount int) bool {
	if argCount != closure.Function.Arity {
		vm.runtimeError("Expected %d arguments but got %d.", closure.Function.Arity, argCount)
		return false
	}
	if vm.frameCount == FramesMax {
		vm.runtimeError("Stack overflow.")
		return false
	}

	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.closure = closure
	frame.ip = 0
	frame.slots = vm.stackTop - argCount - 1
	return true
}

// invoke performs the fused obj.name(args) call. Fields shadow methods.
func (vm *VM) invoke(name *String, argCount int) bool {
	receiver := vm.peek(argCount)

	instance, ok := asInstance(receiver)
	if !ok {
		vm.runtimeError("Only instances have methods.")
		return false
	}

	if field, ok := instance.Fields.Get(name); ok {
		vm.stack[vm.stackTop-argCount-1] = field
		return vm.callValue(field, argCount)
	}

	return vm.invokeFromClass(instance.Class, name, argCount)
}

// invokeFromClass dispatches a method from a known class.
func (vm *VM) invokeFromClass(class *Class, name *String, argCount int) bool {
	method, ok := class.Methods.Get(name)
	if !ok {
		vm.runtimeError("Undefined property '%s'.", name.Bytes)
		return false
	}
	return vm.call(method.AsObj().(*Closure), argCount)
}

// bindMethod replaces the receiver on top of the stack with a BoundMethod
// for the named method.
func (vm *VM) bindMethod(class *Class, name *String) bool {
	method, ok := class.Methods.Get(name)
	if !ok {
		vm.runtimeError("Undefined property '%s'.", name.Bytes)
		return false
	}

	bound := vm.heap.NewBoundMethod(vm.peek(0), method.AsObj().(*Closure))
	vm.pop()
	vm.push(bytecode.ObjValue(bound))
	return true
}

// ---------------------------------------------------------------------------
// Upvalues
// ---------------------------------------------------------------------------

// captureUpvalue returns the open upvalue for a stack slot, reusing an
// existing one if any closure already captured that slot. The open list
// stays sorted by descending slot.
func (vm *VM) captureUpvalue(slot int) *Upvalue {
	var prev *Upvalue
	uv := vm.openUpvalues
	for uv != nil && uv.slot > slot {
		prev = uv
		uv = uv.next
	}

	if uv != nil && uv.slot == slot {
		return uv
	}

	created := vm.heap.NewUpvalue(&vm.stack[slot], slot)
	created.next = uv
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.next = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above the given slot,
// migrating the captured values off the stack.
func (vm *VM) closeUpvalues(last int) {
	for vm.openUpvalues != nil && vm.openUpvalues.slot >= last {
		uv := vm.openUpvalues
		vm.openUpvalues = uv.next
		uv.close()
		uv.next = nil
	}
}

// ---------------------------------------------------------------------------
// GC roots
// ---------------------------------------------------------------------------

// markRoots marks everything the VM can reach: the value stack, each
// active frame's closure, the open upvalues, the globals, and the interned
// "init" string.
func (vm *VM) markRoots(h *Heap) {
	for i := 0; i < vm.stackTop; i++ {
		h.markValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		h.markObject(vm.frames[i].closure)
	}
	for uv := vm.openUpvalues; uv != nil; uv = uv.next {
		h.markObject(uv)
	}
	h.markTable(&vm.globals)
	h.markObject(vm.initString)
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

// run executes frames until the script returns or a runtime error unwinds
// everything.
func (vm *VM) run() InterpretResult {
	frame := &vm.frames[vm.frameCount-1]

	readByte := func() byte {
		b := frame.closure.Function.Chunk.Code[frame.ip]
		frame.ip++
		return b
	}
	readUint16 := func() uint16 {
		v := frame.closure.Function.Chunk.ReadUint16(frame.ip)
		frame.ip += 2
		return v
	}
	readConstant := func() Value {
		return frame.closure.Function.Chunk.Constants[readByte()]
	}
	readString := func() *String {
		return readConstant().AsObj().(*String)
	}

	for {
		if vm.Trace {
			vm.traceInstruction(frame)
		}

		op := bytecode.Opcode(readByte())

		switch op {
		// ============ Constants and literals ============
		case bytecode.OpConstant:
			vm.push(readConstant())

		case bytecode.OpNil:
			vm.push(bytecode.NilValue())

		case bytecode.OpTrue:
			vm.push(bytecode.BoolValue(true))

		case bytecode.OpFalse:
			vm.push(bytecode.BoolValue(false))

		case bytecode.OpPop:
			vm.pop()

		// ============ Variables ============
		case bytecode.OpGetLocal:
			slot := int(readByte())
			vm.push(vm.stack[frame.slots+slot])

		case bytecode.OpSetLocal:
			slot := int(readByte())
			vm.stack[frame.slots+slot] = vm.peek(0)

		case bytecode.OpGetGlobal:
			name := readString()
			value, ok := vm.globals.Get(name)
			if !ok {
				vm.runtimeError("Undefined variable '%s'.", name.Bytes)
				return ResultRuntimeError
			}
			vm.push(value)

		case bytecode.OpDefineGlobal:
			name := readString()
			vm.globals.Set(name, vm.peek(0))
			vm.pop()

		case bytecode.OpSetGlobal:
			name := readString()
			if vm.globals.Set(name, vm.peek(0)) {
				// A new binding means the variable was undefined.
				vm.globals.Delete(name)
				vm.runtimeError("Undefined variable '%s'.", name.Bytes)
				return ResultRuntimeError
			}

		case bytecode.OpGetUpvalue:
			slot := int(readByte())
			vm.push(frame.closure.Upvalues[slot].Get())

		case bytecode.OpSetUpvalue:
			slot := int(readByte())
			frame.closure.Upvalues[slot].Set(vm.peek(0))

		// ============ Properties and super ============
		case bytecode.OpGetProperty:
			instance, ok := asInstance(vm.peek(0))
			if !ok {
				vm.runtimeError("Only instances have properties.")
				return ResultRuntimeError
			}
			name := readString()

			if field, ok := instance.Fields.Get(name); ok {
				vm.pop() // instance
				vm.push(field)
				break
			}

			if !vm.bindMethod(instance.Class, name) {
				return ResultRuntimeError
			}

		case bytecode.OpSetProperty:
			instance, ok := asInstance(vm.peek(1))
			if !ok {
				vm.runtimeError("Only instances have fields.")
				return ResultRuntimeError
			}
			name := readString()
			instance.Fields.Set(name, vm.peek(0))
			value := vm.pop()
			vm.pop() // instance
			vm.push(value)

		case bytecode.OpGetSuper:
			name := readString()
			superclass := vm.pop().AsObj().(*Class)
			if !vm.bindMethod(superclass, name) {
				return ResultRuntimeError
			}

		// ============ Operators ============
		case bytecode.OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(bytecode.BoolValue(a.Equals(b)))

		case bytecode.OpGreater:
			if !vm.binaryNumberOp(op) {
				return ResultRuntimeError
			}

		case bytecode.OpLess:
			if !vm.binaryNumberOp(op) {
				return ResultRuntimeError
			}

		case bytecode.OpAdd:
			if isString(vm.peek(0)) && isString(vm.peek(1)) {
				vm.concatenate()
			} else if vm.peek(0).IsNumber() && vm.peek(1).IsNumber() {
				b := vm.pop().AsNumber()
				a := vm.pop().AsNumber()
				vm.push(bytecode.NumberValue(a + b))
			} else {
				vm.runtimeError("Operands must be two numbers or two strings.")
				return ResultRuntimeError
			}

		case bytecode.OpSubtract, bytecode.OpMultiply, bytecode.OpDivide:
			if !vm.binaryNumberOp(op) {
				return ResultRuntimeError
			}

		case bytecode.OpNot:
			vm.push(bytecode.BoolValue(vm.pop().IsFalsey()))

		case bytecode.OpNegate:
			if !vm.peek(0).IsNumber() {
				vm.runtimeError("Operand must be a number.")
				return ResultRuntimeError
			}
			vm.push(bytecode.NumberValue(-vm.pop().AsNumber()))

		// ============ Statements ============
		case bytecode.OpPrint:
			fmt.Fprintf(vm.stdout, "%s\n", vm.pop())

		// ============ Control flow ============
		case bytecode.OpJump:
			offset := int(readUint16())
			frame.ip += offset

		case bytecode.OpJumpIfFalse:
			offset := int(readUint16())
			if vm.peek(0).IsFalsey() {
				frame.ip += offset
			}

		case bytecode.OpLoop:
			offset := int(readUint16())
			frame.ip -= offset

		// ============ Calls and closures ============
		case bytecode.OpCall:
			argCount := int(readByte())
			if !vm.callValue(vm.peek(argCount), argCount) {
				return ResultRuntimeError
			}
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpInvoke:
			name := readString()
			argCount := int(readByte())
			if !vm.invoke(name, argCount) {
				return ResultRuntimeError
			}
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpSuperInvoke:
			name := readString()
			argCount := int(readByte())
			superclass := vm.pop().AsObj().(*Class)
			if !vm.invokeFromClass(superclass, name, argCount) {
				return ResultRuntimeError
			}
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpClosure:
			fn := readConstant().AsObj().(*Function)
			closure := vm.heap.NewClosure(fn)
			// On the stack before upvalue capture allocates.
			vm.push(bytecode.ObjValue(closure))
			for i := range closure.Upvalues {
				isLocal := readByte()
				index := int(readByte())
				if isLocal == 1 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.slots + index)
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}

		case bytecode.OpCloseUpvalue:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case bytecode.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.slots)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop() // script closure
				return ResultOk
			}

			vm.stackTop = frame.slots
			vm.push(result)
			frame = &vm.frames[vm.frameCount-1]

		// ============ Classes ============
		case bytecode.OpClass:
			vm.push(bytecode.ObjValue(vm.heap.NewClass(readString())))

		case bytecode.OpInherit:
			superclass, ok := asClass(vm.peek(1))
			if !ok {
				vm.runtimeError("Superclass must be a class.")
				return ResultRuntimeError
			}
			subclass := vm.peek(0).AsObj().(*Class)
			subclass.Methods.AddAll(&superclass.Methods)
			vm.pop() // subclass

		case bytecode.OpMethod:
			name := readString()
			method := vm.peek(0).AsObj().(*Closure)
			class := vm.peek(1).AsObj().(*Class)
			class.Methods.Set(name, bytecode.ObjValue(method))
			vm.pop()

		default:
			vm.runtimeError("Unknown opcode %d.", byte(op))
			return ResultRuntimeError
		}
	}
}

// binaryNumberOp applies a numeric comparison or arithmetic opcode.
func (vm *VM) binaryNumberOp(op bytecode.Opcode) bool {
	if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
		vm.runtimeError("Operands must be numbers.")
		return false
	}

	b := vm.pop().AsNumber()
	a := vm.pop().AsNumber()

	switch op {
	case bytecode.OpGreater:
		vm.push(bytecode.BoolValue(a > b))
	case bytecode.OpLess:
		vm.push(bytecode.BoolValue(a < b))
	case bytecode.OpSubtract:
		vm.push(bytecode.NumberValue(a - b))
	case bytecode.OpMultiply:
		vm.push(bytecode.NumberValue(a * b))
	case bytecode.OpDivide:
		vm.push(bytecode.NumberValue(a / b))
	}
	return true
}

// concatenate joins the two strings on top of the stack. The operands stay
// on the stack until the result exists, so a collection triggered by the
// interning still reaches them.
func (vm *VM) concatenate() {
	b := vm.peek(0).AsObj().(*String)
	a := vm.peek(1).AsObj().(*String)

	result := vm.heap.TakeString(a.Bytes + b.Bytes)

	vm.pop()
	vm.pop()
	vm.push(bytecode.ObjValue(result))
}

// traceInstruction prints the stack and the next instruction.
func (vm *VM) traceInstruction(frame *CallFrame) {
	fmt.Fprint(vm.stderr, "          ")
	for i := 0; i < vm.stackTop; i++ {
		fmt.Fprintf(vm.stderr, "[ %s ]", vm.stack[i])
	}
	fmt.Fprintln(vm.stderr)

	line, _ := bytecode.DisassembleInstruction(frame.closure.Function.Chunk, frame.ip)
	fmt.Fprintln(vm.stderr, line)
}

// Type probes

func isString(v Value) bool {
	if !v.IsObj() {
		return false
	}
	_, ok := v.AsObj().(*String)
	return ok
}

func asInstance(v Value) (*Instance, bool) {
	if !v.IsObj() {
		return nil, false
	}
	i, ok := v.AsObj().(*Instance)
	return i, ok
}

func asClass(v Value) (*Class, bool) {
	if !v.IsObj() {
		return nil, false
	}
	c, ok := v.AsObj().(*Class)
	return c, ok
}
