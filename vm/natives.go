package vm

import (
	"time"

	"github.com/chazu/ripley/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Built-in natives
// ---------------------------------------------------------------------------

// registerNatives installs the host functions every VM starts with.
func registerNatives(vm *VM) {
	// clock() returns seconds elapsed since the VM started.
	vm.DefineNative("clock", func(argCount int, args []Value) Value {
		return bytecode.NumberValue(time.Since(vm.started).Seconds())
	})
}
