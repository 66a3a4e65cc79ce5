// Package vm implements the Ripley virtual machine: the heap object model,
// the string intern table, a precise tri-color mark-sweep garbage
// collector, and the stack-based interpreter loop.
//
// The VM owns every heap object for the lifetime of a run. Reachability
// from the VM's roots (value stack, call frames, open upvalues, globals,
// the interned "init" string, and the compiler's in-progress functions) is
// the only thing that keeps an object alive; the collector threads all
// objects on an intrusive list and frees whatever the mark phase did not
// reach. The intern table holds its strings weakly, so unreferenced
// strings are dropped between mark and sweep.
//
// The compiler is attached as a backend through UseCompiler, mirroring how
// the rest of the toolchain plugs into the machine, and keeping this
// package free of a dependency on the parser.
package vm
