// Ripley CLI - compiles and runs Ripley programs.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/ripley/lib/cache"
	"github.com/chazu/ripley/manifest"
	"github.com/chazu/ripley/pkg/compiler"
	"github.com/chazu/ripley/vm"
)

// Exit codes follow the BSD sysexits conventions the toolchain's callers
// expect.
const (
	exitOK           = 0
	exitUsage        = 64
	exitCompileError = 65
	exitRuntimeError = 70
	exitIOError      = 74
)

func main() {
	interactive := flag.Bool("i", false, "Start interactive REPL")
	trace := flag.Bool("trace", false, "Trace execution: print the stack and each instruction")
	printCode := flag.Bool("print-code", false, "Print disassembly of each compiled function")
	gcStress := flag.Bool("gc-stress", false, "Collect garbage on every allocation")
	gcLog := flag.Bool("gc-log", false, "Log collector activity")
	useCache := flag.Bool("cache", false, "Use the compiled-chunk cache")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ripley [options] [script.rpl]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a Ripley script, the project entry from ripley.toml, or a REPL.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  ripley program.rpl          # Run a script\n")
		fmt.Fprintf(os.Stderr, "  ripley -i                   # Start REPL\n")
		fmt.Fprintf(os.Stderr, "  ripley -cache program.rpl   # Reuse compiled bytecode across runs\n")
		fmt.Fprintf(os.Stderr, "  ripley -trace program.rpl   # Step-by-step execution trace\n")
	}
	flag.Parse()

	if flag.NArg() > 1 {
		flag.Usage()
		os.Exit(exitUsage)
	}

	// Manifest switches combine with the flags: either one turns a setting
	// on, and a flag cannot turn off a setting the manifest enables.
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(exitIOError)
	}
	if m != nil {
		*trace = *trace || m.VM.TraceExecution
		*printCode = *printCode || m.VM.PrintCode
		*gcStress = *gcStress || m.VM.GCStress
		*gcLog = *gcLog || m.VM.GCLog
		*useCache = *useCache || m.Cache.Enabled
	}

	if *gcLog || *verbose {
		commonlog.Configure(2, nil)
	} else {
		commonlog.Configure(0, nil)
	}

	machine := vm.New()
	machine.Trace = *trace
	machine.Heap().Stress = *gcStress
	machine.Heap().Log = *gcLog

	opts := compiler.Options{PrintCode: *printCode, CodeOut: os.Stderr}
	machine.UseCompiler(func(source string, heap *vm.Heap, errOut io.Writer) (*vm.Function, error) {
		return compiler.CompileWithOptions(source, heap, errOut, opts)
	})

	switch {
	case *interactive:
		repl(machine)

	case flag.NArg() == 1:
		os.Exit(runFile(machine, flag.Arg(0), cacheStore(m, *useCache, *verbose)))

	case m != nil && m.EntryPath() != "":
		os.Exit(runFile(machine, m.EntryPath(), cacheStore(m, *useCache, *verbose)))

	default:
		repl(machine)
	}
}

// cacheStore opens the compile cache when enabled. A cache that fails to
// open degrades to no cache rather than blocking the run.
func cacheStore(m *manifest.Manifest, enabled, verbose bool) *cache.Store {
	if !enabled {
		return nil
	}

	path := ".ripley/cache.db"
	if m != nil {
		path = m.CachePath()
	}

	store, err := cache.Open(path)
	if err != nil {
		if verbose {
			fmt.Fprintf(os.Stderr, "Cache unavailable: %v\n", err)
		}
		return nil
	}
	return store
}

// runFile executes a script file and returns the process exit code.
func runFile(machine *vm.VM, path string, store *cache.Store) int {
	if store != nil {
		defer store.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not read %s: %v\n", path, err)
		return exitIOError
	}
	source := string(data)

	var result vm.InterpretResult
	if store != nil {
		result = runCached(machine, source, store)
	} else {
		result = machine.Interpret(source)
	}

	switch result {
	case vm.ResultCompileError:
		return exitCompileError
	case vm.ResultRuntimeError:
		return exitRuntimeError
	default:
		return exitOK
	}
}

// runCached consults the compile cache before compiling, and fills it
// after a fresh compile.
func runCached(machine *vm.VM, source string, store *cache.Store) vm.InterpretResult {
	key := cache.HashSource(source)

	if wire, err := store.Load(key); err == nil {
		fn := vm.FunctionFromWire(machine.Heap(), wire)
		return machine.RunFunction(fn)
	} else if !errors.Is(err, cache.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Cache read failed: %v\n", err)
	}

	fn, err := compiler.Compile(source, machine.Heap(), os.Stderr)
	if err != nil {
		return vm.ResultCompileError
	}

	if wire, err := vm.FunctionToWire(fn); err == nil {
		if err := store.Put(key, wire); err != nil {
			fmt.Fprintf(os.Stderr, "Cache write failed: %v\n", err)
		}
	}

	return machine.RunFunction(fn)
}

// repl reads and interprets lines until EOF. Globals persist across
// lines, so definitions build on each other.
func repl(machine *vm.VM) {
	reader := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !reader.Scan() {
			fmt.Println()
			return
		}

		line := reader.Text()
		if line == "" {
			continue
		}
		machine.Interpret(line)
	}
}
