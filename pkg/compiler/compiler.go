// Package compiler turns Ripley source into bytecode in a single pass: a
// Pratt expression parser drives an emitter that writes straight into the
// chunk of the function being compiled. There is no syntax tree.
//
// The compiler allocates functions and string constants on the VM heap,
// and registers the chain of in-progress functions as collector roots for
// the duration of a compile.
package compiler

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/chazu/ripley/pkg/bytecode"
	"github.com/chazu/ripley/pkg/scanner"
	"github.com/chazu/ripley/vm"
)

// ErrCompile is returned when the source had one or more compile errors.
// Diagnostics have already been written to the error writer by then.
var ErrCompile = errors.New("compile error")

// Options adjusts compiler behavior for the driver's debug flags.
type Options struct {
	// PrintCode disassembles each function as it finishes compiling.
	PrintCode bool
	// CodeOut receives the disassembly; defaults to the error writer.
	CodeOut io.Writer
}

// Compile compiles source as a top-level script function.
func Compile(source string, heap *vm.Heap, errOut io.Writer) (*vm.Function, error) {
	return CompileWithOptions(source, heap, errOut, Options{})
}

// CompileWithOptions compiles source with explicit options.
func CompileWithOptions(source string, heap *vm.Heap, errOut io.Writer, opts Options) (*vm.Function, error) {
	p := &parser{
		scanner: scanner.New(source),
		heap:    heap,
		errOut:  errOut,
		opts:    opts,
	}
	if p.opts.CodeOut == nil {
		p.opts.CodeOut = errOut
	}

	p.pushCompiler(typeScript)

	// Functions under construction are unreachable from the VM until the
	// script closure exists; the compiler chain stands in as their root.
	heap.SetCompilerRoots(p.markRoots)
	defer heap.SetCompilerRoots(nil)

	p.advance()
	for !p.match(scanner.TokenEOF) {
		p.declaration()
	}

	fn := p.endCompiler()
	if p.hadError {
		return nil, ErrCompile
	}
	return fn, nil
}

// ---------------------------------------------------------------------------
// Precedence and parse rules
// ---------------------------------------------------------------------------

type precedence int

const (
	precNone       precedence = iota
	precAssignment            // =
	precOr                    // or
	precAnd                   // and
	precEquality              // == !=
	precComparison            // < > <= >=
	precTerm                  // + -
	precFactor                // * /
	precUnary                 // ! -
	precCall                  // . ()
	precPrimary
)

type parseFn func(p *parser, canAssign bool)

type parseRule struct {
	prefix parseFn
	infix  parseFn
	prec   precedence
}

// rules maps each token type to its Pratt slots. Populated in init to
// break the initialization cycle through the recursive parse functions.
var rules map[scanner.TokenType]parseRule

func init() {
	rules = map[scanner.TokenType]parseRule{
		scanner.TokenLeftParen:    {(*parser).grouping, (*parser).call, precCall},
		scanner.TokenRightParen:   {nil, nil, precNone},
		scanner.TokenLeftBrace:    {nil, nil, precNone},
		scanner.TokenRightBrace:   {nil, nil, precNone},
		scanner.TokenComma:        {nil, nil, precNone},
		scanner.TokenDot:          {nil, (*parser).dot, precCall},
		scanner.TokenMinus:        {(*parser).unary, (*parser).binary, precTerm},
		scanner.TokenPlus:         {nil, (*parser).binary, precTerm},
		scanner.TokenSemicolon:    {nil, nil, precNone},
		scanner.TokenSlash:        {nil, (*parser).binary, precFactor},
		scanner.TokenStar:         {nil, (*parser).binary, precFactor},
		scanner.TokenBang:         {(*parser).unary, nil, precNone},
		scanner.TokenBangEqual:    {nil, (*parser).binary, precEquality},
		scanner.TokenEqual:        {nil, nil, precNone},
		scanner.TokenEqualEqual:   {nil, (*parser).binary, precEquality},
		scanner.TokenGreater:      {nil, (*parser).binary, precComparison},
		scanner.TokenGreaterEqual: {nil, (*parser).binary, precComparison},
		scanner.TokenLess:         {nil, (*parser).binary, precComparison},
		scanner.TokenLessEqual:    {nil, (*parser).binary, precComparison},
		scanner.TokenIdentifier:   {(*parser).variable, nil, precNone},
		scanner.TokenString:       {(*parser).stringLiteral, nil, precNone},
		scanner.TokenNumber:       {(*parser).number, nil, precNone},
		scanner.TokenAnd:          {nil, (*parser).and, precAnd},
		scanner.TokenClass:        {nil, nil, precNone},
		scanner.TokenElse:         {nil, nil, precNone},
		scanner.TokenFalse:        {(*parser).literal, nil, precNone},
		scanner.TokenFor:          {nil, nil, precNone},
		scanner.TokenFun:          {nil, nil, precNone},
		scanner.TokenIf:           {nil, nil, precNone},
		scanner.TokenNil:          {(*parser).literal, nil, precNone},
		scanner.TokenOr:           {nil, (*parser).or, precOr},
		scanner.TokenPrint:        {nil, nil, precNone},
		scanner.TokenReturn:       {nil, nil, precNone},
		scanner.TokenSuper:        {(*parser).super, nil, precNone},
		scanner.TokenThis:         {(*parser).this, nil, precNone},
		scanner.TokenTrue:         {(*parser).literal, nil, precNone},
		scanner.TokenVar:          {nil, nil, precNone},
		scanner.TokenWhile:        {nil, nil, precNone},
		scanner.TokenError:        {nil, nil, precNone},
		scanner.TokenEOF:          {nil, nil, precNone},
	}
}

func getRule(t scanner.TokenType) parseRule {
	return rules[t]
}

// ---------------------------------------------------------------------------
// Compiler state
// ---------------------------------------------------------------------------

// functionType distinguishes the kinds of function bodies, which differ in
// slot-0 binding and return rules.
type functionType int

const (
	typeScript functionType = iota
	typeFunction
	typeMethod
	typeInitializer
)

// maxLocals bounds the per-function local array, including the reserved
// slot 0, to what a one-byte slot operand can address.
const maxLocals = 256

// maxUpvalues bounds per-function captures to a one-byte operand.
const maxUpvalues = 256

type local struct {
	name       scanner.Token
	depth      int // -1 while declared but not yet initialized
	isCaptured bool
}

type upvalue struct {
	index   byte
	isLocal bool
}

// funcCompiler tracks one function under construction. Nested function
// declarations chain through enclosing.
type funcCompiler struct {
	enclosing *funcCompiler
	function  *vm.Function
	typ       functionType

	locals     [maxLocals]local
	localCount int
	upvalues   [maxUpvalues]upvalue
	scopeDepth int
}

// classCompiler tracks the innermost class declaration, for this/super
// validation.
type classCompiler struct {
	enclosing     *classCompiler
	hasSuperclass bool
}

// parser is the combined parser and emitter state.
type parser struct {
	scanner  *scanner.Scanner
	current  scanner.Token
	previous scanner.Token

	hadError  bool
	panicMode bool

	heap   *vm.Heap
	errOut io.Writer
	opts   Options

	compiler     *funcCompiler
	currentClass *classCompiler
}

// markRoots marks every function on the compiler chain.
func (p *parser) markRoots(mark func(vm.Obj)) {
	for c := p.compiler; c != nil; c = c.enclosing {
		mark(c.function)
	}
}

// pushCompiler starts compiling a new function of the given type.
func (p *parser) pushCompiler(typ functionType) {
	c := &funcCompiler{
		enclosing: p.compiler,
		typ:       typ,
		function:  p.heap.NewFunction(),
	}
	p.compiler = c

	if typ != typeScript {
		c.function.Name = p.heap.CopyString(p.previous.Lexeme)
	}

	// Slot 0 is reserved: it holds the receiver in methods and
	// initializers, and is unnameable elsewhere.
	slotZero := &c.locals[c.localCount]
	c.localCount++
	slotZero.depth = 0
	if typ == typeMethod || typ == typeInitializer {
		slotZero.name = scanner.Token{Type: scanner.TokenThis, Lexeme: "this"}
	}
}

// endCompiler finishes the current function and pops back to the
// enclosing one.
func (p *parser) endCompiler() *vm.Function {
	p.emitReturn()
	fn := p.compiler.function

	if p.opts.PrintCode && !p.hadError {
		name := "<script>"
		if fn.Name != nil {
			name = fn.Name.Bytes
		}
		fmt.Fprint(p.opts.CodeOut, bytecode.DisassembleChunk(fn.Chunk, name))
	}

	p.compiler = p.compiler.enclosing
	return fn
}

func (p *parser) currentChunk() *bytecode.Chunk {
	return p.compiler.function.Chunk
}

// ---------------------------------------------------------------------------
// Token plumbing and error reporting
// ---------------------------------------------------------------------------

func (p *parser) advance() {
	p.previous = p.current
	for {
		p.current = p.scanner.NextToken()
		if p.current.Type != scanner.TokenError {
			break
		}
		p.errorAtCurrent(p.current.Lexeme)
	}
}

func (p *parser) consume(t scanner.TokenType, message string) {
	if p.current.Type == t {
		p.advance()
		return
	}
	p.errorAtCurrent(message)
}

func (p *parser) check(t scanner.TokenType) bool {
	return p.current.Type == t
}

func (p *parser) match(t scanner.TokenType) bool {
	if !p.check(t) {
		return false
	}
	p.advance()
	return true
}

func (p *parser) errorAtCurrent(message string) {
	p.errorAt(p.current, message)
}

func (p *parser) error(message string) {
	p.errorAt(p.previous, message)
}

// errorAt reports a compile error once per panic; further errors are
// suppressed until synchronize.
func (p *parser) errorAt(tok scanner.Token, message string) {
	if p.panicMode {
		return
	}
	p.panicMode = true

	fmt.Fprintf(p.errOut, "[line %d] Error", tok.Line)
	switch tok.Type {
	case scanner.TokenEOF:
		fmt.Fprint(p.errOut, " at end")
	case scanner.TokenError:
		// The lexeme is the scanner's message; no location text.
	default:
		fmt.Fprintf(p.errOut, " at '%s'", tok.Lexeme)
	}
	fmt.Fprintf(p.errOut, ": %s\n", message)

	p.hadError = true
}

// synchronize skips tokens to a likely statement boundary after a parse
// error.
func (p *parser) synchronize() {
	p.panicMode = false

	for p.current.Type != scanner.TokenEOF {
		if p.previous.Type == scanner.TokenSemicolon {
			return
		}
		switch p.current.Type {
		case scanner.TokenClass, scanner.TokenFun, scanner.TokenVar,
			scanner.TokenFor, scanner.TokenIf, scanner.TokenWhile,
			scanner.TokenPrint, scanner.TokenReturn:
			return
		}
		p.advance()
	}
}

// ---------------------------------------------------------------------------
// Emitter
// ---------------------------------------------------------------------------

func (p *parser) emitByte(b byte) {
	p.currentChunk().Write(b, p.previous.Line)
}

func (p *parser) emitOp(op bytecode.Opcode) {
	p.emitByte(byte(op))
}

func (p *parser) emitBytes(b1, b2 byte) {
	p.emitByte(b1)
	p.emitByte(b2)
}

func (p *parser) emitOps(op bytecode.Opcode, operand byte) {
	p.emitByte(byte(op))
	p.emitByte(operand)
}

// emitLoop emits a backward jump to loopStart.
func (p *parser) emitLoop(loopStart int) {
	p.emitOp(bytecode.OpLoop)

	offset := p.currentChunk().Count() - loopStart + 2
	if offset > math.MaxUint16 {
		p.error("Loop body too large.")
	}

	p.emitByte(byte(offset >> 8))
	p.emitByte(byte(offset))
}

// emitJump emits a forward jump with a placeholder offset and returns the
// placeholder's position for patchJump.
func (p *parser) emitJump(op bytecode.Opcode) int {
	p.emitOp(op)
	p.emitByte(0xFF)
	p.emitByte(0xFF)
	return p.currentChunk().Count() - 2
}

// patchJump back-fills a forward jump to land on the next instruction.
func (p *parser) patchJump(offset int) {
	// -2 adjusts for the offset bytes themselves.
	jump := p.currentChunk().Count() - offset - 2
	if jump > math.MaxUint16 {
		p.error("Too much code to jump over.")
	}
	p.currentChunk().PatchUint16(offset, uint16(jump))
}

// emitReturn emits the implicit return: the receiver from an initializer,
// nil elsewhere.
func (p *parser) emitReturn() {
	if p.compiler.typ == typeInitializer {
		p.emitOps(bytecode.OpGetLocal, 0)
	} else {
		p.emitOp(bytecode.OpNil)
	}
	p.emitOp(bytecode.OpReturn)
}

// makeConstant adds a value to the current constant pool. The value is
// pinned across the insertion so a collection cannot lose it before the
// pool references it.
func (p *parser) makeConstant(v vm.Value) byte {
	p.heap.PushTempRoot(v)
	idx := p.currentChunk().AddConstant(v)
	p.heap.PopTempRoot()

	if idx > math.MaxUint8 {
		p.error("Too many constants in one chunk.")
		return 0
	}
	return byte(idx)
}

func (p *parser) emitConstant(v vm.Value) {
	p.emitOps(bytecode.OpConstant, p.makeConstant(v))
}

// identifierConstant interns an identifier's name and stores it as a
// string constant.
func (p *parser) identifierConstant(name scanner.Token) byte {
	return p.makeConstant(bytecode.ObjValue(p.heap.CopyString(name.Lexeme)))
}

// ---------------------------------------------------------------------------
// Scope resolution
// ---------------------------------------------------------------------------

func (p *parser) beginScope() {
	p.compiler.scopeDepth++
}

// endScope pops the scope's locals, closing any that were captured.
func (p *parser) endScope() {
	c := p.compiler
	c.scopeDepth--

	for c.localCount > 0 && c.locals[c.localCount-1].depth > c.scopeDepth {
		if c.locals[c.localCount-1].isCaptured {
			p.emitOp(bytecode.OpCloseUpvalue)
		} else {
			p.emitOp(bytecode.OpPop)
		}
		c.localCount--
	}
}

// addLocal records a declared but uninitialized local.
func (p *parser) addLocal(name scanner.Token) {
	c := p.compiler
	if c.localCount == maxLocals {
		p.error("Too many local variables in function.")
		return
	}
	l := &c.locals[c.localCount]
	c.localCount++
	l.name = name
	l.depth = -1
	l.isCaptured = false
}

// declareVariable adds a local for the name in scope, rejecting
// redeclaration within the same scope. Globals are late-bound and skip
// this entirely.
func (p *parser) declareVariable() {
	c := p.compiler
	if c.scopeDepth == 0 {
		return
	}

	name := p.previous
	for i := c.localCount - 1; i >= 0; i-- {
		l := &c.locals[i]
		if l.depth != -1 && l.depth < c.scopeDepth {
			break
		}
		if l.name.Lexeme == name.Lexeme {
			p.error("Already a variable with this name in this scope.")
		}
	}

	p.addLocal(name)
}

// parseVariable consumes a variable name, declaring it in scope; for
// globals it returns the name's constant index.
func (p *parser) parseVariable(message string) byte {
	p.consume(scanner.TokenIdentifier, message)

	p.declareVariable()
	if p.compiler.scopeDepth > 0 {
		return 0
	}

	return p.identifierConstant(p.previous)
}

// markInitialized makes the most recent local resolvable, enabling
// recursion for function declarations.
func (p *parser) markInitialized() {
	c := p.compiler
	if c.scopeDepth == 0 {
		return
	}
	c.locals[c.localCount-1].depth = c.scopeDepth
}

// defineVariable emits the binding for a declared variable.
func (p *parser) defineVariable(global byte) {
	if p.compiler.scopeDepth > 0 {
		p.markInitialized()
		return
	}
	p.emitOps(bytecode.OpDefineGlobal, global)
}

// resolveLocal finds a name among a compiler's locals. Returns -1 when the
// name is not a local there.
func (p *parser) resolveLocal(c *funcCompiler, name scanner.Token) int {
	for i := c.localCount - 1; i >= 0; i-- {
		l := &c.locals[i]
		if l.name.Lexeme == name.Lexeme {
			if l.depth == -1 {
				p.error("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

// addUpvalue records a capture in c, deduplicating on (index, isLocal).
func (p *parser) addUpvalue(c *funcCompiler, index byte, isLocal bool) int {
	count := c.function.Upvalues

	for i := 0; i < count; i++ {
		uv := &c.upvalues[i]
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}

	if count == maxUpvalues {
		p.error("Too many closure variables in function.")
		return 0
	}

	c.upvalues[count] = upvalue{index: index, isLocal: isLocal}
	c.function.Upvalues++
	return count
}

// resolveUpvalue resolves a name through enclosing functions, threading a
// chain of upvalues down to the current one. Returns -1 for globals.
func (p *parser) resolveUpvalue(c *funcCompiler, name scanner.Token) int {
	if c.enclosing == nil {
		return -1
	}

	if localIdx := p.resolveLocal(c.enclosing, name); localIdx != -1 {
		c.enclosing.locals[localIdx].isCaptured = true
		return p.addUpvalue(c, byte(localIdx), true)
	}

	if upIdx := p.resolveUpvalue(c.enclosing, name); upIdx != -1 {
		return p.addUpvalue(c, byte(upIdx), false)
	}

	return -1
}

// namedVariable emits the get or set form for a resolved name.
func (p *parser) namedVariable(name scanner.Token, canAssign bool) {
	var getOp, setOp bytecode.Opcode
	var arg int

	if arg = p.resolveLocal(p.compiler, name); arg != -1 {
		getOp, setOp = bytecode.OpGetLocal, bytecode.OpSetLocal
	} else if arg = p.resolveUpvalue(p.compiler, name); arg != -1 {
		getOp, setOp = bytecode.OpGetUpvalue, bytecode.OpSetUpvalue
	} else {
		arg = int(p.identifierConstant(name))
		getOp, setOp = bytecode.OpGetGlobal, bytecode.OpSetGlobal
	}

	if canAssign && p.match(scanner.TokenEqual) {
		p.expression()
		p.emitOps(setOp, byte(arg))
	} else {
		p.emitOps(getOp, byte(arg))
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// parsePrecedence parses any expression at or above the given precedence.
func (p *parser) parsePrecedence(prec precedence) {
	p.advance()
	prefix := getRule(p.previous.Type).prefix
	if prefix == nil {
		p.error("Expect expression.")
		return
	}

	canAssign := prec <= precAssignment
	prefix(p, canAssign)

	for prec <= getRule(p.current.Type).prec {
		p.advance()
		infix := getRule(p.previous.Type).infix
		infix(p, canAssign)
	}

	if canAssign && p.match(scanner.TokenEqual) {
		p.error("Invalid assignment target.")
	}
}

func (p *parser) expression() {
	p.parsePrecedence(precAssignment)
}

func (p *parser) grouping(canAssign bool) {
	p.expression()
	p.consume(scanner.TokenRightParen, "Expect ')' after expression.")
}

func (p *parser) number(canAssign bool) {
	f, _ := strconv.ParseFloat(p.previous.Lexeme, 64)
	p.emitConstant(bytecode.NumberValue(f))
}

func (p *parser) stringLiteral(canAssign bool) {
	// Trim the surrounding quotes.
	text := p.previous.Lexeme[1 : len(p.previous.Lexeme)-1]
	p.emitConstant(bytecode.ObjValue(p.heap.CopyString(text)))
}

func (p *parser) literal(canAssign bool) {
	switch p.previous.Type {
	case scanner.TokenFalse:
		p.emitOp(bytecode.OpFalse)
	case scanner.TokenTrue:
		p.emitOp(bytecode.OpTrue)
	case scanner.TokenNil:
		p.emitOp(bytecode.OpNil)
	}
}

func (p *parser) variable(canAssign bool) {
	p.namedVariable(p.previous, canAssign)
}

func (p *parser) unary(canAssign bool) {
	op := p.previous.Type
	p.parsePrecedence(precUnary)

	switch op {
	case scanner.TokenBang:
		p.emitOp(bytecode.OpNot)
	case scanner.TokenMinus:
		p.emitOp(bytecode.OpNegate)
	}
}

func (p *parser) binary(canAssign bool) {
	op := p.previous.Type
	rule := getRule(op)
	p.parsePrecedence(rule.prec + 1)

	switch op {
	case scanner.TokenBangEqual:
		p.emitOp(bytecode.OpEqual)
		p.emitOp(bytecode.OpNot)
	case scanner.TokenEqualEqual:
		p.emitOp(bytecode.OpEqual)
	case scanner.TokenGreater:
		p.emitOp(bytecode.OpGreater)
	case scanner.TokenGreaterEqual:
		p.emitOp(bytecode.OpLess)
		p.emitOp(bytecode.OpNot)
	case scanner.TokenLess:
		p.emitOp(bytecode.OpLess)
	case scanner.TokenLessEqual:
		p.emitOp(bytecode.OpGreater)
		p.emitOp(bytecode.OpNot)
	case scanner.TokenPlus:
		p.emitOp(bytecode.OpAdd)
	case scanner.TokenMinus:
		p.emitOp(bytecode.OpSubtract)
	case scanner.TokenStar:
		p.emitOp(bytecode.OpMultiply)
	case scanner.TokenSlash:
		p.emitOp(bytecode.OpDivide)
	}
}

// and short-circuits: the right operand only evaluates when the left is
// truthy.
func (p *parser) and(canAssign bool) {
	endJump := p.emitJump(bytecode.OpJumpIfFalse)

	p.emitOp(bytecode.OpPop)
	p.parsePrecedence(precAnd)

	p.patchJump(endJump)
}

// or short-circuits through a falsey-jump over an unconditional jump.
func (p *parser) or(canAssign bool) {
	elseJump := p.emitJump(bytecode.OpJumpIfFalse)
	endJump := p.emitJump(bytecode.OpJump)

	p.patchJump(elseJump)
	p.emitOp(bytecode.OpPop)

	p.parsePrecedence(precOr)
	p.patchJump(endJump)
}

// call compiles a postfix argument list.
func (p *parser) call(canAssign bool) {
	argCount := p.argumentList()
	p.emitOps(bytecode.OpCall, argCount)
}

// dot compiles property access, assignment, or a fused method invocation.
func (p *parser) dot(canAssign bool) {
	p.consume(scanner.TokenIdentifier, "Expect property name after '.'.")
	name := p.identifierConstant(p.previous)

	if canAssign && p.match(scanner.TokenEqual) {
		p.expression()
		p.emitOps(bytecode.OpSetProperty, name)
	} else if p.match(scanner.TokenLeftParen) {
		argCount := p.argumentList()
		p.emitOps(bytecode.OpInvoke, name)
		p.emitByte(argCount)
	} else {
		p.emitOps(bytecode.OpGetProperty, name)
	}
}

func (p *parser) argumentList() byte {
	var argCount byte
	if !p.check(scanner.TokenRightParen) {
		for {
			p.expression()
			if argCount == 255 {
				p.error("Can't have more than 255 arguments.")
			}
			argCount++
			if !p.match(scanner.TokenComma) {
				break
			}
		}
	}
	p.consume(scanner.TokenRightParen, "Expect ')' after arguments.")
	return argCount
}

// this compiles the receiver read; slot 0 of methods holds it.
func (p *parser) this(canAssign bool) {
	if p.currentClass == nil {
		p.error("Can't use 'this' outside of a class.")
		return
	}
	p.variable(false)
}

// super compiles super.name access or the fused super.name(args) call.
func (p *parser) super(canAssign bool) {
	if p.currentClass == nil {
		p.error("Can't use 'super' outside of a class.")
	} else if !p.currentClass.hasSuperclass {
		p.error("Can't use 'super' in a class with no superclass.")
	}

	p.consume(scanner.TokenDot, "Expect '.' after 'super'.")
	p.consume(scanner.TokenIdentifier, "Expect superclass method name.")
	name := p.identifierConstant(p.previous)

	p.namedVariable(syntheticToken("this"), false)
	if p.match(scanner.TokenLeftParen) {
		argCount := p.argumentList()
		p.namedVariable(syntheticToken("super"), false)
		p.emitOps(bytecode.OpSuperInvoke, name)
		p.emitByte(argCount)
	} else {
		p.namedVariable(syntheticToken("super"), false)
		p.emitOps(bytecode.OpGetSuper, name)
	}
}

func syntheticToken(text string) scanner.Token {
	return scanner.Token{Type: scanner.TokenIdentifier, Lexeme: text}
}

// ---------------------------------------------------------------------------
// Declarations and statements
// ---------------------------------------------------------------------------

func (p *parser) declaration() {
	switch {
	case p.match(scanner.TokenClass):
		p.classDeclaration()
	case p.match(scanner.TokenFun):
		p.funDeclaration()
	case p.match(scanner.TokenVar):
		p.varDeclaration()
	default:
		p.statement()
	}

	if p.panicMode {
		p.synchronize()
	}
}

func (p *parser) varDeclaration() {
	global := p.parseVariable("Expect variable name.")

	if p.match(scanner.TokenEqual) {
		p.expression()
	} else {
		p.emitOp(bytecode.OpNil)
	}
	p.consume(scanner.TokenSemicolon, "Expect ';' after variable declaration.")

	p.defineVariable(global)
}

func (p *parser) funDeclaration() {
	global := p.parseVariable("Expect function name.")
	// Initialized up front so the body can refer to itself.
	p.markInitialized()
	p.function(typeFunction)
	p.defineVariable(global)
}

// function compiles a parameter list and body into a new function object,
// then emits the closure wrapper with its upvalue descriptors.
func (p *parser) function(typ functionType) {
	p.pushCompiler(typ)
	p.beginScope()

	p.consume(scanner.TokenLeftParen, "Expect '(' after function name.")
	if !p.check(scanner.TokenRightParen) {
		for {
			if p.compiler.function.Arity == 255 {
				p.errorAtCurrent("Can't have more than 255 parameters.")
			}
			p.compiler.function.Arity++
			param := p.parseVariable("Expect parameter name.")
			p.defineVariable(param)
			if !p.match(scanner.TokenComma) {
				break
			}
		}
	}
	p.consume(scanner.TokenRightParen, "Expect ')' after parameters.")

	p.consume(scanner.TokenLeftBrace, "Expect '{' before function body.")
	p.block()

	// No endScope: the frame unwind discards everything.
	upvalues := p.compiler.upvalues
	fn := p.endCompiler()

	p.emitOps(bytecode.OpClosure, p.makeConstant(bytecode.ObjValue(fn)))
	for i := 0; i < fn.Upvalues; i++ {
		if upvalues[i].isLocal {
			p.emitByte(1)
		} else {
			p.emitByte(0)
		}
		p.emitByte(upvalues[i].index)
	}
}

func (p *parser) classDeclaration() {
	p.consume(scanner.TokenIdentifier, "Expect class name.")
	className := p.previous
	nameConstant := p.identifierConstant(p.previous)
	p.declareVariable()

	p.emitOps(bytecode.OpClass, nameConstant)
	p.defineVariable(nameConstant)

	cc := &classCompiler{enclosing: p.currentClass}
	p.currentClass = cc

	if p.match(scanner.TokenLess) {
		p.consume(scanner.TokenIdentifier, "Expect superclass name.")
		p.variable(false)

		if className.Lexeme == p.previous.Lexeme {
			p.error("A class can't inherit from itself.")
		}

		// The superclass lives in a scope of its own as the "super" local,
		// captured by every method closure that needs it.
		p.beginScope()
		p.addLocal(syntheticToken("super"))
		p.defineVariable(0)

		p.namedVariable(className, false)
		p.emitOp(bytecode.OpInherit)
		cc.hasSuperclass = true
	}

	p.namedVariable(className, false)
	p.consume(scanner.TokenLeftBrace, "Expect '{' before class body.")
	for !p.check(scanner.TokenRightBrace) && !p.check(scanner.TokenEOF) {
		p.method()
	}
	p.consume(scanner.TokenRightBrace, "Expect '}' after class body.")
	p.emitOp(bytecode.OpPop)

	if cc.hasSuperclass {
		p.endScope()
	}

	p.currentClass = cc.enclosing
}

func (p *parser) method() {
	p.consume(scanner.TokenIdentifier, "Expect method name.")
	name := p.identifierConstant(p.previous)

	typ := typeMethod
	if p.previous.Lexeme == "init" {
		typ = typeInitializer
	}
	p.function(typ)

	p.emitOps(bytecode.OpMethod, name)
}

func (p *parser) statement() {
	switch {
	case p.match(scanner.TokenPrint):
		p.printStatement()
	case p.match(scanner.TokenFor):
		p.forStatement()
	case p.match(scanner.TokenIf):
		p.ifStatement()
	case p.match(scanner.TokenReturn):
		p.returnStatement()
	case p.match(scanner.TokenWhile):
		p.whileStatement()
	case p.match(scanner.TokenLeftBrace):
		p.beginScope()
		p.block()
		p.endScope()
	default:
		p.expressionStatement()
	}
}

func (p *parser) block() {
	for !p.check(scanner.TokenRightBrace) && !p.check(scanner.TokenEOF) {
		p.declaration()
	}
	p.consume(scanner.TokenRightBrace, "Expect '}' after block.")
}

func (p *parser) printStatement() {
	p.expression()
	p.consume(scanner.TokenSemicolon, "Expect ';' after value.")
	p.emitOp(bytecode.OpPrint)
}

func (p *parser) expressionStatement() {
	p.expression()
	p.consume(scanner.TokenSemicolon, "Expect ';' after expression.")
	p.emitOp(bytecode.OpPop)
}

func (p *parser) ifStatement() {
	p.consume(scanner.TokenLeftParen, "Expect '(' after 'if'.")
	p.expression()
	p.consume(scanner.TokenRightParen, "Expect ')' after condition.")

	thenJump := p.emitJump(bytecode.OpJumpIfFalse)
	p.emitOp(bytecode.OpPop)
	p.statement()

	elseJump := p.emitJump(bytecode.OpJump)

	p.patchJump(thenJump)
	p.emitOp(bytecode.OpPop)

	if p.match(scanner.TokenElse) {
		p.statement()
	}
	p.patchJump(elseJump)
}

func (p *parser) returnStatement() {
	if p.compiler.typ == typeScript {
		p.error("Can't return from top-level code.")
	}

	if p.match(scanner.TokenSemicolon) {
		p.emitReturn()
		return
	}

	if p.compiler.typ == typeInitializer {
		p.error("Can't return a value from an initializer.")
	}
	p.expression()
	p.consume(scanner.TokenSemicolon, "Expect ';' after return value.")
	p.emitOp(bytecode.OpReturn)
}

func (p *parser) whileStatement() {
	loopStart := p.currentChunk().Count()
	p.consume(scanner.TokenLeftParen, "Expect '(' after 'while'.")
	p.expression()
	p.consume(scanner.TokenRightParen, "Expect ')' after condition.")

	exitJump := p.emitJump(bytecode.OpJumpIfFalse)
	p.emitOp(bytecode.OpPop)
	p.statement()
	p.emitLoop(loopStart)

	p.patchJump(exitJump)
	p.emitOp(bytecode.OpPop)
}

// forStatement desugars for(init; cond; step) into nested jumps: the body
// loops back through the increment clause when one exists.
func (p *parser) forStatement() {
	p.beginScope()
	p.consume(scanner.TokenLeftParen, "Expect '(' after 'for'.")

	// Initializer clause
	switch {
	case p.match(scanner.TokenSemicolon):
		// No initializer.
	case p.match(scanner.TokenVar):
		p.varDeclaration()
	default:
		p.expressionStatement()
	}

	loopStart := p.currentChunk().Count()

	// Condition clause
	exitJump := -1
	if !p.match(scanner.TokenSemicolon) {
		p.expression()
		p.consume(scanner.TokenSemicolon, "Expect ';' after loop condition.")

		exitJump = p.emitJump(bytecode.OpJumpIfFalse)
		p.emitOp(bytecode.OpPop)
	}

	// Increment clause runs after the body: jump over it now, loop back
	// through it at the bottom.
	if !p.match(scanner.TokenRightParen) {
		bodyJump := p.emitJump(bytecode.OpJump)
		incrementStart := p.currentChunk().Count()
		p.expression()
		p.emitOp(bytecode.OpPop)
		p.consume(scanner.TokenRightParen, "Expect ')' after for clauses.")

		p.emitLoop(loopStart)
		loopStart = incrementStart
		p.patchJump(bodyJump)
	}

	p.statement()
	p.emitLoop(loopStart)

	if exitJump != -1 {
		p.patchJump(exitJump)
		p.emitOp(bytecode.OpPop)
	}

	p.endScope()
}
