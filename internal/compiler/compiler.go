// Package compiler turns source text into bytecode in a single pass: a Pratt
// parser emits instructions directly into the chunk of the function being
// compiled, with no syntax tree in between.
package compiler

import (
	"strconv"

	"fortio.org/safecast"

	"loxvm/internal/heap"
	"loxvm/internal/ir"
	"loxvm/internal/lexer"
	"loxvm/internal/token"
	"loxvm/internal/value"
)

const (
	maxLocals   = 256
	maxUpvalues = 256
	maxArgs     = 255
)

type functionKind int

const (
	kindFunction functionKind = iota
	kindInitializer
	kindMethod
	kindScript
)

type local struct {
	name string
	// depth is -1 between declaration and the end of the initializer.
	depth      int
	isCaptured bool
}

type upvalueRef struct {
	index   uint8
	isLocal bool
}

// funcState is the per-function compilation state. States form a chain
// through enclosing while nested function bodies are compiled.
type funcState struct {
	enclosing  *funcState
	function   *value.Function
	kind       functionKind
	locals     []local
	upvalues   []upvalueRef
	scopeDepth int
}

type classState struct {
	enclosing     *classState
	hasSuperclass bool
}

type compiler struct {
	l *lexer.Lexer
	h *heap.Heap

	prev token.Token
	cur  token.Token

	hadError  bool
	panicMode bool
	diags     []Diagnostic

	fs *funcState
	cs *classState
}

// Compile compiles source into a top-level script function allocated on h.
// On failure it returns a *Error listing every diagnostic and no function.
// The result is not rooted; the caller must root it before allocating again.
func Compile(h *heap.Heap, source string) (*value.Function, error) {
	c := &compiler{
		l: lexer.New(source),
		h: h,
	}
	remove := h.AddRoots(c)
	defer remove()

	c.beginFunction(kindScript, "")
	c.advance()
	for !c.match(token.EOF) {
		c.declaration()
	}
	fn, _ := c.endFunction()

	if c.hadError {
		return nil, &Error{Diagnostics: c.diags}
	}
	return fn, nil
}

// MarkRoots keeps every function still being compiled alive.
func (c *compiler) MarkRoots(h *heap.Heap) {
	for fs := c.fs; fs != nil; fs = fs.enclosing {
		h.MarkObject(fs.function)
	}
}

// ---------- Tokens and errors ----------

func (c *compiler) advance() {
	c.prev = c.cur
	for {
		c.cur = c.l.NextToken()
		if c.cur.Kind != token.Illegal {
			break
		}
		c.errorAtCurrent(c.cur.Lexeme)
	}
}

func (c *compiler) consume(kind token.Kind, msg string) {
	if c.cur.Kind == kind {
		c.advance()
		return
	}
	c.errorAtCurrent(msg)
}

func (c *compiler) check(kind token.Kind) bool {
	return c.cur.Kind == kind
}

func (c *compiler) match(kind token.Kind) bool {
	if !c.check(kind) {
		return false
	}
	c.advance()
	return true
}

func (c *compiler) error(msg string) {
	c.errorAt(c.prev, msg)
}

func (c *compiler) errorAtCurrent(msg string) {
	c.errorAt(c.cur, msg)
}

// errorAt records a diagnostic unless the compiler is already recovering
// from an earlier one in the same statement.
func (c *compiler) errorAt(tok token.Token, msg string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	c.hadError = true

	d := Diagnostic{Line: tok.Pos.Line, Message: msg}
	switch tok.Kind {
	case token.EOF:
		d.Where = " at end"
	case token.Illegal:
	default:
		d.Where = " at '" + tok.Lexeme + "'"
	}
	c.diags = append(c.diags, d)
}

// synchronize skips to a likely statement boundary.
func (c *compiler) synchronize() {
	c.panicMode = false
	for c.cur.Kind != token.EOF {
		if c.prev.Kind == token.Semicolon {
			return
		}
		switch c.cur.Kind {
		case token.Class, token.Fun, token.Var, token.For,
			token.If, token.While, token.Print, token.Return:
			return
		}
		c.advance()
	}
}

// ---------- Emitting ----------

func (c *compiler) chunk() *value.Chunk {
	return &c.fs.function.Chunk
}

func (c *compiler) emitByte(b byte) {
	c.chunk().Write(b, c.prev.Pos.Line)
}

func (c *compiler) emitOp(op ir.OpCode, operands ...byte) {
	c.emitByte(byte(op))
	for _, b := range operands {
		c.emitByte(b)
	}
}

func (c *compiler) emitLoop(loopStart int) {
	c.emitOp(ir.OpLoop)
	offset, err := safecast.Conv[uint16](c.chunk().Count() - loopStart + 2)
	if err != nil {
		c.error("Loop body too large.")
	}
	c.emitByte(byte(offset >> 8))
	c.emitByte(byte(offset))
}

// emitJump writes op with a placeholder offset and returns the operand's
// position for patchJump.
func (c *compiler) emitJump(op ir.OpCode) int {
	c.emitOp(op, 0xff, 0xff)
	return c.chunk().Count() - 2
}

func (c *compiler) patchJump(at int) {
	jump, err := safecast.Conv[uint16](c.chunk().Count() - at - 2)
	if err != nil {
		c.error("Too much code to jump over.")
	}
	code := c.chunk().Code
	code[at] = byte(jump >> 8)
	code[at+1] = byte(jump)
}

func (c *compiler) emitReturn() {
	if c.fs.kind == kindInitializer {
		c.emitOp(ir.OpGetLocal, 0)
	} else {
		c.emitOp(ir.OpNil)
	}
	c.emitOp(ir.OpReturn)
}

func (c *compiler) makeConstant(v value.Value) byte {
	idx, err := safecast.Conv[uint8](c.chunk().AddConstant(v))
	if err != nil {
		c.error("Too many constants in one chunk.")
		return 0
	}
	return idx
}

func (c *compiler) emitConstant(v value.Value) {
	c.emitOp(ir.OpConstant, c.makeConstant(v))
}

// identifierConstant returns the constant slot holding name, reusing an
// existing slot when the chunk already has one.
func (c *compiler) identifierConstant(name string) byte {
	s := c.h.CopyString(name)
	for i, k := range c.chunk().Constants {
		if i >= value.MaxConstants {
			break
		}
		if k.IsString() && k.AsString() == s {
			return byte(i)
		}
	}
	return c.makeConstant(value.FromObj(s))
}

// ---------- Functions and scopes ----------

func (c *compiler) beginFunction(kind functionKind, name string) {
	fs := &funcState{
		enclosing: c.fs,
		function:  c.h.NewFunction(),
		kind:      kind,
	}
	c.fs = fs
	if kind != kindScript {
		fs.function.Name = c.h.CopyString(name)
	}

	// Slot zero holds the callee, or the receiver inside methods.
	slotZero := ""
	if kind != kindFunction {
		slotZero = "this"
	}
	fs.locals = append(fs.locals, local{name: slotZero})
}

func (c *compiler) endFunction() (*value.Function, []upvalueRef) {
	c.emitReturn()
	fs := c.fs
	c.fs = fs.enclosing
	return fs.function, fs.upvalues
}

func (c *compiler) beginScope() {
	c.fs.scopeDepth++
}

func (c *compiler) endScope() {
	fs := c.fs
	fs.scopeDepth--
	for len(fs.locals) > 0 && fs.locals[len(fs.locals)-1].depth > fs.scopeDepth {
		if fs.locals[len(fs.locals)-1].isCaptured {
			c.emitOp(ir.OpCloseUpvalue)
		} else {
			c.emitOp(ir.OpPop)
		}
		fs.locals = fs.locals[:len(fs.locals)-1]
	}
}

func (c *compiler) addLocal(name string) {
	if len(c.fs.locals) == maxLocals {
		c.error("Too many local variables in function.")
		return
	}
	c.fs.locals = append(c.fs.locals, local{name: name, depth: -1})
}

// resolveLocal skips a local that is still being initialized, so
// `var a = a + 1;` in a block reads the enclosing a.
func (c *compiler) resolveLocal(fs *funcState, name string) int {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].name == name && fs.locals[i].depth != -1 {
			return i
		}
	}
	return -1
}

func (c *compiler) addUpvalue(fs *funcState, index uint8, isLocal bool) int {
	for i, u := range fs.upvalues {
		if u.index == index && u.isLocal == isLocal {
			return i
		}
	}
	if len(fs.upvalues) == maxUpvalues {
		c.error("Too many closure variables in function.")
		return 0
	}
	fs.upvalues = append(fs.upvalues, upvalueRef{index: index, isLocal: isLocal})
	fs.function.UpvalueCount = len(fs.upvalues)
	return len(fs.upvalues) - 1
}

func (c *compiler) resolveUpvalue(fs *funcState, name string) int {
	if fs.enclosing == nil {
		return -1
	}
	if slot := c.resolveLocal(fs.enclosing, name); slot != -1 {
		fs.enclosing.locals[slot].isCaptured = true
		return c.addUpvalue(fs, uint8(slot), true)
	}
	if up := c.resolveUpvalue(fs.enclosing, name); up != -1 {
		return c.addUpvalue(fs, uint8(up), false)
	}
	return -1
}

func (c *compiler) declareVariable() {
	fs := c.fs
	if fs.scopeDepth == 0 {
		return
	}
	name := c.prev.Lexeme
	for i := len(fs.locals) - 1; i >= 0; i-- {
		l := fs.locals[i]
		if l.depth != -1 && l.depth < fs.scopeDepth {
			break
		}
		if l.name == name {
			c.error("Already a variable with this name in this scope.")
		}
	}
	c.addLocal(name)
}

func (c *compiler) parseVariable(msg string) byte {
	c.consume(token.Ident, msg)
	c.declareVariable()
	if c.fs.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.prev.Lexeme)
}

func (c *compiler) markInitialized() {
	fs := c.fs
	if fs.scopeDepth == 0 {
		return
	}
	fs.locals[len(fs.locals)-1].depth = fs.scopeDepth
}

func (c *compiler) defineVariable(global byte) {
	if c.fs.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitOp(ir.OpDefineGlobal, global)
}

// ---------- Declarations ----------

func (c *compiler) declaration() {
	switch {
	case c.match(token.Class):
		c.classDeclaration()
	case c.match(token.Fun):
		c.funDeclaration()
	case c.match(token.Var):
		c.varDeclaration()
	default:
		c.statement()
	}
	if c.panicMode {
		c.synchronize()
	}
}

func (c *compiler) classDeclaration() {
	c.consume(token.Ident, "Expect class name.")
	className := c.prev
	nameConstant := c.identifierConstant(className.Lexeme)
	c.declareVariable()

	c.emitOp(ir.OpClass, nameConstant)
	c.defineVariable(nameConstant)

	cs := &classState{enclosing: c.cs}
	c.cs = cs

	if c.match(token.Lt) {
		c.consume(token.Ident, "Expect superclass name.")
		c.variable(false)
		if className.Lexeme == c.prev.Lexeme {
			c.error("A class can't inherit from itself.")
		}

		c.beginScope()
		c.addLocal("super")
		c.defineVariable(0)

		c.namedVariable(className.Lexeme, false)
		c.emitOp(ir.OpInherit)
		cs.hasSuperclass = true
	}

	c.namedVariable(className.Lexeme, false)
	c.consume(token.LBrace, "Expect '{' before class body.")
	for !c.check(token.RBrace) && !c.check(token.EOF) {
		c.method()
	}
	c.consume(token.RBrace, "Expect '}' after class body.")
	c.emitOp(ir.OpPop)

	if cs.hasSuperclass {
		c.endScope()
	}
	c.cs = cs.enclosing
}

func (c *compiler) method() {
	c.consume(token.Ident, "Expect method name.")
	constant := c.identifierConstant(c.prev.Lexeme)
	kind := kindMethod
	if c.prev.Lexeme == "init" {
		kind = kindInitializer
	}
	c.function(kind)
	c.emitOp(ir.OpMethod, constant)
}

func (c *compiler) funDeclaration() {
	global := c.parseVariable("Expect function name.")
	c.markInitialized()
	c.function(kindFunction)
	c.defineVariable(global)
}

// function compiles a parameter list and body into a new function and emits
// the closure instruction that creates it at runtime.
func (c *compiler) function(kind functionKind) {
	c.beginFunction(kind, c.prev.Lexeme)
	c.beginScope()

	c.consume(token.LParen, "Expect '(' after function name.")
	if !c.check(token.RParen) {
		for {
			c.fs.function.Arity++
			if c.fs.function.Arity > maxArgs {
				c.errorAtCurrent("Can't have more than 255 parameters.")
			}
			constant := c.parseVariable("Expect parameter name.")
			c.defineVariable(constant)
			if !c.match(token.Comma) {
				break
			}
		}
	}
	c.consume(token.RParen, "Expect ')' after parameters.")
	c.consume(token.LBrace, "Expect '{' before function body.")
	c.block()

	fn, upvalues := c.endFunction()
	c.emitOp(ir.OpClosure, c.makeConstant(value.FromObj(fn)))
	for _, u := range upvalues {
		isLocal := byte(0)
		if u.isLocal {
			isLocal = 1
		}
		c.emitByte(isLocal)
		c.emitByte(u.index)
	}
}

func (c *compiler) varDeclaration() {
	global := c.parseVariable("Expect variable name.")
	if c.match(token.Assign) {
		c.expression()
	} else {
		c.emitOp(ir.OpNil)
	}
	c.consume(token.Semicolon, "Expect ';' after variable declaration.")
	c.defineVariable(global)
}

// ---------- Statements ----------

func (c *compiler) statement() {
	switch {
	case c.match(token.Print):
		c.printStatement()
	case c.match(token.For):
		c.forStatement()
	case c.match(token.If):
		c.ifStatement()
	case c.match(token.Return):
		c.returnStatement()
	case c.match(token.While):
		c.whileStatement()
	case c.match(token.LBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *compiler) block() {
	for !c.check(token.RBrace) && !c.check(token.EOF) {
		c.declaration()
	}
	c.consume(token.RBrace, "Expect '}' after block.")
}

func (c *compiler) printStatement() {
	c.expression()
	c.consume(token.Semicolon, "Expect ';' after value.")
	c.emitOp(ir.OpPrint)
}

func (c *compiler) expressionStatement() {
	c.expression()
	c.consume(token.Semicolon, "Expect ';' after expression.")
	c.emitOp(ir.OpPop)
}

func (c *compiler) returnStatement() {
	if c.fs.kind == kindScript {
		c.error("Can't return from top-level code.")
	}
	if c.match(token.Semicolon) {
		c.emitReturn()
		return
	}
	if c.fs.kind == kindInitializer {
		c.error("Can't return a value from an initializer.")
	}
	c.expression()
	c.consume(token.Semicolon, "Expect ';' after return value.")
	c.emitOp(ir.OpReturn)
}

func (c *compiler) ifStatement() {
	c.consume(token.LParen, "Expect '(' after 'if'.")
	c.expression()
	c.consume(token.RParen, "Expect ')' after condition.")

	thenJump := c.emitJump(ir.OpJumpIfFalse)
	c.emitOp(ir.OpPop)
	c.statement()
	elseJump := c.emitJump(ir.OpJump)

	c.patchJump(thenJump)
	c.emitOp(ir.OpPop)
	if c.match(token.Else) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *compiler) whileStatement() {
	loopStart := c.chunk().Count()
	c.consume(token.LParen, "Expect '(' after 'while'.")
	c.expression()
	c.consume(token.RParen, "Expect ')' after condition.")

	exitJump := c.emitJump(ir.OpJumpIfFalse)
	c.emitOp(ir.OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(ir.OpPop)
}

func (c *compiler) forStatement() {
	c.beginScope()
	c.consume(token.LParen, "Expect '(' after 'for'.")
	switch {
	case c.match(token.Semicolon):
	case c.match(token.Var):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := c.chunk().Count()
	exitJump := -1
	if !c.match(token.Semicolon) {
		c.expression()
		c.consume(token.Semicolon, "Expect ';' after loop condition.")
		exitJump = c.emitJump(ir.OpJumpIfFalse)
		c.emitOp(ir.OpPop)
	}

	if !c.match(token.RParen) {
		bodyJump := c.emitJump(ir.OpJump)
		incrementStart := c.chunk().Count()
		c.expression()
		c.emitOp(ir.OpPop)
		c.consume(token.RParen, "Expect ')' after for clauses.")

		c.emitLoop(loopStart)
		loopStart = incrementStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(ir.OpPop)
	}
	c.endScope()
}

// ---------- Expressions ----------

func (c *compiler) expression() {
	c.parsePrecedence(precAssignment)
}

func (c *compiler) parsePrecedence(prec precedence) {
	c.advance()
	prefix := getRule(c.prev.Kind).prefix
	if prefix == nil {
		c.error("Expect expression.")
		return
	}

	canAssign := prec <= precAssignment
	prefix(c, canAssign)

	for prec <= getRule(c.cur.Kind).prec {
		c.advance()
		getRule(c.prev.Kind).infix(c, canAssign)
	}

	if canAssign && c.match(token.Assign) {
		c.error("Invalid assignment target.")
	}
}

func (c *compiler) number(bool) {
	n, err := strconv.ParseFloat(c.prev.Lexeme, 64)
	if err != nil {
		c.error("Invalid number literal.")
		return
	}
	c.emitConstant(value.Number(n))
}

func (c *compiler) stringLiteral(bool) {
	lit := c.prev.Lexeme
	s := c.h.CopyString(lit[1 : len(lit)-1])
	c.emitConstant(value.FromObj(s))
}

func (c *compiler) literal(bool) {
	switch c.prev.Kind {
	case token.False:
		c.emitOp(ir.OpFalse)
	case token.Nil:
		c.emitOp(ir.OpNil)
	case token.True:
		c.emitOp(ir.OpTrue)
	}
}

func (c *compiler) grouping(bool) {
	c.expression()
	c.consume(token.RParen, "Expect ')' after expression.")
}

func (c *compiler) unary(bool) {
	op := c.prev.Kind
	c.parsePrecedence(precUnary)
	switch op {
	case token.Bang:
		c.emitOp(ir.OpNot)
	case token.Minus:
		c.emitOp(ir.OpNegate)
	}
}

func (c *compiler) binary(bool) {
	op := c.prev.Kind
	c.parsePrecedence(getRule(op).prec + 1)

	switch op {
	case token.NotEq:
		c.emitOp(ir.OpEqual)
		c.emitOp(ir.OpNot)
	case token.Eq:
		c.emitOp(ir.OpEqual)
	case token.Gt:
		c.emitOp(ir.OpGreater)
	case token.GtEq:
		c.emitOp(ir.OpLess)
		c.emitOp(ir.OpNot)
	case token.Lt:
		c.emitOp(ir.OpLess)
	case token.LtEq:
		c.emitOp(ir.OpGreater)
		c.emitOp(ir.OpNot)
	case token.Plus:
		c.emitOp(ir.OpAdd)
	case token.Minus:
		c.emitOp(ir.OpSubtract)
	case token.Star:
		c.emitOp(ir.OpMultiply)
	case token.Slash:
		c.emitOp(ir.OpDivide)
	}
}

func (c *compiler) and(bool) {
	endJump := c.emitJump(ir.OpJumpIfFalse)
	c.emitOp(ir.OpPop)
	c.parsePrecedence(precAnd)
	c.patchJump(endJump)
}

func (c *compiler) or(bool) {
	elseJump := c.emitJump(ir.OpJumpIfFalse)
	endJump := c.emitJump(ir.OpJump)
	c.patchJump(elseJump)
	c.emitOp(ir.OpPop)
	c.parsePrecedence(precOr)
	c.patchJump(endJump)
}

func (c *compiler) argumentList() byte {
	count := 0
	if !c.check(token.RParen) {
		for {
			c.expression()
			if count == maxArgs {
				c.error("Can't have more than 255 arguments.")
			}
			count++
			if !c.match(token.Comma) {
				break
			}
		}
	}
	c.consume(token.RParen, "Expect ')' after arguments.")
	n, err := safecast.Conv[uint8](count)
	if err != nil {
		return maxArgs
	}
	return n
}

func (c *compiler) call(bool) {
	c.emitOp(ir.OpCall, c.argumentList())
}

func (c *compiler) dot(canAssign bool) {
	c.consume(token.Ident, "Expect property name after '.'.")
	name := c.identifierConstant(c.prev.Lexeme)

	switch {
	case canAssign && c.match(token.Assign):
		c.expression()
		c.emitOp(ir.OpSetProperty, name)
	case c.match(token.LParen):
		argCount := c.argumentList()
		c.emitOp(ir.OpInvoke, name, argCount)
	default:
		c.emitOp(ir.OpGetProperty, name)
	}
}

func (c *compiler) variable(canAssign bool) {
	c.namedVariable(c.prev.Lexeme, canAssign)
}

func (c *compiler) namedVariable(name string, canAssign bool) {
	var getOp, setOp ir.OpCode
	var arg byte
	if slot := c.resolveLocal(c.fs, name); slot != -1 {
		getOp, setOp = ir.OpGetLocal, ir.OpSetLocal
		arg = byte(slot)
	} else if up := c.resolveUpvalue(c.fs, name); up != -1 {
		getOp, setOp = ir.OpGetUpvalue, ir.OpSetUpvalue
		arg = byte(up)
	} else {
		getOp, setOp = ir.OpGetGlobal, ir.OpSetGlobal
		arg = c.identifierConstant(name)
	}

	if canAssign && c.match(token.Assign) {
		c.expression()
		c.emitOp(setOp, arg)
	} else {
		c.emitOp(getOp, arg)
	}
}

func (c *compiler) this(bool) {
	if c.cs == nil {
		c.error("Can't use 'this' outside of a class.")
		return
	}
	c.variable(false)
}

func (c *compiler) super(bool) {
	if c.cs == nil {
		c.error("Can't use 'super' outside of a class.")
	} else if !c.cs.hasSuperclass {
		c.error("Can't use 'super' in a class with no superclass.")
	}

	c.consume(token.Dot, "Expect '.' after 'super'.")
	c.consume(token.Ident, "Expect superclass method name.")
	name := c.identifierConstant(c.prev.Lexeme)

	c.namedVariable("this", false)
	if c.match(token.LParen) {
		argCount := c.argumentList()
		c.namedVariable("super", false)
		c.emitOp(ir.OpSuperInvoke, name, argCount)
	} else {
		c.namedVariable("super", false)
		c.emitOp(ir.OpGetSuper, name)
	}
}
