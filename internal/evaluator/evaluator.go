// Package evaluator runs the bodies of functions declared to the reference
// compiler. A body is a sequence of ';'-terminated statements: expression
// statements, local declarations, assignments and return. Expressions are
// rewritten into expr-lang and compiled once per shape of environment.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/config"
	"github.com/funvibe/cxbridge/internal/lexer"
	"github.com/funvibe/cxbridge/internal/logging"
	"github.com/funvibe/cxbridge/internal/token"
	"github.com/funvibe/cxbridge/internal/typesystem"
)

// Host gives a body access to its object and to other declared functions.
type Host interface {
	Field(ctx context.Context, name string) (any, error)
	SetField(ctx context.Context, name string, v any) error
	Call(ctx context.Context, name string, args []any) (any, error)
	SizeOf(ctx context.Context, typ string) (int, error)
}

// Frame is the environment of one call.
type Frame struct {
	Types    map[string]string // template parameter -> argument type text
	Vars     map[string]any    // named parameters, "this" for members
	VarTypes map[string]string // declared type of each entry in Vars
	Host     Host
}

// Evaluator executes bodies, writing printf and puts output to its writer.
type Evaluator struct {
	out      io.Writer
	mu       sync.Mutex // serializes writes to out
	log      logging.Logger
	programs sync.Map // cache key -> *vm.Program
}

type Option func(*Evaluator)

func WithLogger(l logging.Logger) Option {
	return func(e *Evaluator) { e.log = l }
}

func New(out io.Writer, opts ...Option) *Evaluator {
	e := &Evaluator{out: out, log: logging.Discard()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run is the state of one body execution.
type run struct {
	e        *Evaluator
	ctx      context.Context
	src      string
	frame    *Frame
	env      map[string]any
	varTypes map[string]string
}

// Run executes body in frame and returns the value of the return statement
// it reaches, or nil.
func (e *Evaluator) Run(ctx context.Context, body string, frame *Frame) (any, error) {
	if frame == nil {
		frame = &Frame{}
	}
	r := &run{
		e:        e,
		ctx:      ctx,
		src:      body,
		frame:    frame,
		env:      make(map[string]any),
		varTypes: make(map[string]string),
	}
	for name, typ := range frame.Types {
		r.env[name] = typ
	}
	for name, v := range frame.Vars {
		r.env[name] = normalize(v)
	}
	for name, typ := range frame.VarTypes {
		r.varTypes[name] = typ
	}
	r.bindBuiltins()

	stmts, err := splitStatements(lexer.New(body).Tokenize())
	if err != nil {
		return nil, err
	}
	for _, st := range stmts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.log.Trace(ctx, "statement", slog.String("source", r.text(st)))
		v, done, err := r.exec(st)
		if err != nil {
			return nil, err
		}
		if done {
			return v, nil
		}
	}
	return nil, nil
}

// splitStatements cuts a token list at top-level semicolons.
func splitStatements(toks []token.Token) ([][]token.Token, error) {
	var out [][]token.Token
	var cur []token.Token
	depth := 0
	for _, tok := range toks {
		switch tok.Type {
		case token.EOF:
			if len(cur) > 0 {
				return nil, abi.ErrUnsupported.Wrapf("line %d: statement is missing ';'", cur[0].Line)
			}
			return out, nil
		case token.ILLEGAL:
			return nil, abi.ErrInvocation.Wrapf("line %d: illegal token %q", tok.Line, tok.Lexeme)
		case token.LBRACE, token.RBRACE:
			return nil, abi.ErrUnsupported.Wrapf("line %d: compound statements are not supported", tok.Line)
		case token.LPAREN, token.LBRACKET:
			depth++
		case token.RPAREN, token.RBRACKET:
			depth--
		case token.SEMICOLON:
			if depth == 0 {
				if len(cur) > 0 {
					out = append(out, cur)
				}
				cur = nil
				continue
			}
		}
		cur = append(cur, tok)
	}
	return out, nil
}

var controlKeywords = map[string]bool{
	"if": true, "else": true, "for": true, "while": true, "do": true, "switch": true,
	"case": true, "goto": true, "break": true, "continue": true, "try": true, "throw": true,
}

var compoundOps = map[string]string{
	"+=": "+", "-=": "-", "*=": "*", "/=": "/", "%=": "%",
}

// exec runs one statement; done is set by return.
func (r *run) exec(st []token.Token) (any, bool, error) {
	first := st[0]
	if first.Type == token.IDENT && controlKeywords[first.Lexeme] {
		return nil, false, abi.ErrUnsupported.Wrapf("line %d: %s statements are not supported", first.Line, first.Lexeme)
	}
	if first.Type == token.IDENT && first.Lexeme == "return" {
		if len(st) == 1 {
			return nil, true, nil
		}
		v, err := r.eval(st[1:])
		return v, true, err
	}

	// ++x, --x, x++, x--
	if n := len(st); n >= 2 {
		var target []token.Token
		var op string
		switch {
		case isIncDec(st[0]):
			target, op = st[1:], st[0].Lexeme
		case isIncDec(st[n-1]):
			target, op = st[:n-1], st[n-1].Lexeme
		}
		if op != "" {
			cur, err := r.load(target)
			if err != nil {
				return nil, false, err
			}
			return nil, false, r.store(target, incDec(cur, op == "++"))
		}
	}

	if i, op := findAssign(st); i >= 0 {
		lhs, rhs := st[:i], st[i+1:]
		if len(rhs) == 0 {
			return nil, false, abi.ErrInvocation.Wrapf("line %d: missing value after %s", st[i].Line, st[i].Lexeme)
		}
		if name, typ, ok := declarator(lhs); ok {
			v, err := r.eval(rhs)
			if err != nil {
				return nil, false, err
			}
			return nil, false, r.declare(name, typ, v)
		}
		v, err := r.eval(rhs)
		if err != nil {
			return nil, false, err
		}
		if bin, ok := compoundOps[op]; ok {
			cur, err := r.load(lhs)
			if err != nil {
				return nil, false, err
			}
			v, err = r.binary(cur, bin, v)
			if err != nil {
				return nil, false, err
			}
		}
		return nil, false, r.store(lhs, v)
	}

	if name, typ, ok := declarator(st); ok && len(st) > 1 {
		return nil, false, r.declare(name, typ, zeroValue(typ))
	}

	_, err := r.eval(st)
	return nil, false, err
}

func isIncDec(tok token.Token) bool {
	return tok.Type == token.OPERATOR_SYMBOL && (tok.Lexeme == "++" || tok.Lexeme == "--")
}

func incDec(v any, inc bool) any {
	d := int64(-1)
	if inc {
		d = 1
	}
	switch n := v.(type) {
	case int64:
		return n + d
	case uint64:
		return n + uint64(d)
	case float64:
		return n + float64(d)
	}
	return v
}

// findAssign returns the index of the top-level assignment operator.
func findAssign(st []token.Token) (int, string) {
	depth := 0
	for i, tok := range st {
		switch tok.Type {
		case token.LPAREN, token.LBRACKET:
			depth++
		case token.RPAREN, token.RBRACKET:
			depth--
		case token.ASSIGN:
			// '>' '=' is the spelling of >= in our token stream.
			if depth == 0 && !(i > 0 && st[i-1].Type == token.GT && st[i-1].Offset+1 == tok.Offset) {
				return i, "="
			}
		case token.OPERATOR_SYMBOL:
			if _, ok := compoundOps[tok.Lexeme]; ok && depth == 0 {
				return i, tok.Lexeme
			}
		}
	}
	return -1, ""
}

// declarator recognizes "type name": two or more tokens ending in an
// identifier where everything before it spells a type.
func declarator(lhs []token.Token) (name, typ string, ok bool) {
	n := len(lhs)
	if n < 2 || lhs[n-1].Type != token.IDENT {
		return "", "", false
	}
	angles := 0
	for _, tok := range lhs[:n-1] {
		switch tok.Type {
		case token.LT:
			angles++
		case token.GT:
			angles--
		case token.IDENT, token.CONST, token.VOLATILE, token.STRUCT, token.CLASS,
			token.ASTERISK, token.AMPERSAND, token.SCOPE, token.COMMA:
		default:
			return "", "", false
		}
	}
	if angles != 0 || lhs[n-2].Type == token.COMMA {
		return "", "", false
	}
	if lhs[0].Lexeme == "this" {
		return "", "", false
	}
	return lhs[n-1].Lexeme, joinLexemes(lhs[:n-1]), true
}

func joinLexemes(toks []token.Token) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = t.Lexeme
	}
	return strings.Join(parts, " ")
}

// declare introduces a local variable. auto takes the type of the value.
func (r *run) declare(name, typ string, v any) error {
	if typ != "auto" {
		canon, err := r.resolveType(typ)
		if err != nil {
			return abi.ErrInvocation.Wrap(err)
		}
		typ = canon
		v = coerce(v, typ)
	}
	r.env[name] = normalize(v)
	if typ != "auto" {
		r.varTypes[name] = typ
	}
	return nil
}

// load reads a variable or this->field.
func (r *run) load(target []token.Token) (any, error) {
	if field, ok := fieldAccess(target); ok {
		if r.frame.Host == nil {
			return nil, abi.ErrInvocation.Wrapf("this->%s outside a member function", field)
		}
		return r.frame.Host.Field(r.ctx, field)
	}
	if len(target) == 1 && target[0].Type == token.IDENT {
		v, ok := r.env[target[0].Lexeme]
		if !ok {
			return nil, abi.ErrInvocation.Wrapf("line %d: undeclared identifier %s", target[0].Line, target[0].Lexeme)
		}
		return v, nil
	}
	return nil, abi.ErrUnsupported.Wrapf("unsupported assignment target %q", r.text(target))
}

// store writes a variable or this->field.
func (r *run) store(target []token.Token, v any) error {
	if field, ok := fieldAccess(target); ok {
		if r.frame.Host == nil {
			return abi.ErrInvocation.Wrapf("this->%s outside a member function", field)
		}
		return r.frame.Host.SetField(r.ctx, field, normalize(v))
	}
	if len(target) == 1 && target[0].Type == token.IDENT {
		name := target[0].Lexeme
		old, ok := r.env[name]
		if !ok {
			return abi.ErrInvocation.Wrapf("line %d: undeclared identifier %s", target[0].Line, name)
		}
		if typ, ok := r.varTypes[name]; ok {
			v = coerce(v, typ)
		} else {
			v = coerceLike(v, old)
		}
		r.env[name] = normalize(v)
		return nil
	}
	return abi.ErrUnsupported.Wrapf("unsupported assignment target %q", r.text(target))
}

func fieldAccess(toks []token.Token) (string, bool) {
	if len(toks) == 3 && toks[0].Lexeme == "this" && toks[1].Type == token.ARROW && toks[2].Type == token.IDENT {
		return toks[2].Lexeme, true
	}
	return "", false
}

// binary applies a compound assignment operator through expr.
func (r *run) binary(a any, op string, b any) (any, error) {
	env := map[string]any{"a": a, "b": b}
	v, err := expr.Eval("a "+op+" b", env)
	if err != nil {
		return nil, abi.ErrInvocation.Wrap(err)
	}
	return normalize(v), nil
}

// eval translates and runs an expression.
func (r *run) eval(toks []token.Token) (any, error) {
	source, err := r.translate(toks)
	if err != nil {
		return nil, err
	}
	program, err := r.e.compile(source, r.env)
	if err != nil {
		return nil, abi.ErrInvocation.Wrap(err).With(slog.String("source", r.text(toks)))
	}
	v, err := vm.Run(program, r.env)
	if err != nil {
		var ae *abi.Error
		if errors.As(err, &ae) {
			return nil, ae
		}
		return nil, abi.ErrInvocation.Wrap(err).With(slog.String("source", r.text(toks)))
	}
	return normalize(v), nil
}

// compile returns the cached program for source in an environment of the
// same shape as env.
func (e *Evaluator) compile(source string, env map[string]any) (*vm.Program, error) {
	key := source + "\x00" + envShape(env)
	if p, ok := e.programs.Load(key); ok {
		return p.(*vm.Program), nil
	}
	program, err := expr.Compile(source, expr.Env(env))
	if err != nil {
		return nil, err
	}
	e.programs.Store(key, program)
	return program, nil
}

func envShape(env map[string]any) string {
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, name := range names {
		fmt.Fprintf(&sb, "%s:%T;", name, env[name])
	}
	return sb.String()
}

// text is the source spelling of a token range.
func (r *run) text(toks []token.Token) string {
	if len(toks) == 0 {
		return ""
	}
	last := toks[len(toks)-1]
	return r.src[toks[0].Offset : last.Offset+len(last.Lexeme)]
}

// resolveType renders a type written in the body, substituting template
// arguments.
func (r *run) resolveType(text string) (string, error) {
	if typ, ok := r.varTypes[text]; ok {
		return typ, nil
	}
	params := make(map[string]bool, len(r.frame.Types))
	subst := make(typesystem.Subst, len(r.frame.Types))
	for name, arg := range r.frame.Types {
		params[name] = true
		t, err := typesystem.Parse(arg, nil)
		if err != nil {
			return "", err
		}
		subst[name] = t
	}
	t, err := typesystem.Parse(text, params)
	if err != nil {
		return "", err
	}
	return t.Apply(subst).String(), nil
}

func zeroValue(typ string) any {
	if strings.HasSuffix(typ, "*") {
		return uint64(0)
	}
	return coerce(int64(0), typ)
}

// coerce converts v to the representation of the declared type.
func coerce(v any, typ string) any {
	if strings.HasSuffix(typ, "*") || strings.HasSuffix(typ, "&") {
		if n, ok := toInt64(v); ok {
			return uint64(n)
		}
		return v
	}
	b, ok := config.LookupBuiltin(typ)
	if !ok {
		return v
	}
	switch b.Kind {
	case abi.Bool:
		return truthy(v)
	case abi.Int:
		if f, ok := v.(float64); ok {
			return int64(f)
		}
		if n, ok := toInt64(v); ok {
			return n
		}
	case abi.Uint:
		if f, ok := v.(float64); ok {
			return uint64(f)
		}
		if n, ok := toInt64(v); ok {
			return uint64(n)
		}
	case abi.Float:
		switch n := v.(type) {
		case int64:
			return float64(n)
		case uint64:
			return float64(n)
		}
	}
	return v
}

// coerceLike converts v to the representation of old.
func coerceLike(v, old any) any {
	switch old.(type) {
	case int64:
		return coerce(v, "long")
	case uint64:
		return coerce(v, "unsigned long")
	case float64:
		return coerce(v, "double")
	case bool:
		return truthy(v)
	}
	return v
}

func truthy(v any) bool {
	switch n := v.(type) {
	case bool:
		return n
	case float64:
		return n != 0
	case nil:
		return false
	}
	if n, ok := toInt64(v); ok {
		return n != 0
	}
	return true
}

// normalize maps Go numeric kinds onto int64, uint64 and float64.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return uint64(n)
	case uint8:
		return uint64(n)
	case uint16:
		return uint64(n)
	case uint32:
		return uint64(n)
	case float32:
		return float64(n)
	case abi.Addr:
		return uint64(n)
	}
	return v
}
