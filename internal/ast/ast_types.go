package ast

import (
	"github.com/funvibe/cxbridge/internal/token"
)

// FunctionKind distinguishes special member functions.
type FunctionKind int

const (
	FreeFunction FunctionKind = iota
	Method
	Constructor
	Destructor
)

// Parameter is one function parameter. Name may be empty.
type Parameter struct {
	Token   token.Token
	Type    *TypeRef
	Name    string
	Default string // Default argument text, if any
}

// Body is the source text between the braces of a function definition.
type Body struct {
	Token token.Token // The '{' token
	Text  string
}

// FunctionDeclaration is a function, method, constructor, destructor or
// operator, possibly a template, possibly with a body.
type FunctionDeclaration struct {
	Token          token.Token // The name token
	Kind           FunctionKind
	Access         Access
	Qualifier      string // Class of an out-of-class definition: B in B::f
	Name           string // f, operator+, ~B
	TemplateParams []string
	Result         *TypeRef // nil for constructors and destructors
	Params         []*Parameter
	Variadic       bool
	Static         bool
	Virtual        bool
	Pure           bool
	Const          bool
	Noexcept       bool
	Deleted        bool
	Defaulted      bool
	ExternC        bool
	Explicit       bool
	Body           *Body
}

func (f *FunctionDeclaration) Accept(v Visitor)      { v.VisitFunction(f) }
func (f *FunctionDeclaration) declarationNode()      {}
func (f *FunctionDeclaration) TokenLiteral() string  { return f.Token.Lexeme }
func (f *FunctionDeclaration) GetToken() token.Token { return f.Token }

// IsTemplate reports whether f declares template parameters.
func (f *FunctionDeclaration) IsTemplate() bool { return len(f.TemplateParams) > 0 }

// ParamTypes returns the declared parameter types in order.
func (f *FunctionDeclaration) ParamTypes() []*TypeRef {
	out := make([]*TypeRef, len(f.Params))
	for i, p := range f.Params {
		out[i] = p.Type
	}
	return out
}

// ParamNames returns the declared parameter names in order.
func (f *FunctionDeclaration) ParamNames() []string {
	out := make([]string, len(f.Params))
	for i, p := range f.Params {
		out[i] = p.Name
	}
	return out
}
