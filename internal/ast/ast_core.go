package ast

import (
	"strings"

	"github.com/funvibe/cxbridge/internal/token"
)

// TokenProvider is an interface for any AST node that can provide its primary token.
// This is useful for error reporting.
type TokenProvider interface {
	GetToken() token.Token
}

// Node is the base interface for all AST nodes.
type Node interface {
	TokenProvider
	TokenLiteral() string
	Accept(v Visitor)
}

// Declaration is a Node that can appear at namespace or class scope.
type Declaration interface {
	Node
	declarationNode()
}

// Visitor walks declarations.
type Visitor interface {
	VisitProgram(*Program)
	VisitNamespace(*NamespaceDeclaration)
	VisitClass(*ClassDeclaration)
	VisitField(*FieldDeclaration)
	VisitFunction(*FunctionDeclaration)
	VisitInstantiation(*InstantiationDeclaration)
}

// Access is a member access level.
type Access string

const (
	Public    Access = "public"
	Protected Access = "protected"
	Private   Access = "private"
)

// Program is the root node of every AST our parser produces.
type Program struct {
	File         string
	Declarations []Declaration
}

func (p *Program) Accept(v Visitor) { v.VisitProgram(p) }
func (p *Program) TokenLiteral() string {
	if len(p.Declarations) > 0 {
		return p.Declarations[0].TokenLiteral()
	}
	return ""
}
func (p *Program) GetToken() token.Token {
	if len(p.Declarations) > 0 {
		return p.Declarations[0].GetToken()
	}
	return token.Token{}
}

// NamespaceDeclaration is namespace Name { ... }. Name is empty for an
// anonymous namespace.
type NamespaceDeclaration struct {
	Token        token.Token // The 'namespace' token
	Name         string      // May be nested: a::b
	Declarations []Declaration
}

func (n *NamespaceDeclaration) Accept(v Visitor)      { v.VisitNamespace(n) }
func (n *NamespaceDeclaration) declarationNode()      {}
func (n *NamespaceDeclaration) TokenLiteral() string  { return n.Token.Lexeme }
func (n *NamespaceDeclaration) GetToken() token.Token { return n.Token }

// BaseSpecifier is one entry of a base clause.
type BaseSpecifier struct {
	Access  Access
	Virtual bool
	Type    *TypeRef
}

// ClassDeclaration is a class, struct or union definition or forward
// declaration.
type ClassDeclaration struct {
	Token   token.Token // The class-key token
	Key     string      // class, struct or union
	Name    string
	Forward bool
	Final   bool
	Bases   []BaseSpecifier
	Members []Declaration
}

func (c *ClassDeclaration) Accept(v Visitor)      { v.VisitClass(c) }
func (c *ClassDeclaration) declarationNode()      {}
func (c *ClassDeclaration) TokenLiteral() string  { return c.Token.Lexeme }
func (c *ClassDeclaration) GetToken() token.Token { return c.Token }

// DefaultAccess is the access of members before any access specifier.
func (c *ClassDeclaration) DefaultAccess() Access {
	if c.Key == "class" {
		return Private
	}
	return Public
}

// FieldDeclaration is a data member.
type FieldDeclaration struct {
	Token  token.Token // The field name token
	Access Access
	Type   *TypeRef
	Name   string
	Static bool
}

func (f *FieldDeclaration) Accept(v Visitor)      { v.VisitField(f) }
func (f *FieldDeclaration) declarationNode()      {}
func (f *FieldDeclaration) TokenLiteral() string  { return f.Token.Lexeme }
func (f *FieldDeclaration) GetToken() token.Token { return f.Token }

// InstantiationDeclaration is an explicit instantiation:
// template void B::callme<A, int, C>(A, int, C*);
type InstantiationDeclaration struct {
	Token        token.Token // The 'template' token
	Result       *TypeRef
	Qualifier    string // Enclosing scope, empty for the current one
	Name         string
	TemplateArgs []*TypeRef
	Params       []*TypeRef
}

func (i *InstantiationDeclaration) Accept(v Visitor)      { v.VisitInstantiation(i) }
func (i *InstantiationDeclaration) declarationNode()      {}
func (i *InstantiationDeclaration) TokenLiteral() string  { return i.Token.Lexeme }
func (i *InstantiationDeclaration) GetToken() token.Token { return i.Token }

// TypeRef is the spelling of a type as written, tokens joined with
// canonical spacing. It is interpreted later, once template parameters
// in scope are known.
type TypeRef struct {
	Token token.Token // First token of the type
	Text  string
}

func (t *TypeRef) String() string {
	if t == nil {
		return ""
	}
	return t.Text
}

// JoinTypes renders a list of TypeRefs comma+space joined.
func JoinTypes(ts []*TypeRef) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.Text
	}
	return strings.Join(parts, ", ")
}
