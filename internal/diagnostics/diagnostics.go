package diagnostics

import (
	"fmt"

	"github.com/funvibe/cxbridge/internal/token"
)

type ErrorCode string

const (
	// Lexer errors
	ErrL001 ErrorCode = "L001" // illegal character
	ErrL002 ErrorCode = "L002" // unterminated literal or comment

	// Parser errors
	ErrP001 ErrorCode = "P001" // unexpected token
	ErrP002 ErrorCode = "P002" // expected token
	ErrP003 ErrorCode = "P003" // unterminated block
	ErrP004 ErrorCode = "P004" // unsupported declaration
	ErrP005 ErrorCode = "P005" // expected identifier
	ErrP006 ErrorCode = "P006" // invalid type
	ErrP007 ErrorCode = "P007" // invalid template declaration
	ErrP008 ErrorCode = "P008" // invalid function declarator

	// Semantic errors reported while entering declarations
	ErrS001 ErrorCode = "S001" // redefinition
	ErrS002 ErrorCode = "S002" // unknown scope or type
	ErrS003 ErrorCode = "S003" // invalid base class
	ErrS004 ErrorCode = "S004" // explicit instantiation does not match a template
)

// DiagnosticError is a positioned error from the declaration front end.
type DiagnosticError struct {
	Code    ErrorCode
	Token   token.Token
	File    string
	Message string
}

// NewError creates a DiagnosticError at tok. When args are given, msg is a
// format string.
func NewError(code ErrorCode, tok token.Token, msg string, args ...interface{}) *DiagnosticError {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	return &DiagnosticError{Code: code, Token: tok, Message: msg}
}

func (e *DiagnosticError) Error() string {
	pos := fmt.Sprintf("%d:%d", e.Token.Line, e.Token.Column)
	if e.File != "" {
		pos = e.File + ":" + pos
	}
	return fmt.Sprintf("%s: error [%s]: %s", pos, e.Code, e.Message)
}

// List is an ordered collection of diagnostics that is itself an error.
type List []*DiagnosticError

func (l List) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", l[0].Error(), len(l)-1)
}

// Err returns l as an error, or nil when empty.
func (l List) Err() error {
	if len(l) == 0 {
		return nil
	}
	return l
}
