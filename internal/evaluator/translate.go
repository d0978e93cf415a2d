package evaluator

import (
	"strconv"
	"strings"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/config"
	"github.com/funvibe/cxbridge/internal/token"
)

// Names the translator emits for calls expr cannot express directly.
const (
	fieldFunc = "field"
	callFunc  = "call"
)

// builtinFuncs are called by name; any other call goes through the host.
var builtinFuncs = map[string]bool{
	config.PrintfFuncName: true,
	config.PutsFuncName:   true,
}

// translate rewrites an expression into expr-lang source. Whitespace between
// tokens is kept so multi-token operators such as >= survive.
func (r *run) translate(toks []token.Token) (string, error) {
	var sb strings.Builder
	prevEnd := -1
	emitGap := func(tok token.Token) {
		if prevEnd >= 0 && tok.Offset > prevEnd {
			sb.WriteString(r.src[prevEnd:tok.Offset])
		}
	}

	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		emitGap(tok)

		switch tok.Type {
		case token.IDENT:
			switch tok.Lexeme {
			case "this":
				if field, ok := fieldAccess(window(toks, i, 3)); ok {
					sb.WriteString(fieldFunc + "(" + strconv.Quote(field) + ")")
					i += 2
					prevEnd = end(toks[i])
					continue
				}
			case "nullptr", "NULL":
				sb.WriteString("nil")
				prevEnd = end(tok)
				continue
			case config.TypeidFuncName, config.SizeofFuncName:
				j, text, err := r.typeOperand(toks, i)
				if err != nil {
					return "", err
				}
				sb.WriteString(tok.Lexeme + "(" + strconv.Quote(text) + ")")
				i = j
				prevEnd = end(toks[i])
				continue
			}

			// Possibly qualified function name.
			j := i
			for j+2 < len(toks) && toks[j+1].Type == token.SCOPE && toks[j+2].Type == token.IDENT {
				j += 2
			}
			if j+1 < len(toks) && toks[j+1].Type == token.LPAREN {
				name := r.text(toks[i : j+1])
				if builtinFuncs[name] {
					sb.WriteString(name)
					prevEnd = end(toks[j])
					i = j
					continue
				}
				sb.WriteString(callFunc + "(" + strconv.Quote(name))
				if j+2 < len(toks) && toks[j+2].Type != token.RPAREN {
					sb.WriteString(", ")
				}
				i = j + 1 // the '(' is absorbed into call(
				prevEnd = end(toks[i])
				continue
			}
			if j != i {
				return "", abi.ErrUnsupported.Wrapf("line %d: qualified name %s is not supported in expressions", tok.Line, r.text(toks[i:j+1]))
			}
			sb.WriteString(tok.Lexeme)

		case token.CHAR:
			sb.WriteString(strconv.FormatInt(tok.Literal.(int64), 10))

		case token.INT:
			sb.WriteString(strconv.FormatInt(tok.Literal.(int64), 10))

		case token.FLOAT:
			s := strconv.FormatFloat(tok.Literal.(float64), 'g', -1, 64)
			if !strings.ContainsAny(s, ".eEn") {
				s += ".0"
			}
			sb.WriteString(s)

		case token.STRING:
			if i > 0 && toks[i-1].Type == token.STRING {
				// Adjacent literals concatenate.
				sb.WriteString(" + ")
			}
			sb.WriteString(strconv.Quote(tok.Literal.(string)))

		case token.ARROW, token.DOT, token.SCOPE, token.LBRACKET:
			return "", abi.ErrUnsupported.Wrapf("line %d: %s is not supported in expressions", tok.Line, tok.Lexeme)

		case token.AMPERSAND, token.TILDE:
			return "", abi.ErrUnsupported.Wrapf("line %d: operator %s is not supported", tok.Line, tok.Lexeme)

		case token.OPERATOR_SYMBOL:
			switch tok.Lexeme {
			case "++", "--", "<<", ">>", "|", "^", "->*", ".*", "<=>":
				return "", abi.ErrUnsupported.Wrapf("line %d: operator %s is not supported", tok.Line, tok.Lexeme)
			}
			sb.WriteString(tok.Lexeme)

		default:
			sb.WriteString(tok.Lexeme)
		}
		prevEnd = end(tok)
	}
	return sb.String(), nil
}

func end(tok token.Token) int { return tok.Offset + len(tok.Lexeme) }

func window(toks []token.Token, i, n int) []token.Token {
	if i+n > len(toks) {
		return nil
	}
	return toks[i : i+n]
}

// typeOperand reads the parenthesized operand of typeid or sizeof starting
// at toks[i], and a trailing .name() for typeid. It returns the index of
// the last consumed token and the operand as canonical type text.
func (r *run) typeOperand(toks []token.Token, i int) (int, string, error) {
	op := toks[i]
	if i+1 >= len(toks) || toks[i+1].Type != token.LPAREN {
		return 0, "", abi.ErrUnsupported.Wrapf("line %d: %s needs a parenthesized operand", op.Line, op.Lexeme)
	}
	depth := 0
	j := i + 1
	for ; j < len(toks); j++ {
		switch toks[j].Type {
		case token.LPAREN:
			depth++
		case token.RPAREN:
			depth--
		}
		if depth == 0 {
			break
		}
	}
	if j >= len(toks) || j == i+2 {
		return 0, "", abi.ErrUnsupported.Wrapf("line %d: malformed %s operand", op.Line, op.Lexeme)
	}
	text, err := r.resolveType(r.text(toks[i+2 : j]))
	if err != nil {
		return 0, "", abi.ErrInvocation.Wrap(err)
	}

	if op.Lexeme == config.TypeidFuncName {
		tail := window(toks, j+1, 4)
		if tail != nil && tail[0].Type == token.DOT && tail[1].Type == token.IDENT && tail[1].Lexeme == "name" &&
			tail[2].Type == token.LPAREN && tail[3].Type == token.RPAREN {
			j += 4
		}
	}
	return j, text, nil
}
