package typesystem

import (
	"fmt"
	"strings"

	"github.com/funvibe/cxbridge/internal/abi"
	"github.com/funvibe/cxbridge/internal/config"
)

// Parse reads type text. Names listed in params are template parameters.
// cv-qualifiers and elaborated-type keywords are dropped, fundamental
// type specifiers are folded to their canonical spelling and a leading
// global qualifier is removed, so "const unsigned long int &" and
// "unsigned long&" yield the same type.
func Parse(text string, params map[string]bool) (Type, error) {
	p := &typeParser{text: text, params: params}
	p.next()
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	if p.tok != "" {
		return nil, p.errorf("unexpected %q", p.tok)
	}
	return t, nil
}

// ParseList reads a comma-joined TypeDescriptor list.
func ParseList(text string, params map[string]bool) ([]Type, error) {
	parts := abi.SplitTypes(text)
	out := make([]Type, 0, len(parts))
	for _, part := range parts {
		t, err := Parse(part, params)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Canonical renders text through Parse.
func Canonical(text string) (string, error) {
	t, err := Parse(text, nil)
	if err != nil {
		return "", err
	}
	return t.String(), nil
}

// CanonicalList renders a TypeDescriptor list through ParseList.
func CanonicalList(text string) (string, error) {
	ts, err := ParseList(text, nil)
	if err != nil {
		return "", err
	}
	return Join(ts), nil
}

type typeParser struct {
	text   string
	params map[string]bool
	pos    int // offset after tok
	start  int // offset of tok
	tok    string
}

func (p *typeParser) errorf(format string, args ...any) error {
	return &SyntaxError{Text: p.text, Pos: p.start, Msg: fmt.Sprintf(format, args...)}
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// next scans one token: an identifier (with embedded ::), "::", "&&" or a
// single punctuation byte.
func (p *typeParser) next() {
	for p.pos < len(p.text) && (p.text[p.pos] == ' ' || p.text[p.pos] == '\t' || p.text[p.pos] == '\n') {
		p.pos++
	}
	p.start = p.pos
	if p.pos >= len(p.text) {
		p.tok = ""
		return
	}

	c := p.text[p.pos]
	switch {
	case isIdentByte(c):
		for p.pos < len(p.text) {
			if isIdentByte(p.text[p.pos]) {
				p.pos++
				continue
			}
			if strings.HasPrefix(p.text[p.pos:], "::") && p.pos+2 < len(p.text) && isIdentByte(p.text[p.pos+2]) {
				p.pos += 2
				continue
			}
			break
		}
	case strings.HasPrefix(p.text[p.pos:], "::"), strings.HasPrefix(p.text[p.pos:], "&&"):
		p.pos += 2
	default:
		p.pos++
	}
	p.tok = p.text[p.start:p.pos]
}

func (p *typeParser) parseType() (Type, error) {
	base, err := p.parseSpecifier()
	if err != nil {
		return nil, err
	}

	t := base
	for {
		switch p.tok {
		case "*":
			t = TPtr{Elem: t}
			p.next()
		case "&", "&&":
			if _, isRef := t.(TRef); isRef {
				return nil, p.errorf("reference to reference")
			}
			t = TRef{Elem: t, RValue: p.tok == "&&"}
			p.next()
		case "const", "volatile":
			p.next()
		case "(", "[":
			return nil, p.errorf("function and array types are not supported")
		default:
			return t, nil
		}
	}
}

func (p *typeParser) parseSpecifier() (Type, error) {
	var words []string
	var named Type

	for {
		switch p.tok {
		case "const", "volatile", "struct", "class", "typename", "enum", "union":
			p.next()
			continue
		case "::":
			p.next()
			continue
		case "":
			if named == nil && len(words) == 0 {
				return nil, p.errorf("missing type")
			}
		}

		if p.tok != "" && isIdentByte(p.tok[0]) && named == nil {
			if config.IsBuiltinWord(p.tok) {
				words = append(words, p.tok)
				p.next()
				continue
			}
			if len(words) == 0 {
				t, err := p.parseNamed()
				if err != nil {
					return nil, err
				}
				named = t
				continue
			}
		}
		break
	}

	if named != nil {
		if len(words) > 0 {
			return nil, p.errorf("conflicting type specifiers")
		}
		return named, nil
	}
	if len(words) == 0 {
		return nil, p.errorf("unexpected %q", p.tok)
	}
	name, ok := config.CanonicalBuiltin(words)
	if !ok {
		return nil, p.errorf("invalid fundamental type %q", strings.Join(words, " "))
	}
	return TCon{Name: name}, nil
}

func (p *typeParser) parseNamed() (Type, error) {
	name := p.tok
	p.next()

	if p.params[name] {
		return TVar{Name: name}, nil
	}
	if p.tok != "<" {
		return TCon{Name: name}, nil
	}

	p.next()
	app := TApp{Constructor: TCon{Name: name}}
	for p.tok != ">" {
		arg, err := p.parseType()
		if err != nil {
			return nil, err
		}
		app.Args = append(app.Args, arg)
		switch p.tok {
		case ",":
			p.next()
		case ">":
		default:
			return nil, p.errorf("expected , or > in template argument list")
		}
	}
	p.next()
	return app, nil
}
