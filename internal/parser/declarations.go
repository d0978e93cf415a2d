package parser

import (
	"strings"

	"github.com/funvibe/cxbridge/internal/ast"
	"github.com/funvibe/cxbridge/internal/diagnostics"
	"github.com/funvibe/cxbridge/internal/token"
)

func (p *Parser) parseDeclaration(sc *scope) []ast.Declaration {
	switch p.curToken.Type {
	case token.SEMICOLON:
		p.nextToken()
		return nil

	case token.ILLEGAL:
		code := diagnostics.ErrL001
		msg := "illegal character " + describe(p.curToken)
		if lit, _ := p.curToken.Literal.(string); strings.HasPrefix(lit, "unterminated") || strings.HasPrefix(lit, "malformed") {
			code, msg = diagnostics.ErrL002, lit
		}
		p.addError(code, p.curToken, "%s", msg)
		p.nextToken()
		return nil

	case token.NAMESPACE:
		if sc.class != nil {
			p.addError(diagnostics.ErrP004, p.curToken, "namespace inside class %s", sc.class.Name)
			p.skipDeclaration()
			return nil
		}
		return p.parseNamespace(sc)

	case token.EXTERN:
		if p.peekTokenIs(token.STRING) {
			return p.parseLinkage(sc)
		}

	case token.TEMPLATE:
		return p.parseTemplate(sc)

	case token.PUBLIC, token.PRIVATE, token.PROTECTED:
		if sc.class != nil && p.peekTokenIs(token.COLON) {
			sc.access = ast.Access(p.curToken.Lexeme)
			p.nextToken()
			p.nextToken()
			return nil
		}

	case token.CLASS, token.STRUCT, token.UNION:
		if p.peekTokenIs(token.LBRACE) {
			p.addError(diagnostics.ErrP004, p.curToken, "anonymous %s is not supported", p.curToken.Lexeme)
			p.skipDeclaration()
			return nil
		}
		keyTok := p.curToken
		p.nextToken()
		if p.curTokenIs(token.IDENT) {
			switch p.peekToken.Type {
			case token.LBRACE, token.COLON, token.SEMICOLON, token.FINAL:
				return p.parseClass(keyTok, sc)
			}
		}
		// Elaborated type specifier: the class-key is not part of the type.
		return p.parseMember(sc, nil)

	case token.USING:
		if p.peekTokenIs(token.NAMESPACE) {
			p.skipDeclaration()
			return nil
		}
		p.addError(diagnostics.ErrP004, p.curToken, "using declarations are not supported")
		p.skipDeclaration()
		return nil

	case token.TYPEDEF, token.ENUM:
		p.addError(diagnostics.ErrP004, p.curToken, "%s declarations are not supported", p.curToken.Lexeme)
		p.skipDeclaration()
		return nil

	case token.FRIEND:
		p.skipDeclaration()
		return nil
	}

	return p.parseMember(sc, nil)
}

func (p *Parser) parseNamespace(sc *scope) []ast.Declaration {
	ns := &ast.NamespaceDeclaration{Token: p.curToken}
	p.nextToken()

	if p.curTokenIs(token.IDENT) {
		ns.Name = p.curToken.Lexeme
		p.nextToken()
		for p.curTokenIs(token.SCOPE) && p.peekTokenIs(token.IDENT) {
			p.nextToken()
			ns.Name += "::" + p.curToken.Lexeme
			p.nextToken()
		}
	}
	if p.curTokenIs(token.ASSIGN) {
		p.addError(diagnostics.ErrP004, p.curToken, "namespace aliases are not supported")
		p.skipDeclaration()
		return nil
	}
	if !p.expectCur(token.LBRACE) {
		p.skipDeclaration()
		return nil
	}
	p.nextToken()

	ns.Declarations = p.parseDeclarations(token.RBRACE, &scope{externC: sc.externC})
	if p.curTokenIs(token.RBRACE) {
		p.nextToken()
	}
	return []ast.Declaration{ns}
}

// parseLinkage handles extern "C" declarations and blocks.
func (p *Parser) parseLinkage(sc *scope) []ast.Declaration {
	p.nextToken()
	lang, _ := p.curToken.Literal.(string)
	if lang != "C" && lang != "C++" {
		p.addError(diagnostics.ErrP004, p.curToken, "unknown linkage %s", p.curToken.Lexeme)
	}
	inner := &scope{class: sc.class, access: sc.access, externC: lang == "C"}
	p.nextToken()

	if !p.curTokenIs(token.LBRACE) {
		return p.parseDeclaration(inner)
	}
	p.nextToken()
	decls := p.parseDeclarations(token.RBRACE, inner)
	if p.curTokenIs(token.RBRACE) {
		p.nextToken()
	}
	return decls
}

func (p *Parser) parseClass(keyTok token.Token, sc *scope) []ast.Declaration {
	cls := &ast.ClassDeclaration{Token: keyTok, Key: keyTok.Lexeme, Name: p.curToken.Lexeme}
	if sc.class != nil {
		cls.Name = sc.class.Name + "::" + cls.Name
	}
	p.nextToken()

	if p.curTokenIs(token.FINAL) {
		cls.Final = true
		p.nextToken()
	}
	if p.curTokenIs(token.SEMICOLON) {
		cls.Forward = true
		p.nextToken()
		return []ast.Declaration{cls}
	}

	if p.curTokenIs(token.COLON) {
		p.nextToken()
		for {
			base := ast.BaseSpecifier{Access: cls.DefaultAccess()}
			for {
				switch p.curToken.Type {
				case token.PUBLIC, token.PRIVATE, token.PROTECTED:
					base.Access = ast.Access(p.curToken.Lexeme)
					p.nextToken()
					continue
				case token.VIRTUAL:
					base.Virtual = true
					p.nextToken()
					continue
				}
				break
			}
			base.Type = p.parseTypeRef()
			if base.Type == nil {
				p.skipDeclaration()
				return nil
			}
			cls.Bases = append(cls.Bases, base)
			if !p.curTokenIs(token.COMMA) {
				break
			}
			p.nextToken()
		}
	}

	if !p.expectCur(token.LBRACE) {
		p.skipDeclaration()
		return nil
	}
	p.nextToken()

	cls.Members = p.parseDeclarations(token.RBRACE, &scope{class: cls, access: cls.DefaultAccess()})
	if p.curTokenIs(token.RBRACE) {
		p.nextToken()
	}
	if !p.expectCur(token.SEMICOLON) {
		p.skipDeclaration()
		return []ast.Declaration{cls}
	}
	p.nextToken()
	return []ast.Declaration{cls}
}

func (p *Parser) parseTemplate(sc *scope) []ast.Declaration {
	tmplTok := p.curToken
	if !p.peekTokenIs(token.LT) {
		if inst := p.parseInstantiation(); inst != nil {
			return []ast.Declaration{inst}
		}
		p.skipDeclaration()
		return nil
	}
	p.nextToken() // <
	p.nextToken()

	if p.curTokenIs(token.GT) {
		p.addError(diagnostics.ErrP007, tmplTok, "explicit specializations are not supported")
		p.nextToken()
		p.skipDeclaration()
		return nil
	}

	var params []string
	for {
		if !p.curTokenIs(token.TYPENAME) && !p.curTokenIs(token.CLASS) {
			p.addError(diagnostics.ErrP007, p.curToken, "only type template parameters are supported, got %s", describe(p.curToken))
			p.skipDeclaration()
			return nil
		}
		if !p.expectPeek(token.IDENT) {
			p.skipDeclaration()
			return nil
		}
		params = append(params, p.curToken.Lexeme)
		p.nextToken()
		if p.curTokenIs(token.ASSIGN) {
			p.addError(diagnostics.ErrP007, p.curToken, "default template arguments are not supported")
			p.skipDeclaration()
			return nil
		}
		if p.curTokenIs(token.COMMA) {
			p.nextToken()
			continue
		}
		if !p.expectCur(token.GT) {
			p.skipDeclaration()
			return nil
		}
		p.nextToken()
		break
	}

	switch p.curToken.Type {
	case token.CLASS, token.STRUCT, token.UNION:
		p.addError(diagnostics.ErrP004, p.curToken, "class templates are not supported")
		p.skipDeclaration()
		return nil
	case token.TEMPLATE:
		p.addError(diagnostics.ErrP007, p.curToken, "nested template headers are not supported")
		p.skipDeclaration()
		return nil
	}

	decls := p.parseMember(sc, params)
	for _, d := range decls {
		if _, ok := d.(*ast.FunctionDeclaration); !ok {
			p.addError(diagnostics.ErrP007, d.GetToken(), "only function templates are supported")
			return nil
		}
	}
	return decls
}

// parseInstantiation parses template R Q::name<Args>(Params); with the
// current token on 'template'.
func (p *Parser) parseInstantiation() *ast.InstantiationDeclaration {
	inst := &ast.InstantiationDeclaration{Token: p.curToken}
	p.nextToken()

	inst.Result = p.parseTypeRef()
	if inst.Result == nil {
		return nil
	}
	if !p.expectCur(token.IDENT) {
		return nil
	}
	parts := []string{p.curToken.Lexeme}
	p.nextToken()
	for p.curTokenIs(token.SCOPE) && p.peekTokenIs(token.IDENT) {
		p.nextToken()
		parts = append(parts, p.curToken.Lexeme)
		p.nextToken()
	}
	inst.Qualifier = strings.Join(parts[:len(parts)-1], "::")
	inst.Name = parts[len(parts)-1]

	if !p.expectCur(token.LT) {
		return nil
	}
	p.nextToken()
	for !p.curTokenIs(token.GT) {
		arg := p.parseTypeRef()
		if arg == nil {
			return nil
		}
		inst.TemplateArgs = append(inst.TemplateArgs, arg)
		if p.curTokenIs(token.COMMA) {
			p.nextToken()
			continue
		}
		if !p.expectCur(token.GT) {
			return nil
		}
	}
	p.nextToken()

	if !p.expectCur(token.LPAREN) {
		return nil
	}
	params, _, ok := p.parseParams()
	if !ok {
		return nil
	}
	for _, prm := range params {
		inst.Params = append(inst.Params, prm.Type)
	}
	if !p.expectCur(token.SEMICOLON) {
		return nil
	}
	p.nextToken()
	return inst
}

// parseMember parses a function or data member declaration.
func (p *Parser) parseMember(sc *scope, tparams []string) []ast.Declaration {
	fn := &ast.FunctionDeclaration{
		TemplateParams: tparams,
		Access:         sc.access,
		ExternC:        sc.externC,
		Kind:           ast.FreeFunction,
	}
	if sc.class != nil {
		fn.Kind = ast.Method
	}

specifiers:
	for {
		switch p.curToken.Type {
		case token.STATIC:
			fn.Static = true
		case token.VIRTUAL:
			fn.Virtual = true
		case token.EXPLICIT:
			fn.Explicit = true
		case token.INLINE, token.CONSTEXPR, token.EXTERN:
		default:
			break specifiers
		}
		p.nextToken()
	}

	className := ""
	if sc.class != nil {
		className = lastComponent(sc.class.Name)
	}

	switch {
	case p.curTokenIs(token.TILDE) && p.peekTokenIs(token.IDENT):
		fn.Token = p.curToken
		p.nextToken()
		fn.Kind = ast.Destructor
		fn.Name = "~" + p.curToken.Lexeme
		p.nextToken()
		return p.finishFunction(fn)

	case p.curTokenIs(token.IDENT) && className != "" && p.curToken.Lexeme == className && p.peekTokenIs(token.LPAREN):
		fn.Token = p.curToken
		fn.Kind = ast.Constructor
		fn.Name = className
		p.nextToken()
		return p.finishFunction(fn)

	case p.curTokenIs(token.OPERATOR):
		// Conversion function: no result type precedes the name.
		if !p.parseOperatorName(fn) {
			p.skipDeclaration()
			return nil
		}
		return p.finishFunction(fn)
	}

	result := p.parseTypeRef()
	if result == nil {
		p.skipDeclaration()
		return nil
	}

	switch {
	case p.curTokenIs(token.LPAREN):
		// Out-of-class constructor: B::B(...)
		q, name := splitQualified(result.Text)
		if q != "" && lastComponent(q) == name {
			fn.Token = result.Token
			fn.Kind = ast.Constructor
			fn.Qualifier = q
			fn.Name = name
			return p.finishFunction(fn)
		}
		p.addError(diagnostics.ErrP008, p.curToken, "unsupported declarator after %s", result.Text)
		p.skipDeclaration()
		return nil

	case p.curTokenIs(token.SCOPE) && p.peekTokenIs(token.TILDE):
		// Out-of-class destructor: B::~B()
		fn.Qualifier = result.Text
		p.nextToken()
		fn.Token = p.curToken
		if !p.expectPeek(token.IDENT) {
			p.skipDeclaration()
			return nil
		}
		fn.Kind = ast.Destructor
		fn.Name = "~" + p.curToken.Lexeme
		p.nextToken()
		return p.finishFunction(fn)
	}

	fn.Result = result
	if p.curTokenIs(token.OPERATOR) {
		if !p.parseOperatorName(fn) {
			p.skipDeclaration()
			return nil
		}
		return p.finishFunction(fn)
	}

	if !p.curTokenIs(token.IDENT) {
		p.addError(diagnostics.ErrP005, p.curToken, "expected identifier, got %s", describe(p.curToken))
		p.skipDeclaration()
		return nil
	}
	nameTok := p.curToken
	parts := []string{p.curToken.Lexeme}
	p.nextToken()
	for p.curTokenIs(token.SCOPE) {
		if p.peekTokenIs(token.OPERATOR) {
			p.nextToken()
			fn.Qualifier = strings.Join(parts, "::")
			if !p.parseOperatorName(fn) {
				p.skipDeclaration()
				return nil
			}
			fn.Kind = ast.Method
			return p.finishFunction(fn)
		}
		if !p.expectPeek(token.IDENT) {
			p.skipDeclaration()
			return nil
		}
		parts = append(parts, p.curToken.Lexeme)
		p.nextToken()
	}

	fn.Token = nameTok
	fn.Qualifier = strings.Join(parts[:len(parts)-1], "::")
	fn.Name = parts[len(parts)-1]
	if fn.Qualifier != "" {
		fn.Kind = ast.Method
	}

	if p.curTokenIs(token.LPAREN) {
		return p.finishFunction(fn)
	}

	if len(tparams) > 0 {
		p.addError(diagnostics.ErrP007, nameTok, "only function templates are supported")
		p.skipDeclaration()
		return nil
	}
	if fn.Qualifier != "" {
		p.addError(diagnostics.ErrP004, nameTok, "unsupported declaration of %s", fn.Name)
		p.skipDeclaration()
		return nil
	}
	return p.finishFields(sc, fn.Static, result, nameTok)
}

// parseOperatorName reads operator@ starting at the 'operator' keyword.
func (p *Parser) parseOperatorName(fn *ast.FunctionDeclaration) bool {
	fn.Token = p.curToken
	p.nextToken()

	switch {
	case p.curTokenIs(token.NEW) || p.curTokenIs(token.DELETE):
		fn.Name = "operator " + p.curToken.Lexeme
		p.nextToken()
		if p.curTokenIs(token.LBRACKET) && p.peekTokenIs(token.RBRACKET) {
			fn.Name += "[]"
			p.nextToken()
			p.nextToken()
		}
	case p.curTokenIs(token.LPAREN) && p.peekTokenIs(token.RPAREN):
		fn.Name = "operator()"
		p.nextToken()
		p.nextToken()
	case p.curTokenIs(token.LBRACKET) && p.peekTokenIs(token.RBRACKET):
		fn.Name = "operator[]"
		p.nextToken()
		p.nextToken()
	case p.curTokenIs(token.IDENT) || p.curTokenIs(token.CONST):
		result := p.parseTypeRef()
		if result == nil {
			return false
		}
		fn.Result = result
		fn.Name = "operator " + result.Text
	case p.curTokenIs(token.LPAREN) || p.curTokenIs(token.EOF) || p.curTokenIs(token.SEMICOLON):
		p.addError(diagnostics.ErrP005, p.curToken, "expected operator symbol, got %s", describe(p.curToken))
		return false
	default:
		sym := p.curToken.Lexeme
		prev := p.curToken
		p.nextToken()
		for !p.curTokenIs(token.LPAREN) && !p.curTokenIs(token.LT) && adjacent(prev, p.curToken) && !wordLike(p.curToken) {
			sym += p.curToken.Lexeme
			prev = p.curToken
			p.nextToken()
		}
		fn.Name = "operator" + sym
	}

	if !p.curTokenIs(token.LPAREN) {
		p.addError(diagnostics.ErrP008, p.curToken, "expected ( after %s", fn.Name)
		return false
	}
	return true
}

// finishFunction parses the parameter list, trailing qualifiers and either
// ';' or a body. The current token is '('.
func (p *Parser) finishFunction(fn *ast.FunctionDeclaration) []ast.Declaration {
	if !p.expectCur(token.LPAREN) {
		p.skipDeclaration()
		return nil
	}
	params, variadic, ok := p.parseParams()
	if !ok {
		p.skipDeclaration()
		return nil
	}
	fn.Params, fn.Variadic = params, variadic

qualifiers:
	for {
		switch p.curToken.Type {
		case token.CONST:
			fn.Const = true
		case token.NOEXCEPT:
			fn.Noexcept = true
			if p.peekTokenIs(token.LPAREN) {
				p.nextToken()
				p.skipBalanced(token.LPAREN, token.RPAREN)
				continue
			}
		case token.VOLATILE, token.OVERRIDE, token.FINAL, token.AMPERSAND, token.AND:
		case token.ARROW:
			p.addError(diagnostics.ErrP008, p.curToken, "trailing return types are not supported")
			p.skipDeclaration()
			return nil
		default:
			break qualifiers
		}
		p.nextToken()
	}

	if p.curTokenIs(token.ASSIGN) {
		p.nextToken()
		switch {
		case p.curTokenIs(token.INT) && p.curToken.Lexeme == "0":
			fn.Pure = true
		case p.curTokenIs(token.DELETE):
			fn.Deleted = true
		case p.curTokenIs(token.DEFAULT):
			fn.Defaulted = true
		default:
			p.addError(diagnostics.ErrP008, p.curToken, "expected 0, delete or default, got %s", describe(p.curToken))
			p.skipDeclaration()
			return nil
		}
		p.nextToken()
	}

	if p.curTokenIs(token.COLON) && fn.Kind == ast.Constructor {
		p.nextToken()
		for p.curTokenIs(token.IDENT) {
			for p.curTokenIs(token.IDENT) || p.curTokenIs(token.SCOPE) {
				p.nextToken()
			}
			switch {
			case p.curTokenIs(token.LPAREN):
				p.skipBalanced(token.LPAREN, token.RPAREN)
			case p.curTokenIs(token.LBRACE):
				p.skipBalanced(token.LBRACE, token.RBRACE)
			}
			if !p.curTokenIs(token.COMMA) {
				break
			}
			p.nextToken()
		}
	}

	if p.curTokenIs(token.LBRACE) {
		fn.Body = p.parseBody()
		if fn.Body == nil {
			return nil
		}
		return []ast.Declaration{fn}
	}
	if !p.expectCur(token.SEMICOLON) {
		p.skipDeclaration()
		return nil
	}
	p.nextToken()
	return []ast.Declaration{fn}
}

// parseParams parses (params). On success the current token is the one
// after ')'.
func (p *Parser) parseParams() ([]*ast.Parameter, bool, bool) {
	p.nextToken()
	if p.curTokenIs(token.RPAREN) {
		p.nextToken()
		return nil, false, true
	}
	if p.curTokenIs(token.IDENT) && p.curToken.Lexeme == "void" && p.peekTokenIs(token.RPAREN) {
		p.nextToken()
		p.nextToken()
		return nil, false, true
	}

	var params []*ast.Parameter
	variadic := false
	for {
		if p.curTokenIs(token.ELLIPSIS) {
			variadic = true
			p.nextToken()
			break
		}

		param := &ast.Parameter{Token: p.curToken}
		param.Type = p.parseTypeRef()
		if param.Type == nil {
			return nil, false, false
		}
		if p.curTokenIs(token.IDENT) {
			param.Name = p.curToken.Lexeme
			p.nextToken()
		}
		if p.curTokenIs(token.LBRACKET) || p.curTokenIs(token.LPAREN) {
			p.addError(diagnostics.ErrP006, p.curToken, "array and function parameters are not supported")
			return nil, false, false
		}
		if p.curTokenIs(token.ELLIPSIS) {
			p.addError(diagnostics.ErrP007, p.curToken, "parameter packs are not supported")
			return nil, false, false
		}
		if p.curTokenIs(token.ASSIGN) {
			p.nextToken()
			param.Default = p.collectUntil(token.COMMA, token.RPAREN)
		}
		params = append(params, param)

		if !p.curTokenIs(token.COMMA) {
			break
		}
		p.nextToken()
	}

	if !p.expectCur(token.RPAREN) {
		return nil, false, false
	}
	p.nextToken()
	return params, variadic, true
}

// collectUntil returns the source text up to the first stop token at depth
// zero.
func (p *Parser) collectUntil(stops ...token.TokenType) string {
	start := p.curToken.Offset
	depth := 0
	for !p.curTokenIs(token.EOF) {
		if depth == 0 {
			for _, s := range stops {
				if p.curTokenIs(s) {
					return strings.TrimSpace(p.source[start:p.curToken.Offset])
				}
			}
		}
		switch p.curToken.Type {
		case token.LPAREN, token.LBRACE, token.LBRACKET:
			depth++
		case token.RPAREN, token.RBRACE, token.RBRACKET:
			depth--
		}
		p.nextToken()
	}
	return strings.TrimSpace(p.source[start:])
}

// finishFields parses the rest of a data member declaration; the current
// token follows the first declarator name.
func (p *Parser) finishFields(sc *scope, static bool, typ *ast.TypeRef, nameTok token.Token) []ast.Declaration {
	if sc.class == nil {
		p.addError(diagnostics.ErrP004, nameTok, "namespace-scope variables are not supported")
		p.skipDeclaration()
		return nil
	}

	base := strings.TrimRight(typ.Text, "*& ")
	var decls []ast.Declaration
	for {
		if p.curTokenIs(token.LBRACKET) {
			p.addError(diagnostics.ErrP006, p.curToken, "array members are not supported")
			p.skipDeclaration()
			return nil
		}
		switch {
		case p.curTokenIs(token.ASSIGN):
			p.nextToken()
			p.collectUntil(token.COMMA, token.SEMICOLON)
		case p.curTokenIs(token.LBRACE):
			p.skipBalanced(token.LBRACE, token.RBRACE)
		}

		decls = append(decls, &ast.FieldDeclaration{
			Token:  nameTok,
			Access: sc.access,
			Type:   typ,
			Name:   nameTok.Lexeme,
			Static: static,
		})

		if !p.curTokenIs(token.COMMA) {
			break
		}
		p.nextToken()

		ops := ""
		for p.curTokenIs(token.ASTERISK) || p.curTokenIs(token.AMPERSAND) {
			ops += p.curToken.Lexeme
			p.nextToken()
		}
		if !p.curTokenIs(token.IDENT) {
			p.addError(diagnostics.ErrP005, p.curToken, "expected identifier, got %s", describe(p.curToken))
			p.skipDeclaration()
			return decls
		}
		typ = &ast.TypeRef{Token: typ.Token, Text: base + ops}
		nameTok = p.curToken
		p.nextToken()
	}

	if !p.expectCur(token.SEMICOLON) {
		p.skipDeclaration()
		return decls
	}
	p.nextToken()
	return decls
}

func splitQualified(name string) (qualifier, last string) {
	if i := strings.LastIndex(name, "::"); i >= 0 {
		return name[:i], name[i+2:]
	}
	return "", name
}

func lastComponent(name string) string {
	_, last := splitQualified(name)
	return last
}
