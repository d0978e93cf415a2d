package compiler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/funvibe/cxbridge/internal/ast"
	"github.com/funvibe/cxbridge/internal/config"
	"github.com/funvibe/cxbridge/internal/diagnostics"
	"github.com/funvibe/cxbridge/internal/symbols"
	"github.com/funvibe/cxbridge/internal/token"
	"github.com/funvibe/cxbridge/internal/typesystem"
)

// declarer enters a parsed program into the symbol table.
type declarer struct {
	ctx  context.Context
	s    *Service
	file string

	scope    symbols.Scope    // innermost enclosing scope
	defining map[string]bool // classes whose bodies are being entered
	errs     diagnostics.List
}

var _ ast.Visitor = (*declarer)(nil)

func newDeclarer(ctx context.Context, s *Service, file string) *declarer {
	return &declarer{
		ctx:      ctx,
		s:        s,
		file:     file,
		scope:    symbols.Scope{ID: symbols.GlobalScopeID, Name: "::", Kind: symbols.Namespace, Complete: true},
		defining: make(map[string]bool),
	}
}

func (d *declarer) errorf(code diagnostics.ErrorCode, tok token.Token, format string, args ...any) {
	e := diagnostics.NewError(code, tok, fmt.Sprintf(format, args...))
	e.File = d.file
	d.errs = append(d.errs, e)
}

func (d *declarer) fail(tok token.Token, err error) {
	code := diagnostics.ErrS002
	if errors.Is(err, symbols.ErrRedefinition) {
		code = diagnostics.ErrS001
	}
	d.errorf(code, tok, "%v", err)
}

// within runs fn with sc as the enclosing scope.
func (d *declarer) within(sc symbols.Scope, fn func()) {
	saved := d.scope
	d.scope = sc
	fn()
	d.scope = saved
}

func (d *declarer) VisitProgram(p *ast.Program) {
	for _, decl := range p.Declarations {
		decl.Accept(d)
	}
}

func (d *declarer) VisitNamespace(n *ast.NamespaceDeclaration) {
	if n.Name == "" {
		// Members of an anonymous namespace are visible in the enclosing one.
		for _, decl := range n.Declarations {
			decl.Accept(d)
		}
		return
	}

	sc := d.scope
	for _, part := range strings.Split(n.Name, "::") {
		next := symbols.Scope{
			Name:     qualify(prefixOf(sc), part),
			Kind:     symbols.Namespace,
			Parent:   sc.ID,
			Complete: true,
			File:     d.file,
			Line:     n.Token.Line,
		}
		id, err := d.s.table.DefineScope(d.ctx, next)
		if err != nil {
			d.fail(n.Token, err)
			return
		}
		next.ID = id
		sc = next
	}

	d.within(sc, func() {
		for _, decl := range n.Declarations {
			decl.Accept(d)
		}
	})
}

func (d *declarer) VisitClass(c *ast.ClassDeclaration) {
	// Nested class names arrive as Outer::Inner; qualify with the
	// enclosing namespace only.
	ns := d.scope
	for ns.Kind.IsClass() {
		parent, err := d.s.table.ScopeByID(d.ctx, ns.Parent)
		if err != nil {
			d.fail(c.Token, err)
			return
		}
		ns = parent
	}

	sc := symbols.Scope{
		Name:     qualify(prefixOf(ns), c.Name),
		Kind:     symbols.ScopeKind(c.Key),
		Parent:   d.scope.ID,
		Complete: !c.Forward,
		Final:    c.Final,
		File:     d.file,
		Line:     c.Token.Line,
	}
	id, err := d.s.table.DefineScope(d.ctx, sc)
	if err != nil {
		d.fail(c.Token, err)
		return
	}
	sc.ID = id
	if c.Forward {
		return
	}

	for _, b := range c.Bases {
		d.addBase(sc, b)
	}

	d.defining[sc.Name] = true
	d.within(sc, func() {
		for _, m := range c.Members {
			m.Accept(d)
		}
	})
	delete(d.defining, sc.Name)
}

func (d *declarer) addBase(sc symbols.Scope, b ast.BaseSpecifier) {
	base, err := d.s.resolveScope(d.ctx, prefixOf(d.scope), b.Type.Text)
	switch {
	case err != nil:
		d.errorf(diagnostics.ErrS003, b.Type.Token, "base class %s is not declared", b.Type.Text)
		return
	case !base.Kind.IsClass():
		d.errorf(diagnostics.ErrS003, b.Type.Token, "%s is not a class", base.Name)
		return
	case !base.Complete || d.defining[base.Name]:
		d.errorf(diagnostics.ErrS003, b.Type.Token, "base class %s is incomplete", base.Name)
		return
	case base.Final:
		d.errorf(diagnostics.ErrS003, b.Type.Token, "cannot derive from final class %s", base.Name)
		return
	case base.Kind == symbols.Union || sc.Kind == symbols.Union:
		d.errorf(diagnostics.ErrS003, b.Type.Token, "unions cannot take part in inheritance")
		return
	}

	if err := d.s.table.AddBase(d.ctx, sc.ID, symbols.Base{Scope: base.ID, Access: string(b.Access), Virtual: b.Virtual}); err != nil {
		d.fail(b.Type.Token, err)
	}
}

func (d *declarer) VisitField(f *ast.FieldDeclaration) {
	if !d.scope.Kind.IsClass() {
		d.errorf(diagnostics.ErrS002, f.Token, "variable %s outside a class", f.Name)
		return
	}

	typ, err := d.qualifyType(d.scope, f.Type.Text, nil)
	if err != nil {
		d.errorf(diagnostics.ErrS002, f.Type.Token, "%v", err)
		return
	}
	if !f.Static {
		if err := d.checkComplete(typ); err != nil {
			d.errorf(diagnostics.ErrS002, f.Type.Token, "field %s: %v", f.Name, err)
			return
		}
	}

	err = d.s.table.AddField(d.ctx, symbols.Field{
		Scope:  d.scope.ID,
		Name:   f.Name,
		Type:   typ,
		Access: string(f.Access),
		Static: f.Static,
	})
	if err != nil {
		d.fail(f.Token, err)
	}
}

// checkComplete rejects by-value members of a type with no layout.
func (d *declarer) checkComplete(text string) error {
	t, err := typesystem.Parse(text, nil)
	if err != nil {
		return err
	}
	if !typesystem.IsObject(t) {
		if text == config.VoidTypeName {
			return fmt.Errorf("has type void")
		}
		return nil
	}
	sc, err := d.s.table.ScopeByName(d.ctx, t.String())
	if err != nil || !sc.Kind.IsClass() {
		return fmt.Errorf("unknown type %s", text)
	}
	if !sc.Complete || d.defining[sc.Name] {
		return fmt.Errorf("incomplete type %s", sc.Name)
	}
	return nil
}

func (d *declarer) VisitFunction(f *ast.FunctionDeclaration) {
	owner := d.scope
	if f.Qualifier != "" {
		sc, err := d.s.resolveScope(d.ctx, prefixOf(d.scope), f.Qualifier)
		if err != nil {
			d.errorf(diagnostics.ErrS002, f.Token, "unknown scope %s", f.Qualifier)
			return
		}
		owner = sc
	}

	fn, err := d.function(owner, f)
	if err != nil {
		d.errorf(diagnostics.ErrS002, f.Token, "%s: %v", f.Name, err)
		return
	}

	if f.Qualifier != "" {
		d.define(owner, f, fn)
		return
	}
	if _, err := d.s.table.AddFunction(d.ctx, fn); err != nil {
		d.fail(f.Token, err)
	}
}

// function converts f to its symbol table form, resolving types from owner.
func (d *declarer) function(owner symbols.Scope, f *ast.FunctionDeclaration) (symbols.Function, error) {
	fn := symbols.Function{
		Scope:          owner.ID,
		Name:           f.Name,
		Kind:           functionKind(f.Kind),
		Access:         string(f.Access),
		TemplateParams: f.TemplateParams,
		ParamNames:     f.ParamNames(),
		Variadic:       f.Variadic,
		Static:         f.Static,
		Virtual:        f.Virtual,
		Pure:           f.Pure,
		Const:          f.Const,
		Deleted:        f.Deleted,
		Defaulted:      f.Defaulted,
		ExternC:        f.ExternC,
		File:           d.file,
		Line:           f.Token.Line,
	}
	if !owner.Kind.IsClass() {
		fn.Kind = symbols.FreeFunction
	}
	if fn.Access == "" {
		fn.Access = string(ast.Public)
	}
	if f.Body != nil {
		fn.Body, fn.HasBody = f.Body.Text, true
	}

	fn.Result = config.VoidTypeName
	if f.Result != nil {
		r, err := d.qualifyType(owner, f.Result.Text, f.TemplateParams)
		if err != nil {
			return fn, err
		}
		fn.Result = r
	}
	for _, p := range f.Params {
		t, err := d.qualifyType(owner, p.Type.Text, f.TemplateParams)
		if err != nil {
			return fn, err
		}
		fn.Params = append(fn.Params, t)
	}
	return fn, nil
}

func functionKind(k ast.FunctionKind) symbols.FunctionKind {
	switch k {
	case ast.Method:
		return symbols.Method
	case ast.Constructor:
		return symbols.Constructor
	case ast.Destructor:
		return symbols.Destructor
	}
	return symbols.FreeFunction
}

// define attaches an out-of-class definition to the matching declaration.
func (d *declarer) define(owner symbols.Scope, f *ast.FunctionDeclaration, fn symbols.Function) {
	decls, err := d.s.table.Functions(d.ctx, owner.ID, fn.Name)
	if err != nil {
		d.fail(f.Token, err)
		return
	}

	want := shape(fn.Params, fn.TemplateParams)
	for _, decl := range decls {
		if decl.Const != fn.Const || decl.Variadic != fn.Variadic ||
			len(decl.TemplateParams) != len(fn.TemplateParams) ||
			shape(decl.Params, decl.TemplateParams) != want {
			continue
		}
		if !fn.HasBody {
			return
		}
		if decl.HasBody {
			d.errorf(diagnostics.ErrS001, f.Token, "redefinition of %s::%s", owner.Name, fn.Name)
			return
		}
		if err := d.s.table.SetBody(d.ctx, decl.ID, fn.Body); err != nil {
			d.fail(f.Token, err)
		}
		return
	}

	if !owner.Kind.IsClass() {
		// A namespace member may be declared by its qualified definition.
		if _, err := d.s.table.AddFunction(d.ctx, fn); err != nil {
			d.fail(f.Token, err)
		}
		return
	}
	d.errorf(diagnostics.ErrS002, f.Token, "no member %s(%s) declared in %s", fn.Name, strings.Join(fn.Params, ", "), owner.Name)
}

// shape renders parameter types with template parameters replaced by their
// position, so redeclarations with renamed parameters compare equal.
func shape(params, tparams []string) string {
	set := tparamSet(tparams)
	s := typesystem.Subst{}
	for i, tp := range tparams {
		s[tp] = typesystem.TCon{Name: fmt.Sprintf("$%d", i)}
	}
	parts := make([]string, len(params))
	for i, p := range params {
		t, err := typesystem.Parse(p, set)
		if err != nil {
			parts[i] = p
			continue
		}
		parts[i] = t.Apply(s).String()
	}
	return strings.Join(parts, ", ")
}

func (d *declarer) VisitInstantiation(i *ast.InstantiationDeclaration) {
	owner := d.scope
	if i.Qualifier != "" {
		sc, err := d.s.resolveScope(d.ctx, prefixOf(d.scope), i.Qualifier)
		if err != nil {
			d.errorf(diagnostics.ErrS002, i.Token, "unknown scope %s", i.Qualifier)
			return
		}
		owner = sc
	}

	args, err := d.types(owner, i.TemplateArgs)
	if err != nil {
		d.errorf(diagnostics.ErrS002, i.Token, "%v", err)
		return
	}
	params, err := d.types(owner, i.Params)
	if err != nil {
		d.errorf(diagnostics.ErrS002, i.Token, "%v", err)
		return
	}

	fns, err := d.s.table.Functions(d.ctx, owner.ID, i.Name)
	if err != nil {
		d.fail(i.Token, err)
		return
	}

	var matched []symbols.Instantiation
	for _, fn := range fns {
		targs, ok := explicitMatch(fn, args, params)
		if !ok {
			continue
		}
		inst, err := d.s.table.Instantiate(d.ctx, fn.ID, targs, true)
		if err != nil {
			d.fail(i.Token, err)
			return
		}
		matched = append(matched, inst)
	}

	name := qualify(prefixOf(owner), i.Name)
	switch len(matched) {
	case 0:
		d.errorf(diagnostics.ErrS004, i.Token, "explicit instantiation of %s<%s>(%s) does not match any template",
			name, typesystem.Join(args), typesystem.Join(params))
	case 1:
	default:
		d.errorf(diagnostics.ErrS004, i.Token, "explicit instantiation of %s matches %d templates", name, len(matched))
	}
}

// explicitMatch reports whether fn instantiated as declared by an explicit
// instantiation with template arguments args (possibly empty, then deduced)
// has exactly the parameter types params.
func explicitMatch(fn symbols.Function, args, params []typesystem.Type) (string, bool) {
	if !fn.IsTemplate() || fn.Variadic || len(fn.Params) != len(params) || len(args) > len(fn.TemplateParams) {
		return "", false
	}
	declared, err := paramTypes(fn)
	if err != nil {
		return "", false
	}

	s := typesystem.Subst{}
	for k, a := range args {
		s[fn.TemplateParams[k]] = a
	}
	if len(args) < len(fn.TemplateParams) {
		// Trailing arguments are deduced from the parameter list.
		partial := typesystem.Instantiate(declared, s)
		deduced, err := typesystem.Deduce(partial, params, fn.TemplateParams[len(args):])
		if err != nil {
			return "", false
		}
		for k, v := range deduced {
			s[k] = v
		}
	}

	got := typesystem.Instantiate(declared, s)
	for k := range got {
		if !typesystem.Equal(got[k], params[k]) {
			return "", false
		}
	}
	return typesystem.Join(s.Args(fn.TemplateParams)), true
}

func (d *declarer) types(owner symbols.Scope, refs []*ast.TypeRef) ([]typesystem.Type, error) {
	out := make([]typesystem.Type, 0, len(refs))
	for _, r := range refs {
		text, err := d.qualifyType(owner, r.Text, nil)
		if err != nil {
			return nil, err
		}
		t, err := typesystem.Parse(text, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// qualifyType renders text canonically with class names qualified as seen
// from owner. Names that resolve to no class are kept as written.
func (d *declarer) qualifyType(owner symbols.Scope, text string, tparams []string) (string, error) {
	t, err := typesystem.Parse(text, tparamSet(tparams))
	if err != nil {
		return "", err
	}
	t = typesystem.ReplaceTCon(t, func(name string) string {
		if _, ok := config.LookupBuiltin(name); ok {
			return name
		}
		if sc, err := d.s.resolveScope(d.ctx, prefixOf(owner), name); err == nil && sc.Kind.IsClass() {
			return sc.Name
		}
		return name
	})
	return t.String(), nil
}

func tparamSet(tparams []string) map[string]bool {
	if len(tparams) == 0 {
		return nil
	}
	set := make(map[string]bool, len(tparams))
	for _, tp := range tparams {
		set[tp] = true
	}
	return set
}

// paramTypes parses the declared parameter types of fn.
func paramTypes(fn symbols.Function) ([]typesystem.Type, error) {
	set := tparamSet(fn.TemplateParams)
	out := make([]typesystem.Type, len(fn.Params))
	for i, p := range fn.Params {
		t, err := typesystem.Parse(p, set)
		if err != nil {
			return nil, fmt.Errorf("parameter %d of %s: %w", i+1, fn.Name, err)
		}
		out[i] = t
	}
	return out, nil
}
