package symbols

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// FunctionKind distinguishes free functions from special members.
type FunctionKind string

const (
	FreeFunction FunctionKind = "function"
	Method       FunctionKind = "method"
	Constructor  FunctionKind = "constructor"
	Destructor   FunctionKind = "destructor"
)

// Function is a declared function or function template. Params and Result
// are canonical type text; template parameters appear by name.
type Function struct {
	ID             int64
	Scope          int64
	Name           string
	Kind           FunctionKind
	Access         string
	TemplateParams []string
	Result         string
	Params         []string
	ParamNames     []string
	Variadic       bool
	Static         bool
	Virtual        bool
	Pure           bool
	Const          bool
	Deleted        bool
	Defaulted      bool
	ExternC        bool
	Body           string
	HasBody        bool
	File           string
	Line           int
}

func (f *Function) IsTemplate() bool { return len(f.TemplateParams) > 0 }

// HasReceiver reports whether calls pass an object address first.
func (f *Function) HasReceiver() bool {
	return f.Kind != FreeFunction && !f.Static
}

// sigKey identifies redeclarations of the same function.
func (f *Function) sigKey() string {
	var sb strings.Builder
	sb.WriteString(f.Name)
	if len(f.TemplateParams) > 0 {
		fmt.Fprintf(&sb, "<%d>", len(f.TemplateParams))
	}
	sb.WriteByte('(')
	sb.WriteString(strings.Join(f.Params, ", "))
	if f.Variadic {
		sb.WriteString(", ...")
	}
	sb.WriteByte(')')
	if f.Const {
		sb.WriteString(" const")
	}
	return sb.String()
}

// AddFunction enters f. Redeclaring a function returns the existing id; a
// later definition supplies the body. Two definitions are ErrRedefinition.
func (t *Table) AddFunction(ctx context.Context, f Function) (int64, error) {
	key := f.sigKey()

	var id int64
	var body sql.NullString
	err := t.db.QueryRowContext(ctx, `SELECT id, body FROM functions WHERE scope = ? AND sigkey = ?`, f.Scope, key).Scan(&id, &body)
	switch {
	case err == nil:
		if !f.HasBody {
			return id, nil
		}
		if body.Valid {
			return id, fmt.Errorf("%w of %s", ErrRedefinition, key)
		}
		return id, t.SetBody(ctx, id, f.Body)
	case !errors.Is(err, sql.ErrNoRows):
		return 0, err
	}

	tparams, _ := json.Marshal(nonNil(f.TemplateParams))
	params, _ := json.Marshal(nonNil(f.Params))
	names, _ := json.Marshal(nonNil(f.ParamNames))
	body = sql.NullString{String: f.Body, Valid: f.HasBody}

	res, err := t.db.ExecContext(ctx,
		`INSERT INTO functions (scope, name, sigkey, kind, access, tparams, result, params, param_names,
			variadic, static, virtual, pure, const, deleted, defaulted, extern_c, body, file, line)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Scope, f.Name, key, f.Kind, f.Access, string(tparams), f.Result, string(params), string(names),
		f.Variadic, f.Static, f.Virtual, f.Pure, f.Const, f.Deleted, f.Defaulted, f.ExternC, body, f.File, f.Line)
	if err != nil {
		return 0, fmt.Errorf("add function %s: %w", key, err)
	}
	return res.LastInsertId()
}

// SetBody attaches a definition to a declared function.
func (t *Table) SetBody(ctx context.Context, id int64, body string) error {
	_, err := t.db.ExecContext(ctx, `UPDATE functions SET body = ? WHERE id = ?`, body, id)
	return err
}

const functionColumns = `id, scope, name, kind, access, tparams, result, params, param_names,
	variadic, static, virtual, pure, const, deleted, defaulted, extern_c, body, file, line`

func scanFunction(row interface{ Scan(...any) error }) (Function, error) {
	var f Function
	var tparams, params, names string
	var body sql.NullString
	err := row.Scan(&f.ID, &f.Scope, &f.Name, &f.Kind, &f.Access, &tparams, &f.Result, &params, &names,
		&f.Variadic, &f.Static, &f.Virtual, &f.Pure, &f.Const, &f.Deleted, &f.Defaulted, &f.ExternC, &body, &f.File, &f.Line)
	if err != nil {
		return f, err
	}
	f.Body, f.HasBody = body.String, body.Valid
	if err := unmarshalList(tparams, &f.TemplateParams); err != nil {
		return f, err
	}
	if err := unmarshalList(params, &f.Params); err != nil {
		return f, err
	}
	return f, unmarshalList(names, &f.ParamNames)
}

func (t *Table) queryFunctions(ctx context.Context, query string, args ...any) ([]Function, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT `+functionColumns+` FROM functions `+query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Function
	for rows.Next() {
		f, err := scanFunction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Functions returns the functions named name declared directly in scope.
func (t *Table) Functions(ctx context.Context, scope int64, name string) ([]Function, error) {
	return t.queryFunctions(ctx, `WHERE scope = ? AND name = ? ORDER BY id`, scope, name)
}

// FunctionsOf returns every function declared directly in scope.
func (t *Table) FunctionsOf(ctx context.Context, scope int64) ([]Function, error) {
	return t.queryFunctions(ctx, `WHERE scope = ? ORDER BY id`, scope)
}

// ExternC returns the extern "C" functions with the given name in any scope.
func (t *Table) ExternC(ctx context.Context, name string) ([]Function, error) {
	return t.queryFunctions(ctx, `WHERE extern_c = 1 AND name = ? ORDER BY id`, name)
}

func (t *Table) Function(ctx context.Context, id int64) (Function, error) {
	f, err := scanFunction(t.db.QueryRowContext(ctx, `SELECT `+functionColumns+` FROM functions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Function{}, fmt.Errorf("function #%d: %w", id, ErrNotFound)
	}
	return f, err
}

// Instantiation is a function specialized for template arguments. Non-template
// functions have exactly one, with empty TemplateArgs.
type Instantiation struct {
	ID           int64
	Function     int64
	TemplateArgs string
	Explicit     bool // declared by an explicit instantiation
}

// Instantiation finds the instantiation of fn for targs.
func (t *Table) Instantiation(ctx context.Context, fn int64, targs string) (Instantiation, error) {
	inst := Instantiation{Function: fn, TemplateArgs: targs}
	err := t.db.QueryRowContext(ctx, `SELECT id, explicit FROM instantiations WHERE function = ? AND targs = ?`, fn, targs).
		Scan(&inst.ID, &inst.Explicit)
	if errors.Is(err, sql.ErrNoRows) {
		return Instantiation{}, fmt.Errorf("instantiation #%d<%s>: %w", fn, targs, ErrNotFound)
	}
	return inst, err
}

// Instantiate records the instantiation of fn for targs and returns it. An
// existing instantiation is returned unchanged, except that an explicit
// declaration marks it explicit.
func (t *Table) Instantiate(ctx context.Context, fn int64, targs string, explicit bool) (Instantiation, error) {
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO instantiations (function, targs, explicit) VALUES (?, ?, ?)
		 ON CONFLICT (function, targs) DO UPDATE SET explicit = explicit OR excluded.explicit`,
		fn, targs, explicit)
	if err != nil {
		return Instantiation{}, fmt.Errorf("instantiate #%d<%s>: %w", fn, targs, err)
	}
	return t.Instantiation(ctx, fn, targs)
}

func (t *Table) InstantiationByID(ctx context.Context, id int64) (Instantiation, error) {
	inst := Instantiation{ID: id}
	err := t.db.QueryRowContext(ctx, `SELECT function, targs, explicit FROM instantiations WHERE id = ?`, id).
		Scan(&inst.Function, &inst.TemplateArgs, &inst.Explicit)
	if errors.Is(err, sql.ErrNoRows) {
		return Instantiation{}, fmt.Errorf("instantiation #%d: %w", id, ErrNotFound)
	}
	return inst, err
}

// Instantiations lists the instantiations of fn.
func (t *Table) Instantiations(ctx context.Context, fn int64) ([]Instantiation, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT id, targs, explicit FROM instantiations WHERE function = ? ORDER BY id`, fn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Instantiation
	for rows.Next() {
		inst := Instantiation{Function: fn}
		if err := rows.Scan(&inst.ID, &inst.TemplateArgs, &inst.Explicit); err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func unmarshalList(text string, dst *[]string) error {
	var list []string
	if err := json.Unmarshal([]byte(text), &list); err != nil {
		return fmt.Errorf("decode list column: %w", err)
	}
	if len(list) > 0 {
		*dst = list
	}
	return nil
}
