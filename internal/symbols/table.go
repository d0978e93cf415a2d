// Package symbols stores the declarations entered by the reference compiler
// in an in-memory SQLite database.
//
// Scope and instantiation row ids double as the handles the compiler hands
// out, so they are never zero.
package symbols

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound     = errors.New("symbol not found")
	ErrRedefinition = errors.New("redefinition")
)

const schema = `
CREATE TABLE scopes (
	id       INTEGER PRIMARY KEY,
	name     TEXT NOT NULL UNIQUE,
	kind     TEXT NOT NULL,
	parent   INTEGER REFERENCES scopes(id),
	complete INTEGER NOT NULL DEFAULT 0,
	final    INTEGER NOT NULL DEFAULT 0,
	file     TEXT NOT NULL DEFAULT '',
	line     INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE bases (
	scope   INTEGER NOT NULL REFERENCES scopes(id),
	ord     INTEGER NOT NULL,
	base    INTEGER NOT NULL REFERENCES scopes(id),
	access  TEXT NOT NULL,
	virtual INTEGER NOT NULL,
	PRIMARY KEY (scope, ord)
);
CREATE TABLE fields (
	scope  INTEGER NOT NULL REFERENCES scopes(id),
	ord    INTEGER NOT NULL,
	name   TEXT NOT NULL,
	type   TEXT NOT NULL,
	access TEXT NOT NULL,
	static INTEGER NOT NULL,
	PRIMARY KEY (scope, ord),
	UNIQUE (scope, name)
);
CREATE TABLE functions (
	id          INTEGER PRIMARY KEY,
	scope       INTEGER NOT NULL REFERENCES scopes(id),
	name        TEXT NOT NULL,
	sigkey      TEXT NOT NULL,
	kind        TEXT NOT NULL,
	access      TEXT NOT NULL,
	tparams     TEXT NOT NULL,
	result      TEXT NOT NULL,
	params      TEXT NOT NULL,
	param_names TEXT NOT NULL,
	variadic    INTEGER NOT NULL,
	static      INTEGER NOT NULL,
	virtual     INTEGER NOT NULL,
	pure        INTEGER NOT NULL,
	const       INTEGER NOT NULL,
	deleted     INTEGER NOT NULL,
	defaulted   INTEGER NOT NULL,
	extern_c    INTEGER NOT NULL,
	body        TEXT,
	file        TEXT NOT NULL,
	line        INTEGER NOT NULL,
	UNIQUE (scope, sigkey)
);
CREATE INDEX functions_by_name ON functions(scope, name);
CREATE TABLE instantiations (
	id       INTEGER PRIMARY KEY,
	function INTEGER NOT NULL REFERENCES functions(id),
	targs    TEXT NOT NULL,
	explicit INTEGER NOT NULL,
	UNIQUE (function, targs)
);
`

// GlobalScopeID is the id of the global namespace, created by Open.
const GlobalScopeID int64 = 1

// Table is the symbol table of one compiler session.
type Table struct {
	db *sql.DB
}

// Open creates an empty symbol table holding only the global namespace.
func Open(ctx context.Context) (*Table, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open symbol table: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create symbol table: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO scopes (id, name, kind, complete) VALUES (?, '::', ?, 1)`,
		GlobalScopeID, Namespace); err != nil {
		db.Close()
		return nil, fmt.Errorf("create global scope: %w", err)
	}
	return &Table{db: db}, nil
}

func (t *Table) Close() error {
	return t.db.Close()
}

// ScopeKind is namespace or a class-key.
type ScopeKind string

const (
	Namespace ScopeKind = "namespace"
	Class     ScopeKind = "class"
	Struct    ScopeKind = "struct"
	Union     ScopeKind = "union"
)

// IsClass reports whether k names a class type.
func (k ScopeKind) IsClass() bool { return k != Namespace }

// Scope is a namespace or a class.
type Scope struct {
	ID       int64
	Name     string // Qualified, without leading ::
	Kind     ScopeKind
	Parent   int64
	Complete bool // false for a class that is only forward declared
	Final    bool
	File     string
	Line     int
}

// DefineScope enters s, or returns the existing scope of the same name.
// Namespaces may be reopened and forward declarations completed; a second
// class definition is ErrRedefinition.
func (t *Table) DefineScope(ctx context.Context, s Scope) (int64, error) {
	old, err := t.ScopeByName(ctx, s.Name)
	switch {
	case errors.Is(err, ErrNotFound):
		res, err := t.db.ExecContext(ctx,
			`INSERT INTO scopes (name, kind, parent, complete, final, file, line) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			s.Name, s.Kind, s.Parent, s.Complete, s.Final, s.File, s.Line)
		if err != nil {
			return 0, fmt.Errorf("define scope %s: %w", s.Name, err)
		}
		return res.LastInsertId()
	case err != nil:
		return 0, err
	}

	if old.Kind.IsClass() != s.Kind.IsClass() {
		return old.ID, fmt.Errorf("%w of %s as a different kind of symbol", ErrRedefinition, s.Name)
	}
	if !s.Kind.IsClass() || !s.Complete {
		return old.ID, nil
	}
	if old.Complete {
		return old.ID, fmt.Errorf("%w of class %s", ErrRedefinition, s.Name)
	}
	_, err = t.db.ExecContext(ctx,
		`UPDATE scopes SET kind = ?, complete = 1, final = ?, file = ?, line = ? WHERE id = ?`,
		s.Kind, s.Final, s.File, s.Line, old.ID)
	if err != nil {
		return 0, fmt.Errorf("complete scope %s: %w", s.Name, err)
	}
	return old.ID, nil
}

const scopeColumns = `id, name, kind, COALESCE(parent, 0), complete, final, file, line`

func scanScope(row interface{ Scan(...any) error }) (Scope, error) {
	var s Scope
	err := row.Scan(&s.ID, &s.Name, &s.Kind, &s.Parent, &s.Complete, &s.Final, &s.File, &s.Line)
	return s, err
}

// ScopeByName finds a scope by qualified name. "::" and a leading "::" are
// accepted.
func (t *Table) ScopeByName(ctx context.Context, name string) (Scope, error) {
	if name != "::" {
		name = strings.TrimPrefix(name, "::")
	}
	s, err := scanScope(t.db.QueryRowContext(ctx, `SELECT `+scopeColumns+` FROM scopes WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return Scope{}, fmt.Errorf("scope %s: %w", name, ErrNotFound)
	}
	return s, err
}

func (t *Table) ScopeByID(ctx context.Context, id int64) (Scope, error) {
	s, err := scanScope(t.db.QueryRowContext(ctx, `SELECT `+scopeColumns+` FROM scopes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Scope{}, fmt.Errorf("scope #%d: %w", id, ErrNotFound)
	}
	return s, err
}

// Scopes lists every scope in definition order.
func (t *Table) Scopes(ctx context.Context) ([]Scope, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT `+scopeColumns+` FROM scopes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Scope
	for rows.Next() {
		s, err := scanScope(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Base is one direct base class.
type Base struct {
	Scope   int64
	Access  string
	Virtual bool
}

func (t *Table) AddBase(ctx context.Context, scope int64, b Base) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO bases (scope, ord, base, access, virtual)
		 VALUES (?, (SELECT COUNT(*) FROM bases WHERE scope = ?), ?, ?, ?)`,
		scope, scope, b.Scope, b.Access, b.Virtual)
	return err
}

// Bases returns the direct bases of scope in declaration order.
func (t *Table) Bases(ctx context.Context, scope int64) ([]Base, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT base, access, virtual FROM bases WHERE scope = ? ORDER BY ord`, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Base
	for rows.Next() {
		var b Base
		if err := rows.Scan(&b.Scope, &b.Access, &b.Virtual); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Field is a data member.
type Field struct {
	Scope  int64
	Name   string
	Type   string
	Access string
	Static bool
}

func (t *Table) AddField(ctx context.Context, f Field) error {
	var n int
	if err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fields WHERE scope = ? AND name = ?`, f.Scope, f.Name).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w of member %s", ErrRedefinition, f.Name)
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO fields (scope, ord, name, type, access, static)
		 VALUES (?, (SELECT COUNT(*) FROM fields WHERE scope = ?), ?, ?, ?, ?)`,
		f.Scope, f.Scope, f.Name, f.Type, f.Access, f.Static)
	return err
}

// Fields returns the data members of scope in declaration order.
func (t *Table) Fields(ctx context.Context, scope int64) ([]Field, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT scope, name, type, access, static FROM fields WHERE scope = ? ORDER BY ord`, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Field
	for rows.Next() {
		var f Field
		if err := rows.Scan(&f.Scope, &f.Name, &f.Type, &f.Access, &f.Static); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
