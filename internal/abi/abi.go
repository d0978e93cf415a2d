// Package abi describes the contract between the bridge core and a
// Compiler Service: opaque handles, the per-method calling convention,
// marshaled argument slots and the typed error taxonomy.
package abi

import (
	"context"
	"fmt"
	"strings"
)

// GlobalScope is the qualified name of the global namespace.
const GlobalScope = "::"

// ScopeHandle identifies a named declaration scope (class or namespace).
// Zero is never a valid handle.
type ScopeHandle uint64

// MethodHandle identifies one fully resolved instantiation of a method.
type MethodHandle uint64

// FuncAddr is a native entry point bound to a MethodHandle.
type FuncAddr uint64

// Addr is the address of native memory.
type Addr uint64

func (h ScopeHandle) String() string  { return fmt.Sprintf("scope#%d", uint64(h)) }
func (h MethodHandle) String() string { return fmt.Sprintf("method#%d", uint64(h)) }
func (a FuncAddr) String() string     { return fmt.Sprintf("fn@%#x", uint64(a)) }
func (a Addr) String() string         { return fmt.Sprintf("%#x", uint64(a)) }

// Service is the Compiler Service surface consumed by the core.
//
// Implementations are not required to be safe for concurrent use; callers
// serialize access the same way they would serialize a compilation.
type Service interface {
	// Parse ingests top-level declarations into the symbol table.
	Parse(ctx context.Context, code string) error
	// LookupName resolves a qualified name to a scope.
	LookupName(ctx context.Context, name string) (ScopeHandle, error)
	// CreateObject allocates and default-initializes an instance.
	CreateObject(ctx context.Context, scope ScopeHandle) (Addr, error)
	// DestroyObject runs the destructor and releases the instance.
	DestroyObject(ctx context.Context, scope ScopeHandle, addr Addr) error
	// InstantiateTemplate resolves name within scope. name is either a plain
	// template name, in which case args is the comma-joined list of argument
	// types, or a full name with a bracketed argument list and empty args.
	InstantiateTemplate(ctx context.Context, scope ScopeHandle, name, args string) (MethodHandle, error)
	// GetFunctionAddress returns the native entry point of method.
	GetFunctionAddress(ctx context.Context, method MethodHandle) (FuncAddr, error)
	// Signature returns the calling convention of method.
	Signature(ctx context.Context, method MethodHandle) (Signature, error)
	// Call invokes fn with marshaled slots laid out per sig.
	Call(ctx context.Context, fn FuncAddr, sig Signature, slots []Slot) (Slot, error)
	// Close releases the compilation session.
	Close() error
}

// JoinTypes renders an ordered TypeDescriptor list.
func JoinTypes(types []string) string {
	return strings.Join(types, ", ")
}

// SplitTypes splits a comma-joined TypeDescriptor list, honoring nested
// angle brackets and parentheses.
func SplitTypes(s string) []string {
	var (
		out   []string
		depth int
		start int
	)

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<', '(', '[':
			depth++
		case '>', ')', ']':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}

	if last := strings.TrimSpace(s[start:]); last != "" || len(out) > 0 {
		out = append(out, last)
	}

	return out
}

// SplitTemplateName splits "name<args>" into its plain name and the bracket
// contents. ok is false when name carries no argument list.
func SplitTemplateName(name string) (plain, args string, ok bool) {
	name = strings.TrimSpace(name)
	if !strings.HasSuffix(name, ">") {
		return name, "", false
	}

	depth := 0
	for i := len(name) - 1; i >= 0; i-- {
		switch name[i] {
		case '>':
			depth++
		case '<':
			depth--
			if depth == 0 {
				plain = strings.TrimSpace(name[:i])
				// operator<=> is not an argument list.
				if plain == "" || strings.HasSuffix(plain, "operator") {
					return name, "", false
				}

				return plain, strings.TrimSpace(name[i+1 : len(name)-1]), true
			}
		}
	}

	return name, "", false
}
