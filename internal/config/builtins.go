package config

import (
	"sort"
	"strings"

	"github.com/funvibe/cxbridge/internal/abi"
)

// BuiltinType describes a fundamental native type.
type BuiltinType struct {
	Name  string
	Width int
	Kind  abi.Kind
}

// Builtin type names
const (
	VoidTypeName      = "void"
	BoolTypeName      = "bool"
	CharTypeName      = "char"
	SCharTypeName     = "signed char"
	UCharTypeName     = "unsigned char"
	ShortTypeName     = "short"
	UShortTypeName    = "unsigned short"
	IntTypeName       = "int"
	UIntTypeName      = "unsigned int"
	LongTypeName      = "long"
	ULongTypeName     = "unsigned long"
	LongLongTypeName  = "long long"
	ULongLongTypeName = "unsigned long long"
	FloatTypeName     = "float"
	DoubleTypeName    = "double"
	VoidPtrTypeName   = "void*"
)

var builtinTypes = map[string]BuiltinType{}

func init() {
	for _, b := range []BuiltinType{
		{VoidTypeName, 0, abi.Void},
		{BoolTypeName, 1, abi.Bool},
		{CharTypeName, 1, abi.Int},
		{SCharTypeName, 1, abi.Int},
		{UCharTypeName, 1, abi.Uint},
		{"wchar_t", 4, abi.Int},
		{"char8_t", 1, abi.Uint},
		{"char16_t", 2, abi.Uint},
		{"char32_t", 4, abi.Uint},
		{ShortTypeName, 2, abi.Int},
		{UShortTypeName, 2, abi.Uint},
		{IntTypeName, 4, abi.Int},
		{UIntTypeName, 4, abi.Uint},
		{LongTypeName, 8, abi.Int},
		{ULongTypeName, 8, abi.Uint},
		{LongLongTypeName, 8, abi.Int},
		{ULongLongTypeName, 8, abi.Uint},
		{FloatTypeName, 4, abi.Float},
		{DoubleTypeName, 8, abi.Float},
		{"size_t", 8, abi.Uint},
		{"ptrdiff_t", 8, abi.Int},
		{"intptr_t", 8, abi.Int},
		{"uintptr_t", 8, abi.Uint},
		{"int8_t", 1, abi.Int},
		{"uint8_t", 1, abi.Uint},
		{"int16_t", 2, abi.Int},
		{"uint16_t", 2, abi.Uint},
		{"int32_t", 4, abi.Int},
		{"uint32_t", 4, abi.Uint},
		{"int64_t", 8, abi.Int},
		{"uint64_t", 8, abi.Uint},
	} {
		builtinTypes[b.Name] = b
	}
}

// LookupBuiltin returns the builtin type with the canonical name.
func LookupBuiltin(name string) (BuiltinType, bool) {
	b, ok := builtinTypes[name]
	return b, ok
}

// BuiltinNames returns all builtin type names, sorted.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtinTypes))
	for name := range builtinTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsBuiltinWord reports whether w can appear in a multi-word fundamental
// type specifier ("unsigned long int").
func IsBuiltinWord(w string) bool {
	switch w {
	case "signed", "unsigned", "short", "long", "int", "char", "bool", "float", "double", "void":
		return true
	}
	_, ok := builtinTypes[w]
	return ok
}

// CanonicalBuiltin folds the words of a fundamental type specifier into its
// canonical name: "short int" is "short", "unsigned" is "unsigned int",
// "long unsigned int" is "unsigned long". ok is false for an invalid
// combination.
func CanonicalBuiltin(words []string) (string, bool) {
	if len(words) == 0 {
		return "", false
	}
	if len(words) == 1 {
		if _, ok := builtinTypes[words[0]]; ok {
			return words[0], true
		}
	}

	var signed, unsigned, short, long, intw int
	var base string
	for _, w := range words {
		switch w {
		case "signed":
			signed++
		case "unsigned":
			unsigned++
		case "short":
			short++
		case "long":
			long++
		case "int":
			intw++
		case "char", "bool", "float", "double", "void":
			if base != "" {
				return "", false
			}
			base = w
		default:
			return "", false
		}
	}

	if signed+unsigned > 1 || intw > 1 || (short > 0 && long > 0) || short > 1 || long > 2 {
		return "", false
	}

	prefix := ""
	if unsigned > 0 {
		prefix = "unsigned "
	}

	switch base {
	case "char":
		if short+long+intw > 0 {
			return "", false
		}
		switch {
		case signed > 0:
			return SCharTypeName, true
		case unsigned > 0:
			return UCharTypeName, true
		}
		return CharTypeName, true
	case "double":
		if signed+unsigned+short+intw > 0 || long > 0 {
			// long double is not representable in a slot.
			return "", false
		}
		return DoubleTypeName, true
	case "bool", "float", "void":
		if signed+unsigned+short+long+intw > 0 {
			return "", false
		}
		return base, true
	}

	switch {
	case short > 0:
		return prefix + ShortTypeName, true
	case long == 1:
		return prefix + LongTypeName, true
	case long == 2:
		return prefix + LongLongTypeName, true
	}
	return strings.TrimSpace(prefix + IntTypeName), true
}
