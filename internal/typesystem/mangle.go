package typesystem

import (
	"strconv"
	"strings"
)

// builtinCodes are the Itanium ABI codes of fundamental types. Fixed-width
// aliases mangle as the type they name on LP64.
var builtinCodes = map[string]string{
	"void":               "v",
	"bool":               "b",
	"char":               "c",
	"signed char":        "a",
	"unsigned char":      "h",
	"wchar_t":            "w",
	"char8_t":            "Du",
	"char16_t":           "Ds",
	"char32_t":           "Di",
	"short":              "s",
	"unsigned short":     "t",
	"int":                "i",
	"unsigned int":       "j",
	"long":               "l",
	"unsigned long":      "m",
	"long long":          "x",
	"unsigned long long": "y",
	"float":              "f",
	"double":             "d",
	"size_t":             "m",
	"ptrdiff_t":          "l",
	"intptr_t":           "l",
	"uintptr_t":          "m",
	"int8_t":             "a",
	"uint8_t":            "h",
	"int16_t":            "s",
	"uint16_t":           "t",
	"int32_t":            "i",
	"uint32_t":           "j",
	"int64_t":            "l",
	"uint64_t":           "m",
}

// Mangle renders t the way typeid(t).name() spells it: "1A" for class A,
// "i" for int, "P1C" for C*. References are stripped.
func Mangle(t Type) string {
	var sb strings.Builder
	mangle(&sb, StripRef(t))
	return sb.String()
}

func mangle(sb *strings.Builder, t Type) {
	switch t := t.(type) {
	case TCon:
		if code, ok := builtinCodes[t.Name]; ok {
			sb.WriteString(code)
			return
		}
		mangleName(sb, t.Name, nil)
	case TApp:
		mangleName(sb, t.Constructor.Name, t.Args)
	case TPtr:
		sb.WriteByte('P')
		mangle(sb, t.Elem)
	case TRef:
		if t.RValue {
			sb.WriteByte('O')
		} else {
			sb.WriteByte('R')
		}
		mangle(sb, t.Elem)
	case TVar:
		sb.WriteString(t.Name)
	}
}

func mangleName(sb *strings.Builder, name string, args []Type) {
	parts := strings.Split(name, "::")
	nested := len(parts) > 1
	if nested {
		sb.WriteByte('N')
	}
	for _, part := range parts {
		sb.WriteString(strconv.Itoa(len(part)))
		sb.WriteString(part)
	}
	if len(args) > 0 {
		sb.WriteByte('I')
		for _, a := range args {
			mangle(sb, a)
		}
		sb.WriteByte('E')
	}
	if nested {
		sb.WriteByte('E')
	}
}
