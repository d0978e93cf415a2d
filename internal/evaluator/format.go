package evaluator

import (
	"fmt"
	"strings"
)

const formatFlags = "#+- 0"

// lengthModifiers are accepted and dropped: argument widths come from the
// evaluated values.
const lengthModifiers = "hljztLq"

func isAllowedFormatVerb(verb byte) bool {
	switch verb {
	case 'd', 'i', 'u', 'o', 'x', 'X', 'e', 'E', 'f', 'F', 'g', 'G', 'a', 'A', 'c', 's', 'p':
		return true
	default:
		return false
	}
}

// argRole is what a printf argument feeds: a conversion, or a width or
// precision ('*').
type argRole struct {
	verb byte
	long bool
}

// translateFormat rewrites a C printf format into a Go fmt format and
// returns the role of each consumed argument.
func translateFormat(cfmt string) (string, []argRole, error) {
	var sb strings.Builder
	var roles []argRole
	for i := 0; i < len(cfmt); i++ {
		if cfmt[i] != '%' {
			sb.WriteByte(cfmt[i])
			continue
		}
		if i+1 >= len(cfmt) {
			return "", nil, fmt.Errorf("unterminated format verb")
		}
		if cfmt[i+1] == '%' {
			sb.WriteString("%%")
			i++
			continue
		}
		j := i + 1
		spec := []byte{'%'}
		for j < len(cfmt) && strings.IndexByte(formatFlags, cfmt[j]) >= 0 {
			spec = append(spec, cfmt[j])
			j++
		}
		if j < len(cfmt) && cfmt[j] == '*' {
			spec = append(spec, '*')
			roles = append(roles, argRole{verb: '*'})
			j++
		}
		for j < len(cfmt) && cfmt[j] >= '0' && cfmt[j] <= '9' {
			spec = append(spec, cfmt[j])
			j++
		}
		if j < len(cfmt) && cfmt[j] == '.' {
			spec = append(spec, '.')
			j++
			if j < len(cfmt) && cfmt[j] == '*' {
				spec = append(spec, '*')
				roles = append(roles, argRole{verb: '*'})
				j++
			}
			for j < len(cfmt) && cfmt[j] >= '0' && cfmt[j] <= '9' {
				spec = append(spec, cfmt[j])
				j++
			}
		}
		long := false
		for j < len(cfmt) && strings.IndexByte(lengthModifiers, cfmt[j]) >= 0 {
			long = long || cfmt[j] != 'h'
			j++
		}
		if j >= len(cfmt) {
			return "", nil, fmt.Errorf("unterminated format verb")
		}
		verb := cfmt[j]
		if !isAllowedFormatVerb(verb) {
			return "", nil, fmt.Errorf("invalid format verb %%%c", verb)
		}
		roles = append(roles, argRole{verb: verb, long: long})
		switch verb {
		case 'i', 'u':
			spec = append(spec, 'd')
		case 'F':
			spec = append(spec, 'f')
		case 'a':
			spec = append(spec, 'x')
		case 'A':
			spec = append(spec, 'X')
		case 'p':
			spec = append(spec[:1], append([]byte{'#'}, append(spec[1:], 'x')...)...)
		default:
			spec = append(spec, verb)
		}
		sb.Write(spec)
		i = j
	}
	return sb.String(), roles, nil
}

// formatC formats args with a C printf format.
func formatC(cfmt string, args []any) (string, error) {
	gofmt, roles, err := translateFormat(cfmt)
	if err != nil {
		return "", err
	}
	if len(args) < len(roles) {
		return "", fmt.Errorf("format %q needs %d arguments, got %d", cfmt, len(roles), len(args))
	}
	conv := make([]any, len(roles))
	for i, role := range roles {
		conv[i] = role.convert(args[i])
	}
	return fmt.Sprintf(gofmt, conv...), nil
}

// convert adapts an evaluated value to what the Go verb prints the way C
// would: unsigned conversions see two's complement bits.
func (r argRole) convert(v any) any {
	switch r.verb {
	case '*':
		if n, ok := toInt64(v); ok {
			return int(n)
		}
	case 'c':
		if n, ok := toInt64(v); ok {
			return rune(n)
		}
	case 'd', 'i':
		if f, ok := v.(float64); ok {
			return int64(f)
		}
	case 'u', 'o', 'x', 'X':
		if _, isFloat := v.(float64); isFloat && r.verb != 'u' {
			return v
		}
		if n, ok := toInt64(v); ok {
			if r.long {
				return uint64(n)
			}
			return uint32(n)
		}
	}
	return v
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
