package typesystem

import "fmt"

// SyntaxError reports malformed type text.
type SyntaxError struct {
	Text string
	Pos  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid type %q at offset %d: %s", e.Text, e.Pos, e.Msg)
}

// DeductionError reports why template argument deduction failed.
type DeductionError struct {
	Param string
	Arg   string
	Msg   string
}

func (e *DeductionError) Error() string {
	if e.Param == "" {
		return "deduction failed: " + e.Msg
	}
	return fmt.Sprintf("deduction failed: %s vs %s: %s", e.Param, e.Arg, e.Msg)
}

func errDeduce(p, a Type, msg string) error {
	return &DeductionError{Param: p.String(), Arg: a.String(), Msg: msg}
}
