package csvimport

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FormatError reports input that cannot be turned into questions.
// Line is the 1-based source line of the offending row, 0 for file-level problems.
type FormatError struct {
	Line   int
	Column string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	var sb strings.Builder
	if e.Line > 0 {
		fmt.Fprintf(&sb, "line %d: ", e.Line)
	}
	if e.Column != "" {
		fmt.Fprintf(&sb, "column %q: ", e.Column)
	}
	sb.WriteString(e.Reason)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *FormatError) Unwrap() error { return e.Err }

// IsFormatError reports whether err is or wraps a *FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// fromValidation converts the first failed validator rule into a FormatError.
func fromValidation(line int, err error) *FormatError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		col, ok := fieldColumns[fe.StructField()]
		if !ok {
			col = fe.Field()
		}
		return &FormatError{
			Line:   line,
			Column: col,
			Reason: fmt.Sprintf("failed %q check", fe.Tag()),
		}
	}
	return &FormatError{Line: line, Reason: "invalid row", Err: err}
}
