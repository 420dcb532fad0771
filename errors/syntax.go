package errors

import "fmt"

// Position is a location in source text. Line and Column are 1-based,
// Offset is a 0-based byte offset.
type Position struct {
	Line   int
	Column int
	Offset int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// SyntaxError reports malformed query, update or document text.
type SyntaxError struct {
	// Format names the language being parsed, e.g. "sparql" or "n-quads".
	Format  string
	Message string
	Start   Position
	End     Position
}

// NewSyntaxError creates a syntax error spanning start to end.
func NewSyntaxError(format string, start, end Position, msg string, args ...interface{}) *SyntaxError {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	if end.Offset < start.Offset {
		end = start
	}
	return &SyntaxError{Format: format, Message: msg, Start: start, End: end}
}

func (e *SyntaxError) Error() string {
	if e.Format == "" {
		return fmt.Sprintf("syntax error at line %d, column %d: %s", e.Start.Line, e.Start.Column, e.Message)
	}
	return fmt.Sprintf("%s syntax error at line %d, column %d: %s", e.Format, e.Start.Line, e.Start.Column, e.Message)
}

// Is lets errors.Is(err, ErrSyntax) match any *SyntaxError.
func (e *SyntaxError) Is(target error) bool {
	return target == ErrSyntax
}

// Line returns the 1-based line where the error starts.
func (e *SyntaxError) Line() int { return e.Start.Line }

// Column returns the 1-based column where the error starts.
func (e *SyntaxError) Column() int { return e.Start.Column }

// Offset returns the byte offset where the error starts.
func (e *SyntaxError) Offset() int { return e.Start.Offset }
