package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"plain", New("boom"), KindUnknown},
		{"io", NewIOError(fmt.Errorf("disk gone"), "read %s", "x.nq"), KindIO},
		{"constraint", NewConstraintError("target %q exists", "/tmp/b"), KindConstraint},
		{"evaluation", NewEvaluationError("unknown function <%s>", "urn:f"), KindEvaluation},
		{"corruption", NewCorruptionError("dangling id %d", 7), KindCorruption},
		{"canceled", Wrap(context.Canceled, "query"), KindCanceled},
		{"deadline", context.DeadlineExceeded, KindCanceled},
		{"read only", Wrap(ErrReadOnly, "insert"), KindConstraint},
		{"locked", ErrLocked, KindConstraint},
		{"syntax", NewSyntaxError("sparql", Position{Line: 1, Column: 3, Offset: 2}, Position{}, "unexpected %q", "}"), KindSyntax},
		{"wrapped syntax", Wrap(NewSyntaxError("n-quads", Position{Line: 4, Column: 1}, Position{}, "bad"), "load"), KindSyntax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestNewIOError_KeepsCause(t *testing.T) {
	cause := New("permission denied")
	err := NewIOError(cause, "open %s", "/root/x")

	assert.True(t, IsIOError(err))
	assert.True(t, Is(err, cause))
	assert.Contains(t, err.Error(), "open /root/x")
	assert.Contains(t, err.Error(), "permission denied")
}

func TestSyntaxError_Location(t *testing.T) {
	err := Wrap(NewSyntaxError("sparql", Position{Line: 2, Column: 5, Offset: 17}, Position{Line: 2, Column: 9, Offset: 21}, "expected '}'"), "parse query")

	var se *SyntaxError
	require.True(t, As(err, &se))
	assert.Equal(t, 2, se.Line())
	assert.Equal(t, 5, se.Column())
	assert.Equal(t, 17, se.Offset())
	assert.Equal(t, 21, se.End.Offset)
	assert.True(t, IsSyntaxError(err))
	assert.True(t, Is(err, ErrSyntax))
	assert.Contains(t, err.Error(), "line 2, column 5")
}

func TestSyntaxError_EndBeforeStart(t *testing.T) {
	se := NewSyntaxError("", Position{Line: 3, Column: 1, Offset: 40}, Position{Offset: 2}, "bad")
	assert.Equal(t, se.Start, se.End)
	assert.Equal(t, "syntax error at line 3, column 1: bad", se.Error())
}

func TestAsIO(t *testing.T) {
	assert.Nil(t, AsIO(nil))
	assert.True(t, IsIOError(AsIO(New("sqlite: disk I/O error"))))

	c := NewConstraintError("exists")
	assert.Equal(t, KindConstraint, KindOf(AsIO(c)))
}

func TestWithHint(t *testing.T) {
	err := WithHint(ErrLocked, "close the other primary or open a secondary")
	hints := GetAllHints(err)
	require.Len(t, hints, 1)
	assert.Equal(t, KindConstraint, KindOf(err))
}
