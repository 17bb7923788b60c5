package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		code     Code
		expected int
	}{
		{name: "implementation range", code: CodeImplementation, expected: http.StatusNotImplemented},
		{name: "config range", code: CodeInvalidAlgorithm, expected: http.StatusInternalServerError},
		{name: "crypto range", code: CodeParsingKey, expected: http.StatusBadRequest},
		{name: "forbidden range", code: CodeClientSubscription, expected: http.StatusForbidden},
		{name: "enum range", code: CodeInvalidValueForEnum, expected: http.StatusInternalServerError},
		{name: "validation range", code: CodeInvalidJSON, expected: http.StatusBadRequest},
		{name: "conflict", code: CodeKeyAlreadyExisting, expected: http.StatusBadRequest},
		{name: "not found range", code: CodeKeyNotExistent, expected: http.StatusNotFound},
		{name: "subsystem range", code: CodeInHSM, expected: http.StatusInternalServerError},
		{name: "unknown code", code: Code(999), expected: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.code.HTTPStatus())
		})
	}
}

func TestKindPredicates(t *testing.T) {
	err := fmt.Errorf("create key: %w", New(CodeKeyAlreadyExisting, "key %s exists", "abc"))

	require.True(t, IsConflict(err))
	require.False(t, IsNotFound(err))
	require.Equal(t, http.StatusBadRequest, HTTPStatus(err))

	code, ok := CodeOf(err)
	require.True(t, ok)
	require.Equal(t, CodeKeyAlreadyExisting, code)
	require.Equal(t, "res.error.key.already.existing", code.Reason())
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeInSubsystem, cause, "broker request failed")

	require.ErrorIs(t, err, cause)
	require.True(t, IsSubsystem(err))
	require.Equal(t, "broker request failed: connection refused", err.Error())
}

func TestPlainErrorHasNoCode(t *testing.T) {
	err := errors.New("boom")

	_, ok := CodeOf(err)
	require.False(t, ok)
	require.False(t, IsSubsystem(err))
	require.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
}
