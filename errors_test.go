package boundq

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ErrorIs(allExpectedErrors ...error) func(require.TestingT, error, ...interface{}) {
	return func(t require.TestingT, err error, msgAndArgs ...interface{}) {
		if h, ok := t.(interface{ Helper() }); ok {
			h.Helper()
		}
		if err == nil {
			t.Errorf("expected error but none received")
			return
		}
		for _, expected := range allExpectedErrors {
			if !errors.Is(err, expected) {
				t.Errorf("error unexpected.\nExpected error: %T(%s) \nGot           : %T(%s)", expected, expected.Error(), err, err.Error())
			}
		}
	}
}

func ErrorOfType[T error](assertsOfType ...func(require.TestingT, T)) func(require.TestingT, error, ...interface{}) {
	return func(t require.TestingT, err error, msgAndArgs ...interface{}) {
		if h, ok := t.(interface{ Helper() }); ok {
			h.Helper()
		}
		if err == nil {
			t.Errorf("expected error but none received")
			return
		}

		var wantErr T
		if !errors.As(err, &wantErr) {
			t.Errorf("Error type check failed.\nExpected error type: %T\nGot                : %T(%s)", wantErr, err, err)
			return
		}
		for _, e := range assertsOfType {
			e(t, wantErr)
		}
	}
}

func ErrorStringContains(s string) func(require.TestingT, error, ...interface{}) {
	return func(t require.TestingT, err error, msgAndArgs ...interface{}) {
		if h, ok := t.(interface{ Helper() }); ok {
			h.Helper()
		}
		if err == nil {
			t.Errorf("expected error but none received")
			return
		}
		if !strings.Contains(err.Error(), s) {
			t.Errorf("error string check failed. \nExpected to contain: %s\nGot                : %s\n", s, err.Error())
		}
	}
}

func TestItemProcessingError(t *testing.T) {
	cause := errors.New("boom")

	t.Run("returned error", func(t *testing.T) {
		var err error = &ItemProcessingError{Item: 7, Err: cause}
		ErrorIs(cause)(t, err)
		ErrorStringContains("processing failed: boom")(t, err)
		ErrorOfType(func(t require.TestingT, e *ItemProcessingError) {
			assert.Equal(t, 7, e.Item)
			assert.Nil(t, e.Panic)
		})(t, err)
	})

	t.Run("panic", func(t *testing.T) {
		var err error = &ItemProcessingError{Item: "x", Err: errors.New("panic: bad"), Panic: "bad"}
		ErrorStringContains("processing panicked: bad")(t, err)
	})
}
