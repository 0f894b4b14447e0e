package harness

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ModelingValueGroup/dclare-sub000/internal/engine"
)

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"empty mandatory", &engine.EmptyMandatoryError{}, ErrorEmptyMandatory},
		{"wrapped", fmt.Errorf("commit: %w", &engine.TooManyChangesError{}), ErrorTooManyChanges},
		{"aggregated", &engine.MultiError{Errs: []error{errors.New("x"), &engine.CircularConstantError{}}}, ErrorCircularConstant},
		{"plain", errors.New("boom"), ErrorOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorKind(tt.err))
		})
	}
}
