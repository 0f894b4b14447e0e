package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuntimeErrorCodes_SearchEveryAggregatedError(t *testing.T) {
	killed := newRuntimeError(ErrCodeKilled, "killed by host")
	readOnly := newRuntimeError(ErrCodeReadOnly, "write in read-only transaction")

	tests := []struct {
		name     string
		err      error
		killed   bool
		readOnly bool
	}{
		{name: "nil", err: nil},
		{name: "plain", err: errors.New("boom")},
		{name: "killed", err: killed, killed: true},
		{name: "wrapped", err: fmt.Errorf("exit: %w", readOnly), readOnly: true},
		{name: "aggregated", err: joinErrors([]error{killed, readOnly}), killed: true, readOnly: true},
		{name: "nested", err: &TransactionError{Action: "exit", Err: joinErrors([]error{errors.New("x"), readOnly})}, readOnly: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.killed, IsKilledError(tt.err))
			assert.Equal(t, tt.readOnly, IsReadOnlyError(tt.err))
		})
	}
}
