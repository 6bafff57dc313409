package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	cause := errors.New("database is locked")

	tests := []struct {
		name      string
		err       error
		class     ErrorClass
		code      string
		retryable bool
	}{
		{
			name:      "transient",
			err:       NewTransientError("database is busy", cause).WithCode(ErrCodeStoreBusy),
			class:     ErrorClassTransient,
			code:      ErrCodeStoreBusy,
			retryable: true,
		},
		{
			name:      "conflict",
			err:       NewConflictError("version mismatch", nil),
			class:     ErrorClassConflict,
			code:      ErrCodeConflict,
			retryable: true,
		},
		{
			name:  "configuration",
			err:   NewConfigurationError("blue/green on a daemon set", nil),
			class: ErrorClassPermanent,
			code:  ErrCodeConfiguration,
		},
		{
			name:  "wrapped invariant",
			err:   fmt.Errorf("advise: %w", NewInvariantError("missing rollback phase", nil)),
			class: ErrorClassPermanent,
			code:  ErrCodeInvariant,
		},
		{
			name:  "plain error",
			err:   cause,
			class: "unclassified",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassOf(tt.err); got != tt.class {
				t.Errorf("Expected class %s, got %s", tt.class, got)
			}
			if got := ErrorCode(tt.err); got != tt.code {
				t.Errorf("Expected code %q, got %q", tt.code, got)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("Expected retryable %v, got %v", tt.retryable, got)
			}
		})
	}

	if IsConfigurationError(nil) || IsInvariantError(nil) {
		t.Error("Expected nil not to match any code")
	}
}

func TestEngineError_Error(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		err  *EngineError
		want string
	}{
		{NewPermanentError("bad", nil), "[permanent] bad"},
		{NewPermanentError("bad", nil).WithResource("p1"), "[permanent] bad (resource=p1)"},
		{NewPermanentError("bad", cause).WithResource("p1").WithOperation("attach"), "[permanent] bad (resource=p1, operation=attach): boom"},
		{NewTransientError("busy", cause).WithOperation("save"), "[transient] busy (operation=save): boom"},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}

	if !errors.Is(NewPermanentError("bad", cause), cause) {
		t.Error("Expected the cause to be reachable with errors.Is")
	}
}
