package main

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestShutdownErr(t *testing.T) {
	if err := shutdownErr(nil); err != nil {
		t.Errorf("shutdownErr(nil) = %v, want nil", err)
	}
	if err := shutdownErr(context.Canceled); err != nil {
		t.Errorf("requested shutdown must not report an error, got %v", err)
	}
	if err := shutdownErr(fmt.Errorf("run loop: %w", context.Canceled)); err != nil {
		t.Errorf("wrapped cancellation must not report an error, got %v", err)
	}

	real := errors.New("listen tcp: address already in use")
	if err := shutdownErr(real); !errors.Is(err, real) {
		t.Errorf("shutdownErr(%v) = %v, want the error preserved", real, err)
	}
}
