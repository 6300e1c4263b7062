package cleanup

import (
	"errors"
	"testing"
)

func TestRunAll_LIFOAndOnce(t *testing.T) {
	var order []int
	Register(func() error { order = append(order, 1); return nil })
	Register(nil)
	Register(func() error { order = append(order, 2); return nil })

	if err := RunAll(); err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("unexpected order: %v", order)
	}
	if err := RunAll(); err != nil || len(order) != 2 {
		t.Fatalf("hooks ran twice")
	}
}

func TestRunAll_JoinsErrors(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")
	Register(func() error { return errA })
	Register(func() error { return errB })

	err := RunAll()
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("expected both errors, got %v", err)
	}
}
