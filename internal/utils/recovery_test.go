package utils

import (
	"testing"
	"time"
)

func TestRunWithRecovery(t *testing.T) {
	done := make(chan struct{})
	RunWithRecovery("panicking", func() {
		defer close(done)
		panic("boom")
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}

	ran := make(chan struct{})
	RunWithRecovery("after panic", func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("expected later tasks to keep running")
	}
}
