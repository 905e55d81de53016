package pwdriver

import (
	"testing"

	"github.com/kuitang/cas-scenarios/internal/browser/drivertest"
)

func TestDriver(t *testing.T) {
	drivertest.Run(t, New())
}

func TestName(t *testing.T) {
	if got := New().Name(); got != "playwright" {
		t.Fatalf("Name() = %q", got)
	}
}
