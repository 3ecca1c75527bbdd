package logging

import (
	"testing"

	log "github.com/sirupsen/logrus"

	"sapphire/internal/defs"
)

func TestLogStatusRaisesWarningOnHardIO(t *testing.T) {
	l := New(log.ErrorLevel)
	if l.Warning() {
		t.Fatal("warning should start clear")
	}
	l.LogStatus("ffs.write", defs.EHARDIO)
	if !l.Warning() {
		t.Fatal("EHARDIO should raise the warning flag")
	}
}

func TestLogStatusOkDoesNotRaiseWarning(t *testing.T) {
	l := New(log.ErrorLevel)
	l.LogStatus("vm.run", defs.EOK)
	if l.Warning() {
		t.Fatal("EOK should not raise the warning flag")
	}
}

func TestClearWarning(t *testing.T) {
	l := New(log.ErrorLevel)
	l.RaiseWarning()
	l.ClearWarning()
	if l.Warning() {
		t.Fatal("ClearWarning should reset the flag")
	}
}
