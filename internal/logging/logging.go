// Package logging wraps logrus the way dsmmcken-dh-cli's machine_linux.go
// does (`log.New()` plus `SetLevel`), and adds the one thing the core
// runtime's Err_t discipline can't express on its own: a sticky
// system-warning flag FFS hard errors and VM cycle exhaustion raise, per
// spec.md §7's "FS hard errors set the FLASHFS_HARD_ERROR warning bit;
// all other subsystems continue."
package logging

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"sapphire/internal/defs"
)

// Logger is Sapphire's host-facing leveled logger. Unlike the core
// packages (FlashFS/VM/KVDB), which never import this package and return
// defs.Err_t instead, the CLI and any outer-surface glue log through
// this.
type Logger struct {
	entry *log.Logger

	mu      sync.Mutex
	warning bool
}

// New returns a Logger at the given level, defaulting to Info.
func New(level log.Level) *Logger {
	l := log.New()
	l.SetLevel(level)
	return &Logger{entry: l}
}

// Debugf/Infof/Warnf/Errorf forward to the underlying logrus logger.
func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// LogStatus logs a defs.Err_t the way spec.md §7's propagation policy
// requires: "errors propagate via return status ... and are logged with
// the numeric code." A non-OK status also raises the system warning flag
// when it is one of the two sticky conditions the spec calls out.
func (l *Logger) LogStatus(op string, status defs.Err_t) {
	if status.Ok() {
		l.entry.Debugf("%s: ok", op)
		return
	}
	l.entry.Warnf("%s: %s (%d)", op, status.String(), int(status))
	if status == defs.EHARDIO || status == defs.EMAXCYCLES {
		l.RaiseWarning()
	}
}

// RaiseWarning sets the sticky system warning flag. Per spec.md §7, FFS
// hard errors never clear it automatically — only a reformat does, and
// this package has no reformat hook, so ClearWarning exists only for
// tests and a future explicit CLI `reset-warning` command.
func (l *Logger) RaiseWarning() {
	l.mu.Lock()
	l.warning = true
	l.mu.Unlock()
}

// ClearWarning resets the flag. Not called anywhere in the core runtime.
func (l *Logger) ClearWarning() {
	l.mu.Lock()
	l.warning = false
	l.mu.Unlock()
}

// Warning reports whether the sticky system warning flag is set.
func (l *Logger) Warning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.warning
}
