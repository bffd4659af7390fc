package common

import "errors"

// ErrModulePaused is returned when a mutating operation reaches a module that
// operators have halted.
var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named module is currently halted. A nil view
// means nothing is paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails fast with ErrModulePaused when the module is halted.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
