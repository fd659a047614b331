package common

import "errors"

// ErrModulePaused is returned when a value-moving operation runs while the
// module is paused. Admin and configuration operations stay available.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the operator pause switches to module engines.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the named module is paused. A nil view means
// pausing is not wired and the guard passes.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
