// Package common holds the helpers shared by the pool's native modules.
package common

import "errors"

// ErrModulePaused is returned when a mutation arrives while the module's
// emergency pause switch is set.
var ErrModulePaused = errors.New("module paused")

// PauseView reports the pause switches configured for the daemon. The pool
// engine consults it before every mutating action.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects mutations for a paused module. A nil view or empty module
// name leaves everything running.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
