//go:build linux
// +build linux

// Package logsutil wires logrus into the system journal where one exists.
package logsutil

import (
	"github.com/wercker/journalhook"
)

// MaybeSetupJournald attaches the journald hook when the journal socket is
// available; otherwise logging stays on stderr.
func MaybeSetupJournald() {
	journalhook.Enable()
}
