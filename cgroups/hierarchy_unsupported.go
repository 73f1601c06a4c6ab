//go:build !linux
// +build !linux

package cgroups

import "github.com/pkg/errors"

// Hierarchy is unsupported off Linux.
func Hierarchy(subsystem string) (string, error) {
	return "", errors.New("cgroups are only supported on Linux")
}

// Of is unsupported off Linux.
func Of(pid int, subsystem string) (string, error) {
	return "", errors.New("cgroups are only supported on Linux")
}
