//go:build windows

package state

import "errors"

// freeBytes is unsupported on Windows; the pre-flight check is skipped.
func freeBytes(dir string) (uint64, error) {
	return 0, errors.New("capacity probe not supported on windows")
}
