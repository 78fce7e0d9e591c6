//go:build !linux

package vmcirc

import "errors"

func newMapped(int) (Memory, error) {
	return nil, errors.New("double-mapped arenas are only supported on linux")
}
