//go:build !linux

package scheduler

import (
	"fmt"
	"runtime"
)

func setAffinity([]int) error {
	return fmt.Errorf("cpu affinity not supported on %s", runtime.GOOS)
}
