//go:build !linux

package netlink

import (
	"fmt"
	"runtime"
)

// Available reports whether a wgctrl client can be opened on this host. The
// kernel netlink family only exists on Linux.
func Available() error {
	return fmt.Errorf("wireguard netlink is not supported on %s", runtime.GOOS)
}
