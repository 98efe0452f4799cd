//go:build linux

package netlink

import (
	"fmt"

	"github.com/mdlayher/genetlink"
	"golang.org/x/sys/unix"
)

// familyName is the generic netlink family registered by the wireguard
// kernel module.
const familyName = "wireguard"

// Available reports whether the kernel wireguard family is registered and the
// process may configure devices through it.
func Available() error {
	return checkAvailable(lookupFamily, netAdminCapable)
}

func checkAvailable(family, capable func() error) error {
	if err := family(); err != nil {
		return fmt.Errorf("genetlink family %q: %w", familyName, err)
	}
	return capable()
}

func lookupFamily() error {
	c, err := genetlink.Dial(nil)
	if err != nil {
		return err
	}
	defer c.Close()

	_, err = c.GetFamily(familyName)
	return err
}

func netAdminCapable() error {
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return fmt.Errorf("capget: %w", err)
	}
	if !hasCap(data, unix.CAP_NET_ADMIN) {
		return ErrNoNetAdmin
	}
	return nil
}

func hasCap(data [2]unix.CapUserData, c int) bool {
	return data[c/32].Effective&(1<<uint(c%32)) != 0
}
