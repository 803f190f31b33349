//go:build !linux

package resolved

import (
	"fmt"
	"net"

	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
)

// netlinkLinks falls back to the net package where rtnetlink is missing.
// Without a routing table the default link is unknown.
type netlinkLinks struct{}

func (netlinkLinks) ByName(name string) (int, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", backend.ErrNoInterface, name, err)
	}
	return iface.Index, nil
}

func (netlinkLinks) Default() (string, int, error) {
	return "", 0, fmt.Errorf("%w: default route lookup requires linux", backend.ErrNoInterface)
}
