//go:build linux

package resolved

import (
	"fmt"

	"github.com/vishvananda/netlink"

	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
)

// netlinkLinks resolves interfaces through rtnetlink.
type netlinkLinks struct{}

// ByName returns the index of the named link.
func (netlinkLinks) ByName(name string) (int, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", backend.ErrNoInterface, name, err)
	}
	return link.Attrs().Index, nil
}

// Default returns the link carrying the IPv4 default route with the lowest
// metric.
func (netlinkLinks) Default() (string, int, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return "", 0, fmt.Errorf("listing routes: %w", err)
	}

	best := -1
	for i, r := range routes {
		if r.Dst != nil {
			if ones, _ := r.Dst.Mask.Size(); ones != 0 {
				continue
			}
		}
		if r.LinkIndex == 0 {
			continue
		}
		if best < 0 || r.Priority < routes[best].Priority {
			best = i
		}
	}
	if best < 0 {
		return "", 0, backend.ErrNoInterface
	}

	link, err := netlink.LinkByIndex(routes[best].LinkIndex)
	if err != nil {
		return "", 0, fmt.Errorf("%w: link %d: %w", backend.ErrNoInterface, routes[best].LinkIndex, err)
	}
	return link.Attrs().Name, link.Attrs().Index, nil
}
