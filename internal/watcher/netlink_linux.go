//go:build linux

package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vishvananda/netlink"
)

var errSubscriptionClosed = errors.New("netlink subscription closed")

// netlinkSource reports address and link changes from the kernel.
type netlinkSource struct {
	logger *slog.Logger
}

// NewNetlinkSource returns a Source for kernel address and link updates.
// It returns nil on platforms without netlink.
func NewNetlinkSource(logger *slog.Logger) Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &netlinkSource{logger: logger}
}

func (s *netlinkSource) Name() string { return SourceNetlink }

func (s *netlinkSource) Run(ctx context.Context, notify func()) error {
	done := make(chan struct{})
	defer close(done)

	errc := make(chan error, 1)
	onError := func(err error) {
		select {
		case errc <- err:
		default:
		}
	}

	addrs := make(chan netlink.AddrUpdate, 16)
	if err := netlink.AddrSubscribeWithOptions(addrs, done, netlink.AddrSubscribeOptions{
		ErrorCallback: onError,
	}); err != nil {
		return fmt.Errorf("subscribing to address updates: %w", err)
	}

	links := make(chan netlink.LinkUpdate, 16)
	if err := netlink.LinkSubscribeWithOptions(links, done, netlink.LinkSubscribeOptions{
		ErrorCallback: onError,
	}); err != nil {
		return fmt.Errorf("subscribing to link updates: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-errc:
			return fmt.Errorf("netlink: %w", err)

		case u, ok := <-addrs:
			if !ok {
				return errSubscriptionClosed
			}
			s.logger.Debug("address update",
				slog.Int("link_index", u.LinkIndex),
				slog.String("address", u.LinkAddress.String()),
				slog.Bool("added", u.NewAddr),
			)
			notify()

		case u, ok := <-links:
			if !ok {
				return errSubscriptionClosed
			}
			attrs := u.Link.Attrs()
			s.logger.Debug("link update",
				slog.String("link", attrs.Name),
				slog.String("oper_state", attrs.OperState.String()),
			)
			notify()
		}
	}
}
