//go:build !linux

package watcher

import "log/slog"

// NewNetlinkSource returns a Source for kernel address and link updates.
// It returns nil on platforms without netlink.
func NewNetlinkSource(_ *slog.Logger) Source {
	return nil
}
