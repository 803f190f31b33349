package resolved

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"

	dbus "github.com/godbus/dbus/v5"

	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
)

const (
	resolvedDest       = "org.freedesktop.resolve1"
	resolvedObjectNode = "/org/freedesktop/resolve1"
	managerIface       = "org.freedesktop.resolve1.Manager"
	getLinkMethod      = managerIface + ".GetLink"
	flushCachesMethod  = managerIface + ".FlushCaches"
	linkIface          = "org.freedesktop.resolve1.Link"
	linkSetDNSMethod   = linkIface + ".SetDNS"
	linkRevertMethod   = linkIface + ".Revert"
	linkDNSProperty    = linkIface + ".DNS"
	peerPingMethod     = "org.freedesktop.DBus.Peer.Ping"
	dbusAccessDenied   = "org.freedesktop.DBus.Error.AccessDenied"
	dbusAuthRequired   = "org.freedesktop.DBus.Error.InteractiveAuthorizationRequired"
	dbusServiceUnknown = "org.freedesktop.DBus.Error.ServiceUnknown"
	dbusNameHasNoOwner = "org.freedesktop.DBus.Error.NameHasNoOwner"
	resolvedNoSuchLink = "org.freedesktop.resolve1.NoSuchLink"
)

// Linux address families as resolved encodes them.
const (
	familyINET  int32 = 2
	familyINET6 int32 = 10
)

// linkDNS maps to the (iay) entries of the Link.DNS property and SetDNS.
type linkDNS struct {
	Family  int32
	Address []byte
}

func toLinkDNS(servers []string) ([]linkDNS, error) {
	out := make([]linkDNS, 0, len(servers))
	for _, s := range servers {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid resolver address %q: %w", s, err)
		}
		family := familyINET
		if addr.Is6() && !addr.Is4In6() {
			family = familyINET6
		}
		out = append(out, linkDNS{Family: family, Address: addr.Unmap().AsSlice()})
	}
	return out, nil
}

func fromLinkDNS(entries []linkDNS) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		addr, ok := netip.AddrFromSlice(e.Address)
		if !ok {
			continue
		}
		out = append(out, addr.Unmap().String())
	}
	return out
}

// bus is the subset of the resolved D-Bus API the backend uses.
type bus interface {
	Ping(ctx context.Context) error
	Link(ctx context.Context, ifindex int) (dbus.ObjectPath, error)
	LinkDNS(ctx context.Context, link dbus.ObjectPath) ([]linkDNS, error)
	SetLinkDNS(ctx context.Context, link dbus.ObjectPath, servers []linkDNS) error
	RevertLink(ctx context.Context, link dbus.ObjectPath) error
	FlushCaches(ctx context.Context) error
	Close() error
}

// systemBus talks to resolved over the system bus. The connection is opened
// on first use and reopened after it drops.
type systemBus struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

func (b *systemBus) connection() (*dbus.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil && b.conn.Connected() {
		return b.conn, nil
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: connect to system bus: %w", backend.ErrUnavailable, err)
	}
	b.conn = conn
	return conn, nil
}

func (b *systemBus) object(path dbus.ObjectPath) (dbus.BusObject, error) {
	conn, err := b.connection()
	if err != nil {
		return nil, err
	}
	return conn.Object(resolvedDest, path), nil
}

func (b *systemBus) call(ctx context.Context, path dbus.ObjectPath, method string, args ...any) *dbus.Call {
	obj, err := b.object(path)
	if err != nil {
		return &dbus.Call{Err: err}
	}
	return obj.CallWithContext(ctx, method, 0, args...)
}

func (b *systemBus) Ping(ctx context.Context) error {
	return classify(b.call(ctx, resolvedObjectNode, peerPingMethod).Store())
}

func (b *systemBus) Link(ctx context.Context, ifindex int) (dbus.ObjectPath, error) {
	var path dbus.ObjectPath
	if err := b.call(ctx, resolvedObjectNode, getLinkMethod, int32(ifindex)).Store(&path); err != nil {
		return "", fmt.Errorf("get link %d: %w", ifindex, classify(err))
	}
	return path, nil
}

func (b *systemBus) LinkDNS(ctx context.Context, link dbus.ObjectPath) ([]linkDNS, error) {
	obj, err := b.object(link)
	if err != nil {
		return nil, err
	}
	var v dbus.Variant
	if err := obj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, linkIface, "DNS").Store(&v); err != nil {
		return nil, fmt.Errorf("read %s: %w", linkDNSProperty, classify(err))
	}
	var entries []linkDNS
	if err := v.Store(&entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", linkDNSProperty, err)
	}
	return entries, nil
}

func (b *systemBus) SetLinkDNS(ctx context.Context, link dbus.ObjectPath, servers []linkDNS) error {
	if err := b.call(ctx, link, linkSetDNSMethod, servers).Store(); err != nil {
		return fmt.Errorf("set DNS servers: %w", classify(err))
	}
	return nil
}

func (b *systemBus) RevertLink(ctx context.Context, link dbus.ObjectPath) error {
	if err := b.call(ctx, link, linkRevertMethod).Store(); err != nil {
		return fmt.Errorf("revert DNS settings: %w", classify(err))
	}
	return nil
}

func (b *systemBus) FlushCaches(ctx context.Context) error {
	if err := b.call(ctx, resolvedObjectNode, flushCachesMethod).Store(); err != nil {
		return fmt.Errorf("flush caches: %w", classify(err))
	}
	return nil
}

func (b *systemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

// classify maps D-Bus error names onto backend sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var dbusErr dbus.Error
	if !errors.As(err, &dbusErr) {
		return err
	}
	switch dbusErr.Name {
	case dbusAccessDenied, dbusAuthRequired:
		return fmt.Errorf("%w: %w", backend.ErrPermission, err)
	case dbusServiceUnknown, dbusNameHasNoOwner:
		return fmt.Errorf("%w: %w", backend.ErrUnavailable, err)
	case resolvedNoSuchLink:
		return fmt.Errorf("%w: %w", backend.ErrNoInterface, err)
	}
	return err
}
