//go:build linux

package privilege

import "golang.org/x/sys/unix"

// isElevated accepts root or a process holding CAP_NET_ADMIN.
func isElevated() bool {
	if unix.Geteuid() == 0 {
		return true
	}

	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return false
	}
	return data[0].Effective&(1<<unix.CAP_NET_ADMIN) != 0
}

func hint() string {
	return "Run as root or grant CAP_NET_ADMIN (e.g. setcap cap_net_admin+ep dnsswitch)."
}
