//go:build unix && !linux

package privilege

import "golang.org/x/sys/unix"

func isElevated() bool {
	return unix.Geteuid() == 0
}

func hint() string {
	return "Run with sudo."
}
