//go:build !unix && !windows

package privilege

func isElevated() bool {
	return false
}

func hint() string {
	return "Changing DNS settings is not supported on this platform."
}
