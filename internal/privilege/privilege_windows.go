//go:build windows

package privilege

import "golang.org/x/sys/windows"

func isElevated() bool {
	sid, err := windows.CreateWellKnownSid(windows.WinBuiltinAdministratorsSid)
	if err != nil {
		return false
	}

	token := windows.Token(0)
	member, err := token.IsMember(sid)
	if err != nil {
		return false
	}
	return member
}

func hint() string {
	return "Restart the application as Administrator (right-click -> 'Run as Administrator')."
}
