package reconciler

import "fmt"

// User-facing notification texts.
const (
	msgResetSuccess      = "Restored system default!"
	msgResetFailed       = "Reset failed"
	msgResetNeedsAdmin   = "Reset failed: you must be an administrator"
	msgCustomSuccess     = "Custom DNS applied successfully!"
	msgCustomFailed      = "Custom DNS could not be applied"
	msgNeedsAdmin        = "Administrator privileges required!"
	msgProfileSuccessFmt = "%s applied successfully!"
	msgProfileFailedFmt  = "%s could not be applied"
	msgExternalFallback  = "DNS settings changed"
)

const (
	// unknownInterfaceName is reported when no active interface exists.
	unknownInterfaceName = "Unknown"

	// fallbackInterfaceName labels optimistic writes made before the first query.
	fallbackInterfaceName = "Network"
)

// messages selects texts for one kind of operation.
type messages struct {
	success      string
	failure      string
	failureAdmin string
}

// failureText picks the privilege variant when the process is known to lack
// administrator rights. The backend error itself is not inspected.
func (m messages) failureText(admin bool) string {
	if !admin {
		return m.failureAdmin
	}
	return m.failure
}

func profileMessages(name string) messages {
	return messages{
		success:      fmt.Sprintf(msgProfileSuccessFmt, name),
		failure:      fmt.Sprintf(msgProfileFailedFmt, name),
		failureAdmin: msgNeedsAdmin,
	}
}

func resetMessages() messages {
	return messages{
		success:      msgResetSuccess,
		failure:      msgResetFailed,
		failureAdmin: msgResetNeedsAdmin,
	}
}

func customMessages() messages {
	return messages{
		success:      msgCustomSuccess,
		failure:      msgCustomFailed,
		failureAdmin: msgNeedsAdmin,
	}
}
