// Package backend defines the interface that all resolver-configuration
// backends must implement.
package backend

import (
	"context"
	"slices"
)

// State is a snapshot of the resolver configuration of the active interface.
type State struct {
	InterfaceName string   `json:"interface_name"`
	Servers       []string `json:"servers"`
	Automatic     bool     `json:"is_automatic"`
}

// Normalize makes sure automatic configurations carry no explicit servers
// and that a manual one has one or two. A manual state without servers is
// reported as automatic.
func (s State) Normalize() State {
	out := State{InterfaceName: s.InterfaceName, Automatic: s.Automatic}
	if s.Automatic {
		out.Servers = []string{}
		return out
	}
	servers := make([]string, 0, 2)
	for _, srv := range s.Servers {
		if srv == "" {
			continue
		}
		servers = append(servers, srv)
		if len(servers) == 2 {
			break
		}
	}
	if len(servers) == 0 {
		out.Automatic = true
	}
	out.Servers = servers
	return out
}

// Primary returns the first server or "".
func (s State) Primary() string {
	if len(s.Servers) == 0 {
		return ""
	}
	return s.Servers[0]
}

// Equal returns true if two states describe the same configuration.
func (s State) Equal(o State) bool {
	return s.InterfaceName == o.InterfaceName &&
		s.Automatic == o.Automatic &&
		slices.Equal(s.Servers, o.Servers)
}

// Outcome is the result of a mutation attempt, whether started locally or
// reported by an external actor such as the tray.
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Backend reads and rewrites the resolver configuration of one interface.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Name returns the backend instance name (e.g., "host").
	Name() string

	// Type returns the backend type (e.g., "resolvconf", "netsh").
	Type() string

	// Ping checks that the backend can reach the system it manages.
	Ping(ctx context.Context) error

	// Query reads the current resolver configuration.
	Query(ctx context.Context) (State, error)

	// Set writes explicit resolvers. An empty secondary leaves only the primary.
	Set(ctx context.Context, primary, secondary string) error

	// Reset restores automatic (DHCP-assigned) resolution.
	Reset(ctx context.Context) error
}
