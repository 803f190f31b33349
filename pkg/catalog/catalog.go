// Package catalog holds the built-in DNS provider profiles and derives which
// of them a resolver configuration corresponds to.
package catalog

import (
	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
)

// Profile is an immutable catalog entry.
type Profile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Primary     string `json:"primary"`
	Secondary   string `json:"secondary,omitempty"`

	// Automatic marks the system-default profile. Applying it restores
	// DHCP-assigned resolution instead of writing explicit servers.
	Automatic bool `json:"automatic"`
}

// Identity is the derived active-provider identity of a resolver configuration.
// It is either a catalog ID or one of the sentinels below.
type Identity string

// Identity sentinels.
const (
	IdentityDefault Identity = "default"
	IdentityCustom  Identity = "custom"
	IdentityNone    Identity = "none"
)

// DefaultID is the ID of the automatic profile.
const DefaultID = "default"

// profiles is the display order.
var profiles = [...]Profile{
	{
		ID:          "cloudflare",
		Name:        "Cloudflare",
		Description: "Fast and privacy-focused",
		Primary:     "1.1.1.1",
		Secondary:   "1.0.0.1",
	},
	{
		ID:          "google",
		Name:        "Google",
		Description: "Reliable and widely used",
		Primary:     "8.8.8.8",
		Secondary:   "8.8.4.4",
	},
	{
		ID:          "quad9",
		Name:        "Quad9",
		Description: "Blocks malicious domains",
		Primary:     "9.9.9.9",
		Secondary:   "149.112.112.112",
	},
	{
		ID:          "opendns",
		Name:        "OpenDNS",
		Description: "Optional content filtering",
		Primary:     "208.67.222.222",
		Secondary:   "208.67.220.220",
	},
	{
		ID:          DefaultID,
		Name:        "System Default",
		Description: "Automatic (DHCP)",
		Automatic:   true,
	},
}

// All returns every profile in display order. The slice is a copy.
func All() []Profile {
	out := make([]Profile, len(profiles))
	copy(out, profiles[:])
	return out
}

// Find returns the profile with the given ID.
func Find(id string) (Profile, bool) {
	for _, p := range profiles {
		if p.ID == id {
			return p, true
		}
	}
	return Profile{}, false
}

// FindByPrimaryAddress returns the non-automatic profile whose primary address
// equals addr exactly.
func FindByPrimaryAddress(addr string) (Profile, bool) {
	if addr == "" {
		return Profile{}, false
	}
	for _, p := range profiles {
		if !p.Automatic && p.Primary == addr {
			return p, true
		}
	}
	return Profile{}, false
}

// Identify derives the active-provider identity of s. A nil state yields
// IdentityNone. The result is never cached; call it after every change.
func Identify(s *backend.State) Identity {
	if s == nil {
		return IdentityNone
	}
	if s.Automatic {
		return IdentityDefault
	}
	if p, ok := FindByPrimaryAddress(s.Primary()); ok {
		return Identity(p.ID)
	}
	return IdentityCustom
}

// Custom builds an ad-hoc profile for user-entered addresses.
func Custom(primary, secondary string) Profile {
	return Profile{
		ID:        string(IdentityCustom),
		Name:      "Custom DNS",
		Primary:   primary,
		Secondary: secondary,
	}
}

// Target returns the resolver configuration that applying p to iface produces.
func (p Profile) Target(iface string) backend.State {
	if p.Automatic {
		return backend.State{InterfaceName: iface, Servers: []string{}, Automatic: true}
	}
	return backend.State{
		InterfaceName: iface,
		Servers:       []string{p.Primary, p.Secondary},
	}.Normalize()
}
