package netsh

import (
	"bufio"
	"net/netip"
	"strings"
)

// connectedStates are the localized "Connected" column values netsh prints,
// folded to ASCII.
var connectedStates = map[string]bool{
	"connected": true,
	"bagli":     true,
}

// asciiFold maps the Turkish letters of a UTF-8 console onto their ASCII
// base so both code pages reach the same key.
var asciiFold = strings.NewReplacer("ğ", "g", "ı", "i", "Ğ", "G", "İ", "I")

// preferredInterface wins over any other connected interface.
const preferredInterface = "ethernet"

// parseInterfaces returns the names of connected interfaces from the output
// of "netsh interface show interface". The table has four columns and the
// last one (the name) may contain spaces.
func parseInterfaces(output string) []string {
	var names []string
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		if !connectedStates[strings.ToLower(asciiFold.Replace(fields[1]))] {
			continue
		}
		names = append(names, strings.Join(fields[3:], " "))
	}
	return names
}

// pickInterface chooses Ethernet when it is connected, else the first
// connected interface.
func pickInterface(names []string) (string, bool) {
	if len(names) == 0 {
		return "", false
	}
	for _, n := range names {
		if strings.ToLower(n) == preferredInterface {
			return n, true
		}
	}
	for _, n := range names {
		if strings.Contains(strings.ToLower(n), preferredInterface) {
			return n, true
		}
	}
	return names[0], true
}

// dnsServers is the parsed output of "netsh interface ipv4 show dnsservers".
type dnsServers struct {
	dhcp    bool
	servers []string
}

// parseDNSServers reads the server block. Static servers follow a label
// line ("Statically Configured DNS Servers:") and continue on indented
// lines holding only an address. DHCP-assigned servers are reported but do
// not count as explicit.
func parseDNSServers(output string) dnsServers {
	var (
		res     dnsServers
		inBlock bool
	)
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			inBlock = false
			continue
		}

		label, value, hasColon := strings.Cut(line, ":")
		lowerLabel := strings.ToLower(label)

		if hasColon && strings.Contains(lowerLabel, "dns") {
			inBlock = true
			if strings.Contains(lowerLabel, "dhcp") {
				res.dhcp = true
			}
			if ip, ok := parseAddr(value); ok {
				res.servers = append(res.servers, ip)
			}
			continue
		}

		if inBlock {
			if ip, ok := parseAddr(line); ok {
				res.servers = append(res.servers, ip)
				continue
			}
			inBlock = false
		}
	}
	return res
}

func parseAddr(s string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return addr.String(), true
}

// elevationMarkers identify netsh failures caused by missing privileges.
var elevationMarkers = []string{
	"requires elevation",
	"run as administrator",
	"access is denied",
	"yönetici",
}

func needsElevation(output string) bool {
	lower := strings.ToLower(output)
	for _, m := range elevationMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
