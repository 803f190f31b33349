// Package probe checks that a resolver answers queries.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

const (
	defaultPort    = "53"
	DefaultTimeout = 2 * time.Second
)

// ErrBadRcode is returned when the resolver answers with a failure code.
var ErrBadRcode = errors.New("resolver returned failure")

// Probe sends a root NS query to addr and returns the round-trip time.
// addr may omit the port.
func Probe(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error) {
	if addr == "" {
		return 0, errors.New("no resolver address")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	target := addr
	if _, _, err := net.SplitHostPort(addr); err != nil {
		target = net.JoinHostPort(addr, defaultPort)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := &dns.Client{Net: "udp", Timeout: timeout}
	m := new(dns.Msg)
	m.SetQuestion(".", dns.TypeNS)
	m.RecursionDesired = true

	resp, rtt, err := client.ExchangeContext(ctx, m, target)
	if err != nil {
		return 0, fmt.Errorf("probing %s: %w", target, err)
	}
	// NXDOMAIN and NOERROR both prove the resolver is serving.
	if resp.Rcode != dns.RcodeSuccess && resp.Rcode != dns.RcodeNameError {
		return rtt, fmt.Errorf("probing %s: %w: %s", target, ErrBadRcode, dns.RcodeToString[resp.Rcode])
	}
	return rtt, nil
}
