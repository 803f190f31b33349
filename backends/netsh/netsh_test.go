package netsh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"slices"
	"strings"
	"testing"

	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
	"gitlab.bluewillows.net/root/dnsswitch/pkg/sshutil"
)

const interfacesOutput = `
Admin State    State          Type             Interface Name
-------------------------------------------------------------------------
Enabled        Disconnected   Dedicated        Bluetooth Network Connection
Enabled        Connected      Dedicated        Wi-Fi
Enabled        Connected      Dedicated        Ethernet
`

const staticOutput = `
Configuration for interface "Ethernet"
    Statically Configured DNS Servers:    1.1.1.1
                                          1.0.0.1
    Register with which suffix:           Primary only
`

const dhcpOutput = `
Configuration for interface "Ethernet"
    DNS servers configured through DHCP:  192.168.1.1
    Register with which suffix:           Primary only
`

const elevationOutput = "The requested operation requires elevation (Run as administrator).\n"

// scriptedRunner answers commands from a table keyed by the joined command
// line and records every call.
type scriptedRunner struct {
	responses map[string]string
	failures  map[string]error
	calls     []string
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{
		responses: make(map[string]string),
		failures:  make(map[string]error),
	}
}

func (r *scriptedRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	line := strings.Join(append([]string{name}, args...), " ")
	r.calls = append(r.calls, line)
	if err, ok := r.failures[line]; ok {
		var exitErr *sshutil.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.Output, err
		}
		return "", err
	}
	return r.responses[line], nil
}

func newTestBackend(r *scriptedRunner, opts ...Option) *Backend {
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithCommandRunner(r),
	}, opts...)
	return New("windows", opts...)
}

func TestParseInterfaces(t *testing.T) {
	got := parseInterfaces(interfacesOutput)
	want := []string{"Wi-Fi", "Ethernet"}
	if !slices.Equal(got, want) {
		t.Errorf("parseInterfaces() = %v, want %v", got, want)
	}

	for _, state := range []string{"Bagli", "Bağlı", "BAĞLI"} {
		localized := "Etkin          " + state + "          Ayrilmis         Wi-Fi 2\n"
		if got := parseInterfaces(localized); !slices.Equal(got, []string{"Wi-Fi 2"}) {
			t.Errorf("parseInterfaces(%q) = %v", state, got)
		}
	}

	disconnected := "Etkin          Bağlantı kesildi   Ayrilmis     Wi-Fi 2\n"
	if got := parseInterfaces(disconnected); len(got) != 0 {
		t.Errorf("parseInterfaces(disconnected) = %v", got)
	}
}

func TestPickInterface(t *testing.T) {
	tests := []struct {
		names []string
		want  string
		ok    bool
	}{
		{[]string{"Wi-Fi", "Ethernet"}, "Ethernet", true},
		{[]string{"Wi-Fi", "Ethernet 2"}, "Ethernet 2", true},
		{[]string{"Wi-Fi", "vEthernet (WSL)", "Ethernet"}, "Ethernet", true},
		{[]string{"Wi-Fi"}, "Wi-Fi", true},
		{nil, "", false},
	}
	for _, tt := range tests {
		got, ok := pickInterface(tt.names)
		if got != tt.want || ok != tt.ok {
			t.Errorf("pickInterface(%v) = %q, %v; want %q, %v", tt.names, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseDNSServers(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		dhcp    bool
		servers []string
	}{
		{"static pair", staticOutput, false, []string{"1.1.1.1", "1.0.0.1"}},
		{"dhcp", dhcpOutput, true, []string{"192.168.1.1"}},
		{"static none", "Statically Configured DNS Servers:    None\nRegister with which suffix: Primary only\n", false, nil},
		{"empty", "", false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseDNSServers(tt.output)
			if got.dhcp != tt.dhcp || !slices.Equal(got.servers, tt.servers) {
				t.Errorf("parseDNSServers() = %+v, want dhcp=%v servers=%v", got, tt.dhcp, tt.servers)
			}
		})
	}
}

func TestQuery(t *testing.T) {
	r := newScriptedRunner()
	r.responses["netsh interface show interface"] = interfacesOutput
	r.responses["netsh interface ipv4 show dnsservers Ethernet"] = staticOutput
	b := newTestBackend(r)

	st, err := b.Query(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := backend.State{InterfaceName: "Ethernet", Servers: []string{"1.1.1.1", "1.0.0.1"}}
	if !st.Equal(want) {
		t.Errorf("Query() = %+v, want %+v", st, want)
	}

	r.responses["netsh interface ipv4 show dnsservers Ethernet"] = dhcpOutput
	st, err = b.Query(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !st.Automatic || len(st.Servers) != 0 {
		t.Errorf("Query() with DHCP = %+v, want automatic", st)
	}
}

func TestQuery_NoInterface(t *testing.T) {
	r := newScriptedRunner()
	r.responses["netsh interface show interface"] = "Admin State    State          Type             Interface Name\n"
	b := newTestBackend(r)

	_, err := b.Query(context.Background())
	if !backend.IsNoInterface(err) {
		t.Errorf("Query() error = %v, want no interface", err)
	}
}

func TestSet(t *testing.T) {
	r := newScriptedRunner()
	b := newTestBackend(r, WithInterface("Wi-Fi"))

	if err := b.Set(context.Background(), "9.9.9.9", "149.112.112.112"); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"netsh interface ipv4 set dnsservers Wi-Fi static 9.9.9.9 primary validate=no",
		"netsh interface ipv4 add dnsservers Wi-Fi 149.112.112.112 index=2 validate=no",
	}
	if !slices.Equal(r.calls, want) {
		t.Errorf("calls = %q\nwant %q", r.calls, want)
	}
}

func TestSet_PrimaryOnly(t *testing.T) {
	r := newScriptedRunner()
	b := newTestBackend(r, WithInterface("Ethernet"))

	if err := b.Set(context.Background(), "8.8.8.8", ""); err != nil {
		t.Fatal(err)
	}
	if len(r.calls) != 1 {
		t.Errorf("calls = %q", r.calls)
	}
}

func TestSet_SecondaryFailureIgnored(t *testing.T) {
	r := newScriptedRunner()
	r.failures["netsh interface ipv4 add dnsservers Ethernet 8.8.4.4 index=2 validate=no"] =
		&sshutil.ExitError{Command: "netsh", ExitCode: 1, Output: "The object already exists."}
	b := newTestBackend(r, WithInterface("Ethernet"))

	if err := b.Set(context.Background(), "8.8.8.8", "8.8.4.4"); err != nil {
		t.Errorf("Set() error = %v, want nil", err)
	}
}

func TestSet_Elevation(t *testing.T) {
	r := newScriptedRunner()
	r.failures["netsh interface ipv4 set dnsservers Ethernet static 1.1.1.1 primary validate=no"] =
		&sshutil.ExitError{Command: "netsh", ExitCode: 1, Output: elevationOutput}
	b := newTestBackend(r, WithInterface("Ethernet"))

	err := b.Set(context.Background(), "1.1.1.1", "1.0.0.1")
	if !backend.IsPermission(err) {
		t.Fatalf("Set() error = %v, want permission", err)
	}
	if len(r.calls) != 1 {
		t.Errorf("secondary attempted after primary failure: %q", r.calls)
	}
}

func TestReset(t *testing.T) {
	r := newScriptedRunner()
	r.responses["netsh interface show interface"] = interfacesOutput
	r.failures["netsh interface ipv4 delete dnsservers Ethernet all"] =
		&sshutil.ExitError{Command: "netsh", ExitCode: 1, Output: "The system cannot find the file specified."}
	b := newTestBackend(r)

	if err := b.Reset(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"netsh interface show interface",
		"netsh interface ipv4 set dnsservers Ethernet source=dhcp",
		"netsh interface ipv4 delete dnsservers Ethernet all",
		"ipconfig /flushdns",
	}
	if !slices.Equal(r.calls, want) {
		t.Errorf("calls = %q\nwant %q", r.calls, want)
	}
}

func TestReset_Elevation(t *testing.T) {
	r := newScriptedRunner()
	r.failures["netsh interface ipv4 set dnsservers Ethernet source=dhcp"] =
		&sshutil.ExitError{Command: "netsh", ExitCode: 1, Output: elevationOutput}
	b := newTestBackend(r, WithInterface("Ethernet"))

	if err := b.Reset(context.Background()); !backend.IsPermission(err) {
		t.Errorf("Reset() error = %v, want permission", err)
	}
}

func TestPing_MissingTool(t *testing.T) {
	r := newScriptedRunner()
	r.failures["netsh interface show interface"] = fmt.Errorf("running netsh: %w", exec.ErrNotFound)
	b := newTestBackend(r)

	if err := b.Ping(context.Background()); !backend.IsUnavailable(err) {
		t.Errorf("Ping() error = %v, want unavailable", err)
	}
}
