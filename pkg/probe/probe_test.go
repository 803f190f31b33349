package probe

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
)

func startResolver(t *testing.T, rcode int) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen packet: %v", err)
	}

	started := make(chan struct{})
	server := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			m.SetRcode(r, rcode)
			if rcode == dns.RcodeSuccess {
				rr, _ := dns.NewRR(". 60 IN NS a.root-servers.net.")
				m.Answer = append(m.Answer, rr)
			}
			_ = w.WriteMsg(m)
		}),
	}
	go func() { _ = server.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = server.Shutdown() })

	return pc.LocalAddr().String()
}

func TestProbe(t *testing.T) {
	addr := startResolver(t, dns.RcodeSuccess)

	rtt, err := Probe(context.Background(), addr, time.Second)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if rtt <= 0 {
		t.Errorf("rtt = %v", rtt)
	}
}

func TestProbe_ServerFailure(t *testing.T) {
	addr := startResolver(t, dns.RcodeServerFailure)

	_, err := Probe(context.Background(), addr, time.Second)
	if !errors.Is(err, ErrBadRcode) {
		t.Errorf("Probe() error = %v, want ErrBadRcode", err)
	}
}

func TestProbe_NXDomainCountsAsServing(t *testing.T) {
	addr := startResolver(t, dns.RcodeNameError)

	if _, err := Probe(context.Background(), addr, time.Second); err != nil {
		t.Errorf("Probe() error = %v", err)
	}
}

func TestProbe_Timeout(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer pc.Close()

	start := time.Now()
	if _, err := Probe(context.Background(), pc.LocalAddr().String(), 100*time.Millisecond); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("probe took %v", elapsed)
	}
}

func TestProbe_EmptyAddress(t *testing.T) {
	if _, err := Probe(context.Background(), "", time.Second); err == nil {
		t.Error("expected error for empty address")
	}
}
