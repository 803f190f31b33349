package dryrun

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"gitlab.bluewillows.net/root/dnsswitch/pkg/backend"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestConfigFromMap(t *testing.T) {
	cfg, err := ConfigFromMap(map[string]string{
		KeyInterface:        "Wi-Fi",
		KeyServers:          "1.1.1.1, 1.0.0.1",
		KeyPropagationDelay: "250ms",
		KeyRejectSecondary:  "true",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.InterfaceName != "Wi-Fi" || cfg.PropagationDelay != 250*time.Millisecond || !cfg.RejectSecondary {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.Initial.Automatic || !slices.Equal(cfg.Initial.Servers, []string{"1.1.1.1", "1.0.0.1"}) {
		t.Errorf("Initial = %+v", cfg.Initial)
	}

	cfg, err = ConfigFromMap(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Initial.Automatic || cfg.InterfaceName != DefaultInterfaceName {
		t.Errorf("default config = %+v", cfg)
	}

	for _, bad := range []map[string]string{
		{KeyPropagationDelay: "soon"},
		{KeyPropagationDelay: "-1s"},
		{KeyFailWrites: "maybe"},
	} {
		if _, err := ConfigFromMap(bad); err == nil {
			t.Errorf("ConfigFromMap(%v) expected error", bad)
		}
	}
}

func TestSetAndReset(t *testing.T) {
	b := New("test", nil, WithLogger(discard))
	ctx := context.Background()

	if err := b.Set(ctx, "9.9.9.9", "149.112.112.112"); err != nil {
		t.Fatal(err)
	}
	st, _ := b.Query(ctx)
	want := backend.State{InterfaceName: DefaultInterfaceName, Servers: []string{"9.9.9.9", "149.112.112.112"}}
	if !st.Equal(want) {
		t.Errorf("after Set = %+v", st)
	}

	if err := b.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	st, _ = b.Query(ctx)
	if !st.Automatic || len(st.Servers) != 0 {
		t.Errorf("after Reset = %+v", st)
	}
	if b.Writes() != 2 {
		t.Errorf("Writes() = %d", b.Writes())
	}
}

func TestRejectSecondary(t *testing.T) {
	b := New("test", &Config{InterfaceName: "eth0", RejectSecondary: true}, WithLogger(discard))

	if err := b.Set(context.Background(), "8.8.8.8", "8.8.4.4"); err != nil {
		t.Fatal(err)
	}
	st, _ := b.Query(context.Background())
	if !slices.Equal(st.Servers, []string{"8.8.8.8"}) {
		t.Errorf("servers = %v", st.Servers)
	}
}

func TestPropagationDelay(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := New("test", &Config{
		InterfaceName:    "eth0",
		Initial:          backend.State{InterfaceName: "eth0", Automatic: true},
		PropagationDelay: time.Second,
	}, WithLogger(discard), WithClock(clock.now))
	ctx := context.Background()

	if err := b.Set(ctx, "1.1.1.1", ""); err != nil {
		t.Fatal(err)
	}

	st, _ := b.Query(ctx)
	if !st.Automatic {
		t.Errorf("write visible before delay: %+v", st)
	}

	clock.advance(999 * time.Millisecond)
	if st, _ = b.Query(ctx); !st.Automatic {
		t.Errorf("write visible before delay: %+v", st)
	}

	clock.advance(time.Millisecond)
	st, _ = b.Query(ctx)
	if st.Automatic || st.Primary() != "1.1.1.1" {
		t.Errorf("write not visible after delay: %+v", st)
	}
}

func TestFailWrites(t *testing.T) {
	b := New("test", &Config{InterfaceName: "eth0", FailWrites: true}, WithLogger(discard))

	if err := b.Set(context.Background(), "1.1.1.1", ""); !backend.IsPermission(err) {
		t.Errorf("Set() error = %v, want permission", err)
	}
	if err := b.Reset(context.Background()); !backend.IsPermission(err) {
		t.Errorf("Reset() error = %v, want permission", err)
	}
	if b.Writes() != 0 {
		t.Errorf("Writes() = %d", b.Writes())
	}
}

func TestQuery_ReturnsCopy(t *testing.T) {
	b := New("test", &Config{
		InterfaceName: "eth0",
		Initial:       backend.State{InterfaceName: "eth0", Servers: []string{"1.1.1.1"}},
	}, WithLogger(discard))

	st, _ := b.Query(context.Background())
	st.Servers[0] = "6.6.6.6"

	st, _ = b.Query(context.Background())
	if st.Primary() != "1.1.1.1" {
		t.Errorf("internal state mutated: %+v", st)
	}
}

func TestQuery_CancelledContext(t *testing.T) {
	b := New("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Query(ctx); err == nil {
		t.Error("expected error for cancelled context")
	}
}
