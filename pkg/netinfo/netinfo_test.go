package netinfo

import (
	"context"
	"errors"
	"net"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/pion/stun"

	"github.com/danialdehvan/ReachCheck/pkg/platform"
)

const ipconfigOutput = `
Windows IP Configuration


Ethernet adapter Ethernet:

   Media State . . . . . . . . . . . : Media disconnected

Wireless LAN adapter Wi-Fi:

   Connection-specific DNS Suffix  . : home
   IPv4 Address. . . . . . . . . . . : 192.168.1.34
   Subnet Mask . . . . . . . . . . . : 255.255.255.0
   Default Gateway . . . . . . . . . : 192.168.1.1

Adaptador de Ethernet OpenVPN TAP:

   Dirección IPv4. . . . . . . . . . : 10.0.11.6(Preferido)

Unknown adapter Loopback Pseudo:

   IPv4 Address. . . . . . . . . . . : 127.0.0.1
`

func TestParseIPConfig(t *testing.T) {
	got := ParseIPConfig(ipconfigOutput)
	want := []Address{
		{IP: "192.168.1.34", Interface: "Wireless LAN adapter Wi-Fi", Source: SourceIPConfig},
		{IP: "10.0.11.6", Interface: "Adaptador de Ethernet OpenVPN TAP", Source: SourceIPConfig},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseIPConfig =\n%+v\nwant\n%+v", got, want)
	}
}

func TestParseIPConfigIgnoresAddressesOutsideAdapters(t *testing.T) {
	if got := ParseIPConfig("IPv4 Address: 192.168.1.34\n"); len(got) != 0 {
		t.Errorf("expected nothing, got %+v", got)
	}
	if got := ParseIPConfig(""); len(got) != 0 {
		t.Errorf("expected nothing, got %+v", got)
	}
}

func TestDedupeFirstSourceWins(t *testing.T) {
	got := dedupe([]Address{
		{IP: "192.168.1.34", Source: SourceOutbound},
		{IP: "192.168.1.34", Interface: "wlan0", Source: SourceInterface},
		{IP: "10.0.11.6", Interface: "tun0", Source: SourceInterface},
		{IP: "10.0.11.6", Interface: "OpenVPN", Source: SourceIPConfig},
		{IP: ""},
	})
	want := []Address{
		{IP: "192.168.1.34", Interface: "wlan0", Source: SourceOutbound},
		{IP: "10.0.11.6", Interface: "tun0", Source: SourceInterface},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("dedupe =\n%+v\nwant\n%+v", got, want)
	}
	if ips := Addresses(got); !reflect.DeepEqual(ips, []string{"192.168.1.34", "10.0.11.6"}) {
		t.Errorf("Addresses = %q", ips)
	}
}

func TestDiscoverRunsIPConfigOnWindowsOnly(t *testing.T) {
	f := platform.NewFake()
	f.Set("ipconfig", platform.Result{Stdout: ipconfigOutput})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	NewDiscovererFor(f, "linux").Discover(ctx)
	if calls := f.Calls(); len(calls) != 0 {
		t.Fatalf("linux discoverer ran %q", calls)
	}

	addrs := NewDiscovererFor(f, "windows").Discover(ctx)
	found := false
	for _, a := range addrs {
		if a.IP == "10.0.11.6" {
			found = true
		}
	}
	if !found {
		t.Errorf("ipconfig address missing from %+v", addrs)
	}
	seen := map[string]bool{}
	for _, a := range addrs {
		if seen[a.IP] {
			t.Errorf("duplicate address %s in %+v", a.IP, addrs)
		}
		seen[a.IP] = true
	}
}

func TestPingFor(t *testing.T) {
	f := platform.NewFake()
	f.Set("ping -n 1 -w 1000 192.168.1.1", platform.Result{})
	f.Set("ping -c 1 -W 1 192.168.1.1", platform.Result{ExitCode: 1})

	if !PingFor(context.Background(), f, "windows", "192.168.1.1") {
		t.Error("windows ping should succeed")
	}
	if PingFor(context.Background(), f, "linux", "192.168.1.1") {
		t.Error("linux ping should fail")
	}
}

func TestPortAvailable(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	if PortAvailable(port) {
		t.Errorf("port %d is held but reported available", port)
	}
	err = CheckPort(port)
	if err == nil {
		t.Fatalf("CheckPort(%d) succeeded on a held port", port)
	}
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		t.Errorf("CheckPort error %T does not carry the bind error: %v", err, err)
	}
}

func TestWireGuardDevicesHonoursCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := WireGuardDevices(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestStunClientAgainstLocalServer(t *testing.T) {
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	defer pc.Close()

	go func() {
		buf := make([]byte, 1500)
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		req := &stun.Message{Raw: buf[:n]}
		if err := req.Decode(); err != nil {
			return
		}
		resp, err := stun.Build(
			stun.NewTransactionIDSetter(req.TransactionID),
			stun.BindingSuccess,
			&stun.XORMappedAddress{IP: net.ParseIP("203.0.113.7"), Port: 40000},
		)
		if err != nil {
			return
		}
		pc.WriteTo(resp.Raw, addr)
	}()

	server := net.JoinHostPort("127.0.0.1", strconv.Itoa(pc.LocalAddr().(*net.UDPAddr).Port))
	client := NewStunClient([]string{server}, 2*time.Second)

	ep, err := client.DiscoverPublicEndpoint(context.Background())
	if err != nil {
		t.Fatalf("DiscoverPublicEndpoint: %v", err)
	}
	if !ep.IP.Equal(net.ParseIP("203.0.113.7")) || ep.Port != 40000 {
		t.Errorf("endpoint = %s", ep)
	}
	if ep.String() != "203.0.113.7:40000" {
		t.Errorf("String() = %q", ep.String())
	}
}

func TestStunClientNoServers(t *testing.T) {
	c := &StunClient{timeout: time.Second}
	if _, err := c.DiscoverPublicEndpoint(context.Background()); err == nil {
		t.Error("expected error with no servers")
	}
}

func TestAssess(t *testing.T) {
	lan := []Address{{IP: "192.168.1.34", Source: SourceOutbound}}
	cases := []struct {
		name   string
		checks Checks
		want   Verdict
	}{
		{"no addresses", Checks{PortAvailable: true}, VerdictNoNetwork},
		{"port taken", Checks{Addresses: lan}, VerdictPortInUse},
		{"firewall missing", Checks{Addresses: lan, PortAvailable: true, FirewallChecked: true}, VerdictFirewallBlocked},
		{"gateway down", Checks{Addresses: lan, PortAvailable: true, FirewallChecked: true, FirewallRule: true, GatewayChecked: true}, VerdictGatewayUnreachable},
		{"all good", Checks{Addresses: lan, PortAvailable: true, FirewallChecked: true, FirewallRule: true, GatewayChecked: true, GatewayReachable: true}, VerdictReady},
		{"firewall unchecked", Checks{Addresses: lan, PortAvailable: true, GatewayChecked: true, GatewayReachable: true}, VerdictUnknown},
		{"wireguard only", Checks{PortAvailable: true, WireGuard: []WireGuardDevice{{Name: "wg0"}}}, VerdictUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Assess(tc.checks)
			if got != tc.want {
				t.Errorf("Assess = %s, want %s", got, tc.want)
			}
			if len(got.Recommendations()) == 0 {
				t.Errorf("%s has no recommendations", got)
			}
		})
	}
}
