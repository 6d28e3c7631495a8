package server

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danialdehvan/ReachCheck/pkg/classify"
	"github.com/danialdehvan/ReachCheck/pkg/firewall"
	"github.com/danialdehvan/ReachCheck/pkg/netinfo"
	"github.com/danialdehvan/ReachCheck/pkg/platform"
)

func TestProbeSnapshotVerdicts(t *testing.T) {
	const rule = "ReachCheck 8090"
	withRule := "-A INPUT -p tcp -m comment --comment \"ReachCheck 8090\" -j ACCEPT\n"

	cases := []struct {
		name      string
		iptables  string
		reachable bool
		want      netinfo.Verdict
	}{
		{"ready", withRule, true, netinfo.VerdictReady},
		{"firewall blocked", "-P INPUT ACCEPT\n", true, netinfo.VerdictFirewallBlocked},
		{"gateway down", withRule, false, netinfo.VerdictGatewayUnreachable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := platform.NewFake()
			f.Set("iptables -S INPUT", platform.Result{Stdout: tc.iptables})

			p := &Probe{
				Classifier:    classify.New(classify.DefaultRules(), ""),
				Runner:        f,
				Firewall:      firewall.NewManagerFor(f, "linux"),
				RuleName:      rule,
				PortAvailable: true,
				Gateway: func(context.Context, platform.Runner) netinfo.GatewayStatus {
					return netinfo.GatewayStatus{Address: "192.168.1.1", Reachable: tc.reachable}
				},
				WireGuard: func(context.Context) ([]netinfo.WireGuardDevice, error) {
					return []netinfo.WireGuardDevice{{Name: "wg0", Type: "Linux kernel", ListenPort: 51820}}, nil
				},
			}

			snap := p.Snapshot(context.Background(), "192.168.1.50")
			if snap.Verdict != tc.want.String() {
				t.Errorf("verdict = %q, want %q", snap.Verdict, tc.want)
			}
			if len(snap.Recommendations) == 0 {
				t.Error("no recommendations")
			}
			if snap.ConnectionType != classify.LabelWiFi {
				t.Errorf("connection_type = %q", snap.ConnectionType)
			}
			if snap.Firewall == nil || snap.Gateway == nil || len(snap.WireGuard) != 1 {
				t.Errorf("snapshot sections missing: %+v", snap)
			}
		})
	}
}

func TestProbeReportsCollaboratorErrors(t *testing.T) {
	p := &Probe{
		Classifier: classify.New(classify.DefaultRules(), ""),
		Runner:     platform.NewFake(),
		Firewall:   firewall.NewManagerFor(platform.NewFake(), "plan9"),
		WireGuard: func(context.Context) ([]netinfo.WireGuardDevice, error) {
			return nil, errors.New("permission denied")
		},
		Gateway: func(context.Context, platform.Runner) netinfo.GatewayStatus {
			return netinfo.GatewayStatus{Error: "no gateway"}
		},
		PortAvailable: true,
	}

	snap := p.Snapshot(context.Background(), "")
	if snap.Firewall == nil || snap.Firewall.Error == "" {
		t.Errorf("firewall error not reported: %+v", snap.Firewall)
	}
	if snap.WireGuardError != "permission denied" {
		t.Errorf("wireguard error = %q", snap.WireGuardError)
	}
	if snap.Gateway == nil || snap.Gateway.Error != "no gateway" {
		t.Errorf("gateway = %+v", snap.Gateway)
	}
	if snap.Verdict != netinfo.VerdictNoNetwork.String() {
		t.Errorf("verdict = %q", snap.Verdict)
	}
	if snap.Caller != nil {
		t.Error("caller enrichment without client address")
	}
}

func TestProbeLabelsLocalAddresses(t *testing.T) {
	f := platform.NewFake()
	f.Set("ipconfig", platform.Result{Stdout: "Adaptador de Ethernet OpenVPN TAP:\n   Direccion IPv4. . . : 10.0.11.6\n"})

	p := &Probe{
		Classifier:    classify.New(classify.DefaultRules(), ""),
		Discoverer:    netinfo.NewDiscovererFor(f, "windows"),
		PortAvailable: true,
	}
	snap := p.Snapshot(context.Background(), "10.0.11.9")

	found := false
	for _, a := range snap.LocalAddresses {
		if a.IP == "10.0.11.6" {
			found = true
			if a.ConnectionType != classify.LabelOpenVPN {
				t.Errorf("label = %q", a.ConnectionType)
			}
		}
	}
	if !found {
		t.Errorf("ipconfig address missing: %+v", snap.LocalAddresses)
	}
}

func TestProbeSnapshotHonoursTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	f := platform.NewFake()
	f.Set("iptables -S INPUT", platform.Result{Stdout: "-P INPUT ACCEPT\n"})

	p := &Probe{
		Classifier:    classify.New(classify.DefaultRules(), ""),
		Runner:        f,
		Firewall:      firewall.NewManagerFor(f, "linux"),
		RuleName:      "ReachCheck 8090",
		Timeout:       100 * time.Millisecond,
		PortAvailable: true,
		// Neither stub looks at its context
		WireGuard: func(context.Context) ([]netinfo.WireGuardDevice, error) {
			<-release
			return nil, nil
		},
		Gateway: func(context.Context, platform.Runner) netinfo.GatewayStatus {
			<-release
			return netinfo.GatewayStatus{Address: "192.168.1.1", Reachable: true}
		},
	}

	start := time.Now()
	snap := p.Snapshot(context.Background(), "192.168.1.50")
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Snapshot took %v with a 100ms timeout", elapsed)
	}

	if !snap.Incomplete {
		t.Error("snapshot not marked incomplete")
	}
	if !strings.Contains(snap.WireGuardError, "timed out") {
		t.Errorf("wireguard error = %q", snap.WireGuardError)
	}
	if snap.Gateway == nil || !strings.Contains(snap.Gateway.Error, "timed out") {
		t.Errorf("gateway = %+v", snap.Gateway)
	}
	if snap.Firewall == nil || snap.Firewall.Name != "ReachCheck 8090" {
		t.Errorf("firewall = %+v", snap.Firewall)
	}
	if snap.Verdict == "" || snap.ConnectionType != classify.LabelWiFi {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestWithinReturnsResultBeforeDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := within(ctx, func(context.Context) int { return 7 })
	if err != nil || got != 7 {
		t.Errorf("within = %d, %v", got, err)
	}

	cancel()
	_, err = within(ctx, func(ctx context.Context) int {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return 1
	})
	if !errors.Is(err, errTimedOut) || !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}
