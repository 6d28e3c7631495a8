package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/danialdehvan/ReachCheck/pkg/classify"
	"github.com/danialdehvan/ReachCheck/pkg/enrich"
	"github.com/danialdehvan/ReachCheck/pkg/firewall"
	"github.com/danialdehvan/ReachCheck/pkg/netinfo"
	"github.com/danialdehvan/ReachCheck/pkg/platform"
)

// Diagnostics gathers the data behind /info. Implementations report failures
// inside the snapshot instead of returning them.
type Diagnostics interface {
	Snapshot(ctx context.Context, clientIP string) InfoSnapshot
}

// LabeledAddress is a local address with its connection type
type LabeledAddress struct {
	netinfo.Address
	ConnectionType string `json:"connection_type"`
}

// InfoSnapshot is the /info payload
type InfoSnapshot struct {
	ClientIP       string         `json:"client_ip"`
	ConnectionType string         `json:"connection_type"`
	ServerTime     string         `json:"server_time,omitempty"`
	Caller         *enrich.Result `json:"caller,omitempty"`

	LocalAddresses []LabeledAddress          `json:"local_addresses"`
	AddressesError string                    `json:"local_addresses_error,omitempty"`
	Firewall       *firewall.RuleStatus      `json:"firewall_status,omitempty"`
	Gateway        *netinfo.GatewayStatus    `json:"gateway,omitempty"`
	PublicEndpoint string                    `json:"public_endpoint,omitempty"`
	StunError      string                    `json:"public_endpoint_error,omitempty"`
	WireGuard      []netinfo.WireGuardDevice `json:"wireguard_devices,omitempty"`
	WireGuardError string                    `json:"wireguard_error,omitempty"`

	Verdict         string   `json:"verdict"`
	Recommendations []string `json:"recommendations"`

	// Incomplete is set when at least one check hit the probe deadline
	Incomplete bool `json:"incomplete,omitempty"`
}

// Probe is the Diagnostics implementation backed by the real system. Any nil
// collaborator is skipped.
type Probe struct {
	Classifier *classify.Classifier
	Runner     platform.Runner
	Discoverer *netinfo.Discoverer
	Firewall   *firewall.Manager
	RuleName   string
	Stun       *netinfo.StunClient
	Enricher   *enrich.Enricher
	Timeout    time.Duration

	// PortAvailable is measured once before the server binds the port
	PortAvailable bool

	// WireGuard lists WireGuard devices; nil disables the check
	WireGuard func(ctx context.Context) ([]netinfo.WireGuardDevice, error)

	// Gateway checks the default gateway; nil disables the check
	Gateway func(ctx context.Context, runner platform.Runner) netinfo.GatewayStatus
}

// Snapshot runs every check in parallel, bounded by the probe timeout. A check
// still running at the deadline is abandoned and reported as timed out.
func (p *Probe) Snapshot(ctx context.Context, clientIP string) InfoSnapshot {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		snap     InfoSnapshot
		addrs    []netinfo.Address
		addrErr  error
		caller   enrich.Result
		fw       firewall.RuleStatus
		gw       netinfo.GatewayStatus
		wg       wireGuardResult
		endpoint stunResult
	)

	// Each goroutine writes only its own variables
	g, gctx := errgroup.WithContext(ctx)
	if p.Discoverer != nil {
		g.Go(func() error {
			var err error
			addrs, err = within(gctx, p.Discoverer.Discover)
			addrErr = err
			return err
		})
	}
	if p.Enricher != nil && clientIP != "" {
		g.Go(func() error {
			var err error
			caller, err = within(gctx, func(ctx context.Context) enrich.Result {
				return p.Enricher.Lookup(ctx, clientIP)
			})
			return err
		})
	}
	if p.Firewall != nil {
		g.Go(func() error {
			var err error
			fw, err = within(gctx, func(ctx context.Context) firewall.RuleStatus {
				return p.Firewall.Status(ctx, p.RuleName)
			})
			if err != nil {
				fw = firewall.RuleStatus{Name: p.RuleName, Error: err.Error()}
			}
			return err
		})
	}
	if p.Gateway != nil && p.Runner != nil {
		g.Go(func() error {
			var err error
			gw, err = within(gctx, func(ctx context.Context) netinfo.GatewayStatus {
				return p.Gateway(ctx, p.Runner)
			})
			if err != nil {
				gw = netinfo.GatewayStatus{Error: err.Error()}
			}
			return err
		})
	}
	if p.WireGuard != nil {
		g.Go(func() error {
			var err error
			wg, err = within(gctx, func(ctx context.Context) wireGuardResult {
				devs, err := p.WireGuard(ctx)
				return wireGuardResult{devs, err}
			})
			if err != nil {
				wg = wireGuardResult{err: err}
			}
			return err
		})
	}
	if p.Stun != nil {
		g.Go(func() error {
			var err error
			endpoint, err = within(gctx, func(ctx context.Context) stunResult {
				ep, err := p.Stun.DiscoverPublicEndpoint(ctx)
				return stunResult{ep, err}
			})
			if err != nil {
				endpoint = stunResult{err: err}
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		snap.Incomplete = true
	}

	snap.ClientIP = clientIP
	snap.ConnectionType = p.Classifier.Classify(clientIP)
	snap.LocalAddresses = make([]LabeledAddress, 0, len(addrs))
	for _, a := range addrs {
		snap.LocalAddresses = append(snap.LocalAddresses, LabeledAddress{
			Address:        a,
			ConnectionType: p.Classifier.Classify(a.IP),
		})
	}
	if addrErr != nil {
		snap.AddressesError = addrErr.Error()
	}

	checks := netinfo.Checks{
		Addresses:     addrs,
		PortAvailable: p.PortAvailable,
		WireGuard:     wg.devices,
	}
	if p.Enricher != nil && clientIP != "" {
		snap.Caller = &caller
	}
	if p.Firewall != nil {
		snap.Firewall = &fw
		checks.FirewallChecked = fw.Error == ""
		checks.FirewallRule = fw.Exists
	}
	if p.Gateway != nil && p.Runner != nil {
		snap.Gateway = &gw
		checks.GatewayChecked = gw.Error == ""
		checks.GatewayReachable = gw.Reachable
	}
	if p.WireGuard != nil {
		snap.WireGuard = wg.devices
		if wg.err != nil {
			snap.WireGuardError = wg.err.Error()
		}
	}
	if p.Stun != nil {
		if endpoint.err != nil {
			snap.StunError = endpoint.err.Error()
		} else {
			snap.PublicEndpoint = endpoint.ep.String()
		}
	}

	verdict := netinfo.Assess(checks)
	snap.Verdict = verdict.String()
	snap.Recommendations = verdict.Recommendations()
	return snap
}

type wireGuardResult struct {
	devices []netinfo.WireGuardDevice
	err     error
}

type stunResult struct {
	ep  netinfo.Endpoint
	err error
}

// errTimedOut marks a check abandoned at the probe deadline
var errTimedOut = errors.New("timed out")

// within runs fn in its own goroutine and gives up when ctx is done. The
// abandoned goroutine finishes into a buffered channel nobody reads.
func within[T any](ctx context.Context, fn func(context.Context) T) (T, error) {
	ch := make(chan T, 1)
	go func() { ch <- fn(ctx) }()
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%w: %w", errTimedOut, ctx.Err())
	}
}
