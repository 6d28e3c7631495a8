// Package netinfo discovers the desktop's own network view: local addresses,
// the default gateway, the public endpoint and WireGuard devices.
package netinfo

import (
	"context"
	"fmt"
	"net"
	"os"
	"regexp"
	"runtime"
	"strings"

	"github.com/danialdehvan/ReachCheck/pkg/platform"
)

// Address sources, in the order Discover merges them
const (
	SourceOutbound  = "outbound"
	SourceHostname  = "hostname"
	SourceInterface = "interface"
	SourceIPConfig  = "ipconfig"
)

// Address is one local IPv4 address and where it was found
type Address struct {
	IP        string `json:"ip"`
	Interface string `json:"interface,omitempty"`
	Source    string `json:"source"`
}

var ipv4Pattern = regexp.MustCompile(`(\d+\.\d+\.\d+\.\d+)`)

// OutboundAddress returns the local address the kernel would use to reach
// the internet. Dialing UDP sends no packet.
func OutboundAddress(ctx context.Context) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", "8.8.8.8:80")
	if err != nil {
		return "", fmt.Errorf("failed to pick outbound address: %w", err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP == nil {
		return "", fmt.Errorf("unexpected local address %v", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}

// HostnameAddresses resolves the machine's hostname to IPv4 addresses
func HostnameAddresses(ctx context.Context) ([]string, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to read hostname: %w", err)
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve hostname %s: %w", host, err)
	}
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		out = append(out, ip.String())
	}
	return out, nil
}

// InterfaceAddresses lists IPv4 addresses on interfaces that are up and not loopback
func InterfaceAddresses() ([]Address, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []Address
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				out = append(out, Address{IP: ip4.String(), Interface: iface.Name, Source: SourceInterface})
			}
		}
	}
	return out, nil
}

// ParseIPConfig extracts adapter addresses from Windows ipconfig output.
// English and Spanish adapter headers are recognised.
func ParseIPConfig(output string) []Address {
	var out []Address
	adapter := ""
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "adapter") || strings.Contains(lower, "adaptador"):
			adapter = strings.TrimSuffix(line, ":")
		case strings.Contains(line, "IPv4") && adapter != "":
			ip := ipv4Pattern.FindString(line)
			if ip == "" || ip == "127.0.0.1" {
				continue
			}
			out = append(out, Address{IP: ip, Interface: adapter, Source: SourceIPConfig})
		}
	}
	return out
}

// Discoverer merges every address source into one list
type Discoverer struct {
	runner platform.Runner
	goos   string
}

// NewDiscoverer creates a discoverer for the current operating system
func NewDiscoverer(runner platform.Runner) *Discoverer {
	return &Discoverer{runner: runner, goos: runtime.GOOS}
}

// NewDiscovererFor creates a discoverer that behaves as on goos
func NewDiscovererFor(runner platform.Runner, goos string) *Discoverer {
	return &Discoverer{runner: runner, goos: goos}
}

// Discover returns local addresses with duplicates removed; the first source
// to report an address wins. Sources that fail are skipped.
func (d *Discoverer) Discover(ctx context.Context) []Address {
	var all []Address

	if ip, err := OutboundAddress(ctx); err == nil {
		all = append(all, Address{IP: ip, Source: SourceOutbound})
	}
	if ips, err := HostnameAddresses(ctx); err == nil {
		for _, ip := range ips {
			all = append(all, Address{IP: ip, Source: SourceHostname})
		}
	}
	if addrs, err := InterfaceAddresses(); err == nil {
		all = append(all, addrs...)
	}
	if d.goos == "windows" && d.runner != nil {
		if res := d.runner.Run(ctx, "ipconfig"); res.Err == nil {
			all = append(all, ParseIPConfig(res.Stdout)...)
		}
	}

	return dedupe(all)
}

// Addresses flattens a list to its IP strings
func Addresses(list []Address) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.IP)
	}
	return out
}

func dedupe(list []Address) []Address {
	seen := make(map[string]int, len(list))
	out := make([]Address, 0, len(list))
	for _, a := range list {
		if a.IP == "" {
			continue
		}
		if i, ok := seen[a.IP]; ok {
			// Keep the first source but pick up an interface name seen later
			if out[i].Interface == "" {
				out[i].Interface = a.Interface
			}
			continue
		}
		seen[a.IP] = len(out)
		out = append(out, a)
	}
	return out
}
