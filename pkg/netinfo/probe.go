package netinfo

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"strconv"

	"github.com/jackpal/gateway"
	"golang.zx2c4.com/wireguard/wgctrl"

	"github.com/danialdehvan/ReachCheck/pkg/platform"
)

// GatewayStatus reports the default gateway and whether it answers ping
type GatewayStatus struct {
	Address   string `json:"address,omitempty"`
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

// WireGuardDevice is a summary of one local WireGuard interface
type WireGuardDevice struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	PublicKey  string `json:"public_key"`
	ListenPort int    `json:"listen_port"`
	Peers      int    `json:"peers"`
}

// Gateway returns the default gateway address
func Gateway() (string, error) {
	ip, err := gateway.DiscoverGateway()
	if err != nil {
		return "", fmt.Errorf("failed to discover default gateway: %w", err)
	}
	return ip.String(), nil
}

// Ping sends one ICMP echo to host using the system ping command
func Ping(ctx context.Context, runner platform.Runner, host string) bool {
	return PingFor(ctx, runner, runtime.GOOS, host)
}

// PingFor is Ping with the command flavour chosen by goos
func PingFor(ctx context.Context, runner platform.Runner, goos, host string) bool {
	var res platform.Result
	switch goos {
	case "windows":
		res = runner.Run(ctx, "ping", "-n", "1", "-w", "1000", host)
	default:
		res = runner.Run(ctx, "ping", "-c", "1", "-W", "1", host)
	}
	return res.OK()
}

// CheckGateway discovers the gateway and pings it
func CheckGateway(ctx context.Context, runner platform.Runner) GatewayStatus {
	addr, err := Gateway()
	if err != nil {
		return GatewayStatus{Error: err.Error()}
	}
	return GatewayStatus{Address: addr, Reachable: Ping(ctx, runner, addr)}
}

// WireGuardDevices lists WireGuard interfaces visible to this process
func WireGuardDevices(ctx context.Context) ([]WireGuardDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("failed to open wireguard control: %w", err)
	}
	defer client.Close()

	devices, err := client.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list wireguard devices: %w", err)
	}

	out := make([]WireGuardDevice, 0, len(devices))
	for _, d := range devices {
		out = append(out, WireGuardDevice{
			Name:       d.Name,
			Type:       d.Type.String(),
			PublicKey:  d.PublicKey.String(),
			ListenPort: d.ListenPort,
			Peers:      len(d.Peers),
		})
	}
	return out, nil
}

// CheckPort tries to bind a TCP listener on port on all interfaces and returns
// the bind error, if any
func CheckPort(port int) error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}
	return ln.Close()
}

// PortAvailable reports whether CheckPort succeeds
func PortAvailable(port int) bool {
	return CheckPort(port) == nil
}
