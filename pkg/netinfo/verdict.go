package netinfo

// Verdict is the overall reachability assessment of the desktop
type Verdict int

const (
	// VerdictUnknown means the checks were inconclusive
	VerdictUnknown Verdict = iota

	// VerdictReady means phones on the same network should connect
	VerdictReady

	// VerdictFirewallBlocked means no inbound allow rule was found
	VerdictFirewallBlocked

	// VerdictPortInUse means another process holds the port
	VerdictPortInUse

	// VerdictGatewayUnreachable means the local network looks broken
	VerdictGatewayUnreachable

	// VerdictNoNetwork means no usable local address was found
	VerdictNoNetwork
)

// Checks are the facts Assess reasons about
type Checks struct {
	Addresses        []Address
	PortAvailable    bool
	FirewallChecked  bool
	FirewallRule     bool
	GatewayChecked   bool
	GatewayReachable bool
	WireGuard        []WireGuardDevice
}

// String returns a human-readable description of the verdict
func (v Verdict) String() string {
	switch v {
	case VerdictReady:
		return "Ready"
	case VerdictFirewallBlocked:
		return "Firewall Blocked"
	case VerdictPortInUse:
		return "Port In Use"
	case VerdictGatewayUnreachable:
		return "Gateway Unreachable"
	case VerdictNoNetwork:
		return "No Network"
	default:
		return "Unknown"
	}
}

// Recommendations returns suggestions for getting a phone connected
func (v Verdict) Recommendations() []string {
	switch v {
	case VerdictReady:
		return []string{
			"Open http://<address>:<port>/ping from the phone using one of the listed addresses",
			"Phone and desktop must be on the same WiFi network or the same VPN",
		}
	case VerdictFirewallBlocked:
		return []string{
			"Allow the port through the firewall: reachcheck firewall install",
			"Run the command as administrator",
			"Temporarily disable the firewall to confirm it is the cause",
		}
	case VerdictPortInUse:
		return []string{
			"Another program is using the port, or binding it needs administrator rights",
			"Stop the other program, run as administrator, or start ReachCheck with --port",
		}
	case VerdictGatewayUnreachable:
		return []string{
			"The router did not answer ping",
			"Check the WiFi connection and restart the router if needed",
			"Some routers enable AP isolation which blocks device-to-device traffic",
		}
	case VerdictNoNetwork:
		return []string{
			"No local network address was found",
			"Connect to WiFi or start the VPN client and retry",
		}
	default:
		return []string{
			"Unable to determine connectivity",
			"If the phone is on mobile data, connect it to the same WiFi or VPN",
		}
	}
}

// Assess maps the collected checks to one verdict, most severe first
func Assess(c Checks) Verdict {
	switch {
	case len(c.Addresses) == 0 && len(c.WireGuard) == 0:
		return VerdictNoNetwork
	case !c.PortAvailable:
		return VerdictPortInUse
	case c.FirewallChecked && !c.FirewallRule:
		return VerdictFirewallBlocked
	case c.GatewayChecked && !c.GatewayReachable:
		return VerdictGatewayUnreachable
	case c.FirewallChecked && c.GatewayChecked:
		return VerdictReady
	default:
		return VerdictUnknown
	}
}
