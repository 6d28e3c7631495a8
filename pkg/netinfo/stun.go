package netinfo

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pion/stun"
)

// DefaultStunServers are used when the configuration lists none
var DefaultStunServers = []string{
	"stun.l.google.com:19302",
	"stun1.l.google.com:19302",
	"stun2.l.google.com:19302",
}

// Endpoint represents a public endpoint (IP:port)
type Endpoint struct {
	IP   net.IP
	Port int
}

// String returns a string representation of the endpoint
func (e Endpoint) String() string {
	if e.IP == nil {
		return ""
	}
	return net.JoinHostPort(e.IP.String(), strconv.Itoa(e.Port))
}

// StunClient asks STUN servers which address the desktop appears from
type StunClient struct {
	servers []string
	timeout time.Duration
}

// NewStunClient creates a client that tries servers in order
func NewStunClient(servers []string, timeout time.Duration) *StunClient {
	if len(servers) == 0 {
		servers = DefaultStunServers
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &StunClient{servers: servers, timeout: timeout}
}

// DiscoverPublicEndpoint returns the first endpoint any server reports
func (c *StunClient) DiscoverPublicEndpoint(ctx context.Context) (Endpoint, error) {
	var lastErr error
	for _, server := range c.servers {
		if err := ctx.Err(); err != nil {
			return Endpoint{}, err
		}
		ep, err := c.discoverWithServer(ctx, server)
		if err == nil {
			return ep, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return Endpoint{}, fmt.Errorf("all STUN servers failed: %w", lastErr)
	}
	return Endpoint{}, fmt.Errorf("no STUN servers available")
}

func (c *StunClient) discoverWithServer(ctx context.Context, server string) (Endpoint, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp4", server)
	if err != nil {
		return Endpoint{}, fmt.Errorf("failed to connect to STUN server %s: %w", server, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return Endpoint{}, fmt.Errorf("failed to set deadline: %w", err)
	}

	request := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	if _, err := conn.Write(request.Raw); err != nil {
		return Endpoint{}, fmt.Errorf("failed to send STUN request: %w", err)
	}

	buf := make([]byte, 1500)
	n, err := conn.Read(buf)
	if err != nil {
		return Endpoint{}, fmt.Errorf("failed to read STUN response from %s: %w", server, err)
	}

	return decodeBindingResponse(buf[:n])
}

func decodeBindingResponse(raw []byte) (Endpoint, error) {
	response := &stun.Message{Raw: raw}
	if err := response.Decode(); err != nil {
		return Endpoint{}, fmt.Errorf("failed to decode STUN response: %w", err)
	}

	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(response); err != nil {
		return Endpoint{}, fmt.Errorf("failed to get XOR-MAPPED-ADDRESS: %w", err)
	}
	return Endpoint{IP: xorAddr.IP, Port: xorAddr.Port}, nil
}
