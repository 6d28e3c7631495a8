package firewall

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/danialdehvan/ReachCheck/pkg/platform"
)

// ErrUnsupported is returned on platforms with no known firewall tool
var ErrUnsupported = errors.New("firewall management not supported on this platform")

// RuleStatus is the firewall section of the diagnostic payload
type RuleStatus struct {
	Name           string `json:"name"`
	Exists         bool   `json:"firewall_rule_exists"`
	Recommendation string `json:"recommendation"`
	Error          string `json:"error,omitempty"`
}

// Manager checks for and creates a named inbound allow rule
type Manager struct {
	runner platform.Runner
	goos   string
}

// NewManager creates a manager for the current operating system
func NewManager(runner platform.Runner) *Manager {
	return NewManagerFor(runner, runtime.GOOS)
}

// NewManagerFor creates a manager that issues commands for goos
func NewManagerFor(runner platform.Runner, goos string) *Manager {
	return &Manager{runner: runner, goos: goos}
}

// RuleExists reports whether an inbound rule with the given name is present
func (m *Manager) RuleExists(ctx context.Context, name string) (bool, error) {
	switch m.goos {
	case "windows":
		return m.ruleExistsWindows(ctx, name)
	case "linux":
		return m.ruleExistsLinux(ctx, name)
	default:
		return false, ErrUnsupported
	}
}

// InstallRule creates an inbound TCP allow rule for port
func (m *Manager) InstallRule(ctx context.Context, name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	switch m.goos {
	case "windows":
		return m.installWindows(ctx, name, port)
	case "linux":
		return m.installLinux(ctx, name, port)
	default:
		return ErrUnsupported
	}
}

// Status probes the rule and turns the outcome into a report; it never fails
func (m *Manager) Status(ctx context.Context, name string) RuleStatus {
	st := RuleStatus{Name: name}
	exists, err := m.RuleExists(ctx, name)
	if err != nil {
		st.Error = err.Error()
		st.Recommendation = "Could not check firewall; allow the port manually"
		return st
	}
	st.Exists = exists
	if exists {
		st.Recommendation = "Rule configured correctly"
	} else {
		st.Recommendation = "Create the rule with: reachcheck firewall install"
	}
	return st
}

// Platform-specific implementations
func (m *Manager) ruleExistsWindows(ctx context.Context, name string) (bool, error) {
	res := m.runner.Run(ctx, "netsh", "advfirewall", "firewall", "show", "rule", "name="+name, "dir=in")
	if res.Err != nil {
		return false, fmt.Errorf("netsh: %w", res.Err)
	}
	// netsh exits 1 with "No rules match" when the rule is absent
	return strings.Contains(res.Stdout, name), nil
}

func (m *Manager) installWindows(ctx context.Context, name string, port int) error {
	// Drop any stale rule with the same name first
	m.runner.Run(ctx, "netsh", "advfirewall", "firewall", "delete", "rule", "name="+name)

	res := m.runner.Run(ctx, "netsh", "advfirewall", "firewall", "add", "rule",
		"name="+name, "dir=in", "action=allow", "protocol=TCP", "localport="+strconv.Itoa(port))
	if !res.OK() {
		return commandError("netsh add rule", res)
	}
	return nil
}

func (m *Manager) ruleExistsLinux(ctx context.Context, name string) (bool, error) {
	res := m.runner.Run(ctx, "iptables", "-S", "INPUT")
	if !res.OK() {
		return false, commandError("iptables -S", res)
	}
	quoted := `--comment "` + name + `"`
	bare := "--comment " + name
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if strings.Contains(line, quoted) || strings.HasSuffix(line, bare) || strings.Contains(line, bare+" ") {
			return true, nil
		}
	}
	return false, nil
}

func (m *Manager) installLinux(ctx context.Context, name string, port int) error {
	exists, err := m.ruleExistsLinux(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	res := m.runner.Run(ctx, "iptables", "-I", "INPUT", "-p", "tcp", "--dport", strconv.Itoa(port),
		"-m", "comment", "--comment", name, "-j", "ACCEPT")
	if !res.OK() {
		return commandError("iptables -I", res)
	}
	return nil
}

func commandError(what string, res platform.Result) error {
	if res.Err != nil {
		return fmt.Errorf("%s: %w", what, res.Err)
	}
	msg := strings.TrimSpace(res.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(res.Stdout)
	}
	return fmt.Errorf("%s failed (exit %d): %s - try running as administrator", what, res.ExitCode, msg)
}
